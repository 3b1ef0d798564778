package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

const supportedBackendList = "fs|leveldb|memory|minio"

var supportedBackends = map[string]struct{}{
	"fs":      {},
	"leveldb": {},
	"memory":  {},
	"minio":   {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", fmt.Sprintf("无法识别: %s", g.LogLevel))
		}
	}
	if _, ok := supportedBackends[g.StorageBackend]; !ok {
		return newFieldError("Global.StorageBackend", "仅支持 "+supportedBackendList)
	}
	if (g.StorageBackend == "fs" || g.StorageBackend == "leveldb") && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if g.InstallConcurrency < 1 {
		return newFieldError("Global.InstallConcurrency", "必须大于 0")
	}

	if g.StorageBackend == "minio" {
		if err := validateMinio(c.Minio); err != nil {
			return err
		}
	}

	return validateApp(c.App)
}

func validateApp(a AppConfig) error {
	if a.CacheVersion == "" {
		return newFieldError("CacheVersion", "不能为空")
	}
	if a.CacheVersion == "." || a.CacheVersion == ".." || strings.ContainsRune(a.CacheVersion, 0) {
		return newFieldError("CacheVersion", "包含非法字符")
	}
	if err := validateOrigin(a.Origin); err != nil {
		return fmt.Errorf("Origin: %w", err)
	}
	for i, entry := range a.Manifest {
		if entry == "" {
			return newFieldError(manifestField(i), "不能为空")
		}
		parsed, err := url.Parse(entry)
		if err != nil {
			return newFieldError(manifestField(i), err.Error())
		}
		if parsed.Scheme != "" && parsed.Scheme != "http" && parsed.Scheme != "https" {
			return newFieldError(manifestField(i), fmt.Sprintf("仅支持 http/https: %s", entry))
		}
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少应用 origin")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，origin: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("origin 缺少 Host: %s", raw)
	}
	if parsed.Path != "" || parsed.RawQuery != "" {
		return fmt.Errorf("origin 不允许包含路径或查询: %s", raw)
	}
	return nil
}

func validateMinio(m MinioConfig) error {
	if m.Endpoint == "" {
		return newFieldError("Minio.Endpoint", "不能为空")
	}
	if strings.Contains(m.Endpoint, "://") {
		return newFieldError("Minio.Endpoint", "不应包含协议头，使用 UseSSL 控制")
	}
	if m.Bucket == "" {
		return newFieldError("Minio.Bucket", "不能为空")
	}
	if (m.AccessKey == "") != (m.SecretKey == "") {
		return newFieldError("Minio.AccessKey/SecretKey", "必须同时提供或同时留空")
	}
	return nil
}
