package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StorageBackend != "fs" {
		t.Fatalf("StorageBackend 默认应为 fs，实际 %s", cfg.Global.StorageBackend)
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应被转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 0 {
		t.Fatalf("UpstreamTimeout 默认不应设置超时")
	}
	if cfg.Global.InstallConcurrency != 2 {
		t.Fatalf("InstallConcurrency 应当被解析")
	}
	if cfg.App.CacheVersion != "app-v3" {
		t.Fatalf("CacheVersion 解析错误: %s", cfg.App.CacheVersion)
	}
	if len(cfg.App.Manifest) != 4 {
		t.Fatalf("Manifest 条目数量错误: %v", cfg.App.Manifest)
	}
	same, cross := cfg.App.ManifestSummary()
	if same != 3 || cross != 1 {
		t.Fatalf("ManifestSummary 统计错误: %d %d", same, cross)
	}
}

func TestLoadMinioSection(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "minio.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Minio.Endpoint != "127.0.0.1:9000" || cfg.Minio.Bucket != "precache" {
		t.Fatalf("Minio 段解析错误: %+v", cfg.Minio)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %v", cfg.Global.UpstreamTimeout.DurationValue())
	}
}

func TestValidateRejectsMissingVersion(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	_, err := Load(cfgPath)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "CacheVersion" {
		t.Fatalf("缺少 CacheVersion 应返回字段错误，实际 %v", err)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateOrigin(t *testing.T) {
	testCases := []struct {
		name      string
		origin    string
		shouldErr bool
	}{
		{"https ok", "https://app.local", false},
		{"port ok", "http://localhost:8080", false},
		{"missing", "", true},
		{"path", "https://app.local/app", true},
		{"scheme", "ftp://app.local", true},
		{"no host", "https://", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Origin = tc.origin
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for origin %q", tc.origin)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for origin %q: %v", tc.origin, err)
			}
		})
	}
}

func TestValidateStorageBackend(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"memory without path", func(c *Config) { c.Global.StorageBackend = "memory"; c.Global.StoragePath = "" }, false},
		{"leveldb requires path", func(c *Config) { c.Global.StorageBackend = "leveldb"; c.Global.StoragePath = "" }, true},
		{"unknown backend", func(c *Config) { c.Global.StorageBackend = "redis" }, true},
		{"minio requires bucket", func(c *Config) {
			c.Global.StorageBackend = "minio"
			c.Minio = MinioConfig{Endpoint: "127.0.0.1:9000"}
		}, true},
		{"minio rejects scheme", func(c *Config) {
			c.Global.StorageBackend = "minio"
			c.Minio = MinioConfig{Endpoint: "http://127.0.0.1:9000", Bucket: "b"}
		}, true},
		{"minio ok", func(c *Config) {
			c.Global.StorageBackend = "minio"
			c.Minio = MinioConfig{Endpoint: "127.0.0.1:9000", Bucket: "b"}
		}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateManifestEntries(t *testing.T) {
	cfg := validConfig()
	cfg.App.Manifest = []string{"./index.html", "ftp://mirror.local/file"}
	var fieldErr FieldError
	if err := cfg.Validate(); !errors.As(err, &fieldErr) || fieldErr.Field != "Manifest[1]" {
		t.Fatalf("非 http 清单条目应报错，实际 %v", err)
	}
}

func TestValidateRejectsNegativeTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Global.UpstreamTimeout = Duration(-time.Second)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("负数超时应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:         5000,
			LogLevel:           "info",
			StorageBackend:     "fs",
			StoragePath:        "./data",
			InstallConcurrency: 4,
		},
		App: AppConfig{
			CacheVersion: "app-v1",
			Origin:       "https://app.local",
			Manifest:     []string{"./", "./index.html", "https://cdn.example.com/lib.js"},
		},
	}
}
