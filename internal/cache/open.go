package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// 支持的存储后端。
const (
	BackendFS      = "fs"
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
	BackendMinio   = "minio"
)

// Options 选择并配置存储后端，由 CLI 根据全局配置填充。
type Options struct {
	Backend string
	Path    string
	Minio   MinioOptions
}

// Open 按 Options.Backend 构建 Storage，空值默认使用磁盘目录。
func Open(ctx context.Context, opts Options) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFS:
		return NewFileStorage(opts.Path)
	case BackendLevelDB:
		return NewLevelDBStorage(filepath.Join(opts.Path, "leveldb"))
	case BackendMemory:
		return NewMemoryStorage(), nil
	case BackendMinio:
		return NewMinioStorage(ctx, opts.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", opts.Backend)
	}
}
