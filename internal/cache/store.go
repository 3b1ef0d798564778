package cache

import (
	"context"
	"errors"

	"github.com/any-hub/precache/internal/fetch"
)

// Storage 管理全部缓存代（generation），语义对应 CacheStorage：
//
//	<backend>/<generation>/<sha1(request identity)>   # 编码后的响应快照
//
// 同一请求标识在同一代内只保留一份快照，重复写入即覆盖。
type Storage interface {
	// Open 打开指定代，不存在时创建。
	Open(ctx context.Context, name string) (Cache, error)

	// Has 报告指定代是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整代缓存，返回该代此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 按创建顺序返回所有代的名称。
	Keys(ctx context.Context) ([]string, error)

	// Match 按创建顺序在所有代中查找请求，未命中返回 ErrNotFound。
	Match(ctx context.Context, req fetch.Request) (*fetch.Response, error)

	// Close 释放底层存储句柄。
	Close() error
}

// Cache 是单个代的读写句柄。
type Cache interface {
	Name() string

	// Match 返回缓存的响应副本，未命中返回 ErrNotFound。
	Match(ctx context.Context, req fetch.Request) (*fetch.Response, error)

	// Put 消费 resp 正文并写入快照；非 GET 请求返回 ErrUnsupportedMethod。
	Put(ctx context.Context, req fetch.Request, resp *fetch.Response) error

	// Delete 删除单个条目，返回条目此前是否存在。
	Delete(ctx context.Context, req fetch.Request) (bool, error)

	// Keys 返回该代内全部请求标识。
	Keys(ctx context.Context) ([]string, error)
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrUnsupportedMethod 表示尝试缓存非 GET 请求。
	ErrUnsupportedMethod = errors.New("only GET requests can be cached")
	// ErrInvalidName 表示代名称为空或包含非法字符。
	ErrInvalidName = errors.New("invalid generation name")
)
