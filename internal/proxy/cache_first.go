package proxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/precache/internal/cache"
	"github.com/any-hub/precache/internal/fetch"
	"github.com/any-hub/precache/internal/logging"
)

// CacheFirst 在所有缓存代中查找，命中即返回且不访问网络；未命中时回源，
// 仅把 200 且类型为 basic/cors 的响应写入当前代。回源失败返回 OutcomeNoResponse。
type CacheFirst struct {
	storage cache.Storage
	version string
	fetcher fetch.Fetcher
	logger  *logrus.Logger
}

// NewCacheFirst 构造跨域策略，读取全部缓存代，只写入 version 指定的当前代。
func NewCacheFirst(storage cache.Storage, version string, fetcher fetch.Fetcher, logger *logrus.Logger) *CacheFirst {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CacheFirst{
		storage: storage,
		version: version,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Name 返回策略名 cache-first。
func (s *CacheFirst) Name() string {
	return StrategyCacheFirst
}

// Serve 命中任一缓存代即返回；未命中时回源并按 cacheable 决定是否写入。
// 回源失败不返回错误，而是 OutcomeNoResponse。
func (s *CacheFirst) Serve(ctx context.Context, req fetch.Request) (Outcome, error) {
	cached, err := s.storage.Match(ctx, req)
	switch {
	case err == nil:
		return respond(s.Name(), cached, true), nil
	case !errors.Is(err, cache.ErrNotFound):
		s.logger.WithFields(s.fields(req)).WithError(err).Warn("cache_match_failed")
	}

	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		s.logger.WithFields(s.fields(req)).WithError(err).Debug("cache_first_no_response")
		return Outcome{Kind: OutcomeNoResponse, Strategy: s.Name()}, nil
	}
	if !cacheable(resp) {
		return respond(s.Name(), resp, false), nil
	}

	stored, returned, err := resp.Duplicate()
	if err != nil {
		return failed(s.Name()), err
	}
	s.store(ctx, req, stored)
	return respond(s.Name(), returned, false), nil
}

func (s *CacheFirst) store(ctx context.Context, req fetch.Request, resp *fetch.Response) {
	gen, err := s.storage.Open(ctx, s.version)
	if err == nil {
		err = gen.Put(ctx, req, resp)
	}
	if err != nil {
		s.logger.WithFields(s.fields(req)).WithError(err).Warn("cache_store_failed")
	}
}

// cacheable 只接受 200 且可读的响应，opaque 响应永远不写入。
func cacheable(resp *fetch.Response) bool {
	if resp == nil || resp.Status != http.StatusOK {
		return false
	}
	return resp.Type == fetch.ResponseTypeBasic || resp.Type == fetch.ResponseTypeCORS
}

func (s *CacheFirst) fields(req fetch.Request) logrus.Fields {
	fields := logging.RequestFields(s.Name(), req.Origin(), req.Method, req.URL.String(), false)
	fields["generation"] = s.version
	return fields
}
