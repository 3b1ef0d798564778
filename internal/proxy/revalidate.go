package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/precache/internal/cache"
	"github.com/any-hub/precache/internal/fetch"
	"github.com/any-hub/precache/internal/logging"
)

// StaleWhileRevalidate 命中缓存时立即返回旧内容，同时在后台回源并覆盖当前代；
// 未命中时等待回源结果。写入不校验状态码与响应类型。
type StaleWhileRevalidate struct {
	storage cache.Storage
	version string
	fetcher fetch.Fetcher
	logger  *logrus.Logger
	pending *sync.WaitGroup
}

// NewStaleWhileRevalidate 构造同源策略，pending 用于追踪后台刷新，可为 nil。
func NewStaleWhileRevalidate(storage cache.Storage, version string, fetcher fetch.Fetcher, logger *logrus.Logger, pending *sync.WaitGroup) *StaleWhileRevalidate {
	if logger == nil {
		logger = logging.Discard()
	}
	if pending == nil {
		pending = &sync.WaitGroup{}
	}
	return &StaleWhileRevalidate{
		storage: storage,
		version: version,
		fetcher: fetcher,
		logger:  logger,
		pending: pending,
	}
}

// Name 返回策略名 stale-while-revalidate。
func (s *StaleWhileRevalidate) Name() string {
	return StrategyStaleWhileRevalidate
}

type fetchResult struct {
	resp *fetch.Response
	err  error
}

// Serve 并发执行缓存查找与回源：命中直接返回旧内容，未命中等待回源结果。
// 回源失败且没有缓存可用时返回错误。
func (s *StaleWhileRevalidate) Serve(ctx context.Context, req fetch.Request) (Outcome, error) {
	gen, err := s.storage.Open(ctx, s.version)
	if err != nil {
		return failed(s.Name()), fmt.Errorf("open generation %s: %w", s.version, err)
	}

	// 回源与请求生命周期解耦：命中缓存后请求结束，刷新仍需完成。
	done := make(chan fetchResult, 1)
	bg := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		resp, err := s.revalidate(bg, gen, req)
		done <- fetchResult{resp: resp, err: err}
	}()

	cached, err := gen.Match(ctx, req)
	switch {
	case err == nil:
		return respond(s.Name(), cached, true), nil
	case !errors.Is(err, cache.ErrNotFound):
		s.logger.WithFields(s.fields(req)).WithError(err).Warn("cache_match_failed")
	}

	select {
	case result := <-done:
		if result.err != nil {
			return failed(s.Name()), result.err
		}
		return respond(s.Name(), result.resp, false), nil
	case <-ctx.Done():
		return failed(s.Name()), ctx.Err()
	}
}

// revalidate 回源并把一份副本写入当前代，返回另一份副本。
func (s *StaleWhileRevalidate) revalidate(ctx context.Context, gen cache.Cache, req fetch.Request) (*fetch.Response, error) {
	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		s.logger.WithFields(s.fields(req)).WithError(err).Warn("revalidate_failed")
		return nil, err
	}
	stored, returned, err := resp.Duplicate()
	if err != nil {
		s.logger.WithFields(s.fields(req)).WithError(err).Warn("revalidate_failed")
		return nil, err
	}
	if err := gen.Put(ctx, req, stored); err != nil {
		s.logger.WithFields(s.fields(req)).WithError(err).Warn("revalidate_store_failed")
	}
	return returned, nil
}

func (s *StaleWhileRevalidate) fields(req fetch.Request) logrus.Fields {
	fields := logging.RequestFields(s.Name(), req.Origin(), req.Method, req.URL.String(), false)
	fields["generation"] = s.version
	return fields
}
