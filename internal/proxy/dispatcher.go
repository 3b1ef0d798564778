package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/precache/internal/cache"
	"github.com/any-hub/precache/internal/fetch"
	"github.com/any-hub/precache/internal/logging"
)

// Options 汇总构建 Dispatcher 所需依赖。
type Options struct {
	Origin  string
	Version string
	Storage cache.Storage
	Fetcher fetch.Fetcher
	Logger  *logrus.Logger
}

// Dispatcher 按请求 origin 选择策略：同源走 StaleWhileRevalidate，跨域走 CacheFirst。
// 非 GET 或非 http(s) 请求直接放行，Dispatcher 自身不读写缓存。
type Dispatcher struct {
	origin      string
	sameOrigin  Strategy
	crossOrigin Strategy
	logger      *logrus.Logger
	pending     *sync.WaitGroup
}

// NewDispatcher 构造默认策略组合，两种策略共享同一存储与网络层。
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Storage == nil {
		return nil, errors.New("cache storage required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	if opts.Version == "" {
		return nil, errors.New("cache version required")
	}
	origin, err := fetch.ParseOrigin(opts.Origin)
	if err != nil {
		return nil, fmt.Errorf("app origin: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	pending := &sync.WaitGroup{}
	return &Dispatcher{
		origin:      origin,
		sameOrigin:  NewStaleWhileRevalidate(opts.Storage, opts.Version, opts.Fetcher, logger, pending),
		crossOrigin: NewCacheFirst(opts.Storage, opts.Version, opts.Fetcher, logger),
		logger:      logger,
		pending:     pending,
	}, nil
}

// Origin 返回应用 origin，用于区分同源/跨域。
func (d *Dispatcher) Origin() string {
	return d.origin
}

// Route 返回 req 将使用的策略；放行的请求返回 nil。
func (d *Dispatcher) Route(req fetch.Request) Strategy {
	if req.Method != http.MethodGet || !req.IsHTTP() {
		return nil
	}
	if req.Origin() == d.origin {
		return d.sameOrigin
	}
	return d.crossOrigin
}

// Handle 是一次纯粹的拦截调用，宿主负责把 Outcome 交付给客户端。
func (d *Dispatcher) Handle(ctx context.Context, req fetch.Request) (Outcome, error) {
	strategy := d.Route(req)
	if strategy == nil {
		return Outcome{Kind: OutcomePassthrough}, nil
	}
	return d.invoke(ctx, strategy, req)
}

func (d *Dispatcher) invoke(ctx context.Context, strategy Strategy, req fetch.Request) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panic: %v", strategy.Name(), r)
			out = failed(strategy.Name())
			d.logger.WithFields(logging.RequestFields(strategy.Name(), req.Origin(), req.Method, req.URL.String(), false)).
				Error(err.Error())
		}
	}()
	out, err = strategy.Serve(ctx, req)
	if out.Strategy == "" {
		out.Strategy = strategy.Name()
	}
	return out, err
}

// Wait 阻塞直到所有后台刷新完成。
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}
