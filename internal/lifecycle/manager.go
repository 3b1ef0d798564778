package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/precache/internal/cache"
	"github.com/any-hub/precache/internal/fetch"
	"github.com/any-hub/precache/internal/logging"
)

// ErrUnexpectedStatus 表示清单条目的响应不是 2xx，不会被写入缓存。
var ErrUnexpectedStatus = errors.New("precache response not ok")

const defaultConcurrency = 4

// Signals 是 Manager 通知宿主的回调，nil 字段视为无操作。
type Signals struct {
	SkipWaiting func()
	Claim       func()
}

func (s Signals) skipWaiting() {
	if s.SkipWaiting != nil {
		s.SkipWaiting()
	}
}

func (s Signals) claim() {
	if s.Claim != nil {
		s.Claim()
	}
}

// Options 汇总构建 Manager 所需依赖，Version 即当前缓存代名称。
type Options struct {
	Version     string
	Origin      string
	Manifest    []string
	Storage     cache.Storage
	Fetcher     fetch.Fetcher
	Logger      *logrus.Logger
	Concurrency int
}

// EntryFailure 记录单个清单条目预缓存失败的原因。
type EntryFailure struct {
	Entry string
	URL   string
	Err   error
}

// InstallReport 汇总一次 Install 的结果，Cached 与 Failed 均保持清单顺序。
type InstallReport struct {
	Version  string
	Cached   []string
	Failed   []EntryFailure
	Duration time.Duration
}

// GenerationFailure 记录删除过期缓存代失败的原因。
type GenerationFailure struct {
	Name string
	Err  error
}

// ActivateReport 汇总一次 Activate 的结果。
type ActivateReport struct {
	Version string
	Kept    []string
	Deleted []string
	Failed  []GenerationFailure
}

// Manager 负责缓存代的 install/activate 生命周期。
type Manager struct {
	version     string
	origin      string
	manifest    []string
	storage     cache.Storage
	fetcher     fetch.Fetcher
	logger      *logrus.Logger
	concurrency int
}

// New 校验依赖并构建 Manager。
func New(opts Options) (*Manager, error) {
	if opts.Version == "" {
		return nil, errors.New("cache version required")
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	origin, err := fetch.ParseOrigin(opts.Origin)
	if err != nil {
		return nil, fmt.Errorf("app origin: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Manager{
		version:     opts.Version,
		origin:      origin,
		manifest:    append([]string(nil), opts.Manifest...),
		storage:     opts.Storage,
		fetcher:     opts.Fetcher,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Version 返回当前缓存代名称。
func (m *Manager) Version() string {
	return m.version
}

// Origin 返回标准化后的应用 origin。
func (m *Manager) Origin() string {
	return m.origin
}

// Storage 返回 Manager 使用的缓存存储，策略层与其共享同一实例。
func (m *Manager) Storage() cache.Storage {
	return m.storage
}

// Install 打开当前代并预缓存全部清单条目。单个条目失败只记录，不影响其他条目；
// 全部尝试结束后调用 signals.SkipWaiting。只有打开缓存代失败才返回错误。
func (m *Manager) Install(ctx context.Context, signals Signals) (InstallReport, error) {
	started := time.Now()
	report := InstallReport{Version: m.version}
	log := m.logger.WithFields(logging.LifecycleFields("install", m.version))

	gen, err := m.storage.Open(ctx, m.version)
	if err != nil {
		return report, fmt.Errorf("open generation %s: %w", m.version, err)
	}
	log.WithField("entries", len(m.manifest)).Info("precache_start")

	errs := make([]error, len(m.manifest))
	urls := make([]string, len(m.manifest))
	var eg errgroup.Group
	eg.SetLimit(m.concurrency)
	for i, entry := range m.manifest {
		eg.Go(func() error {
			urls[i], errs[i] = m.precache(ctx, gen, entry)
			return nil
		})
	}
	_ = eg.Wait()

	for i, entry := range m.manifest {
		if errs[i] != nil {
			report.Failed = append(report.Failed, EntryFailure{Entry: entry, URL: urls[i], Err: errs[i]})
			log.WithFields(logrus.Fields{
				"entry": entry,
				"url":   urls[i],
				"error": errs[i].Error(),
			}).Warn("precache_failed")
			continue
		}
		report.Cached = append(report.Cached, urls[i])
	}
	report.Duration = time.Since(started)

	log.WithFields(logrus.Fields{
		"cached":      len(report.Cached),
		"failed":      len(report.Failed),
		"duration_ms": report.Duration.Milliseconds(),
	}).Info("precache_complete")

	signals.skipWaiting()
	return report, nil
}

// precache 拉取并写入单个条目，仅接受 2xx 响应。
func (m *Manager) precache(ctx context.Context, gen cache.Cache, entry string) (string, error) {
	target, err := fetch.Resolve(m.origin, entry)
	if err != nil {
		return entry, err
	}
	req, err := fetch.NewRequest(http.MethodGet, target.String(), nil)
	if err != nil {
		return entry, err
	}
	identity := req.URL.String()

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return identity, fmt.Errorf("fetch: %w", err)
	}
	if !resp.OK() {
		_ = resp.Close()
		return identity, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.Status, resp.StatusText)
	}
	if err := gen.Put(ctx, req, resp); err != nil {
		return identity, fmt.Errorf("store: %w", err)
	}
	return identity, nil
}

// Activate 删除名称与当前版本不同的所有缓存代，随后调用 signals.Claim。
// 删除互不依赖、尽力而为；只有枚举缓存代失败才返回错误。
func (m *Manager) Activate(ctx context.Context, signals Signals) (ActivateReport, error) {
	report := ActivateReport{Version: m.version}
	log := m.logger.WithFields(logging.LifecycleFields("activate", m.version))

	names, err := m.storage.Keys(ctx)
	if err != nil {
		return report, fmt.Errorf("list generations: %w", err)
	}

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(m.concurrency)
	for _, name := range names {
		if name == m.version {
			report.Kept = append(report.Kept, name)
			continue
		}
		eg.Go(func() error {
			_, err := m.storage.Delete(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, GenerationFailure{Name: name, Err: err})
				log.WithFields(logrus.Fields{"generation": name, "error": err.Error()}).Warn("generation_delete_failed")
				return nil
			}
			report.Deleted = append(report.Deleted, name)
			log.WithField("generation", name).Info("generation_deleted")
			return nil
		})
	}
	_ = eg.Wait()

	sort.Strings(report.Deleted)
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Name < report.Failed[j].Name })

	log.WithFields(logrus.Fields{
		"deleted": len(report.Deleted),
		"failed":  len(report.Failed),
	}).Info("activate_complete")

	signals.claim()
	return report, nil
}
