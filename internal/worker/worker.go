package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/precache/internal/fetch"
	"github.com/any-hub/precache/internal/lifecycle"
	"github.com/any-hub/precache/internal/logging"
	"github.com/any-hub/precache/internal/proxy"
)

// State 对应宿主中 worker 的生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// ErrAlreadyStarted 表示 Start 被重复调用。
var ErrAlreadyStarted = errors.New("worker already started")

// Options 汇总 Worker 的依赖。
type Options struct {
	Manager    *lifecycle.Manager
	Dispatcher *proxy.Dispatcher
	Fetcher    fetch.Fetcher
	Logger     *logrus.Logger
}

// Worker 驱动 install → activate 生命周期，并在接管客户端后把请求交给 Dispatcher。
// 接管之前所有请求都按未受控客户端处理，直接放行。
type Worker struct {
	manager    *lifecycle.Manager
	dispatcher *proxy.Dispatcher
	fetcher    fetch.Fetcher
	logger     *logrus.Logger

	// lifecycleMu 保证 install 与 activate 不会交叠。
	lifecycleMu sync.Mutex

	mu          sync.RWMutex
	state       State
	started     bool
	skipWaiting bool
	controlling bool
	install     lifecycle.InstallReport
	activate    lifecycle.ActivateReport
}

func New(opts Options) (*Worker, error) {
	if opts.Manager == nil {
		return nil, errors.New("lifecycle manager required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		manager:    opts.Manager,
		dispatcher: opts.Dispatcher,
		fetcher:    opts.Fetcher,
		logger:     logger,
		state:      StateParsed,
	}, nil
}

// Start 执行 install；install 发出 skip-waiting 信号后立即 activate。
// install 失败时 worker 进入 redundant，请求继续直接放行。
func (w *Worker) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	w.setState(StateInstalling)
	installReport, err := w.manager.Install(ctx, lifecycle.Signals{SkipWaiting: w.markSkipWaiting})
	w.mu.Lock()
	w.install = installReport
	w.mu.Unlock()
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("install: %w", err)
	}
	w.setState(StateInstalled)

	if !w.shouldActivate() {
		return nil
	}
	return w.activateLocked(ctx)
}

// Activate 手动触发激活，用于未发出 skip-waiting 的 installed 状态。
func (w *Worker) Activate(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if state := w.State(); state != StateInstalled {
		return fmt.Errorf("cannot activate worker in state %s", state)
	}
	return w.activateLocked(ctx)
}

func (w *Worker) activateLocked(ctx context.Context) error {
	w.setState(StateActivating)
	report, err := w.manager.Activate(ctx, lifecycle.Signals{Claim: w.claim})
	w.mu.Lock()
	w.activate = report
	w.mu.Unlock()
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("activate: %w", err)
	}
	w.setState(StateActivated)
	return nil
}

func (w *Worker) markSkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
}

func (w *Worker) shouldActivate() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

func (w *Worker) claim() {
	w.mu.Lock()
	w.controlling = true
	w.mu.Unlock()
	w.logger.WithFields(logging.LifecycleFields("claim", w.manager.Version())).Info("clients_claimed")
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	prev := w.state
	w.state = state
	w.mu.Unlock()
	w.logger.WithFields(logging.LifecycleFields(string(state), w.manager.Version())).
		WithField("previous", string(prev)).
		Info("worker_state_changed")
}

// State 返回当前生命周期状态。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Controlling 报告 worker 是否已接管客户端。
func (w *Worker) Controlling() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.controlling
}

// Reports 返回最近一次 install/activate 的结果。
func (w *Worker) Reports() (lifecycle.InstallReport, lifecycle.ActivateReport) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.install, w.activate
}

// Version 返回当前缓存代名称。
func (w *Worker) Version() string {
	return w.manager.Version()
}

// Origin 返回应用 origin。
func (w *Worker) Origin() string {
	return w.manager.Origin()
}

// Fetch 是宿主的 fetch 事件入口：未接管时放行，否则交给 Dispatcher。
func (w *Worker) Fetch(ctx context.Context, req fetch.Request) (proxy.Outcome, error) {
	if !w.Controlling() {
		return proxy.Outcome{Kind: proxy.OutcomePassthrough}, nil
	}
	return w.dispatcher.Handle(ctx, req)
}

// Passthrough 直接访问网络，不经过任何缓存。
func (w *Worker) Passthrough(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	return w.fetcher.Fetch(ctx, req)
}

// Drain 等待所有后台刷新完成，用于优雅退出。
func (w *Worker) Drain() {
	w.dispatcher.Wait()
}
