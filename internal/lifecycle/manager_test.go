package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/precache/internal/cache"
	"github.com/any-hub/precache/internal/fetch"
)

const testOrigin = "https://app.local"

// stubNetwork 按 URL 返回预设响应，未登记的 URL 视为网络错误。
type stubNetwork struct {
	mu     sync.Mutex
	routes map[string]int
	calls  map[string]int
}

func newStubNetwork(routes map[string]int) *stubNetwork {
	return &stubNetwork{routes: routes, calls: map[string]int{}}
}

func (n *stubNetwork) Fetch(_ context.Context, req fetch.Request) (*fetch.Response, error) {
	target := req.URL.String()
	n.mu.Lock()
	n.calls[target]++
	status, ok := n.routes[target]
	n.mu.Unlock()
	if !ok {
		return nil, errors.New("connection refused")
	}
	return fetch.NewResponse(status, nil, fetch.ResponseTypeBasic, []byte("body:"+target)), nil
}

func (n *stubNetwork) count(target string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[target]
}

func newTestManager(t *testing.T, store cache.Storage, network fetch.Fetcher, manifest []string, logger *logrus.Logger) *Manager {
	t.Helper()
	m, err := New(Options{
		Version:  "app-v2",
		Origin:   testOrigin,
		Manifest: manifest,
		Storage:  store,
		Fetcher:  network,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestInstallAttemptsEveryEntry(t *testing.T) {
	store := cache.NewMemoryStorage()
	network := newStubNetwork(map[string]int{
		"https://app.local/":                 http.StatusOK,
		"https://app.local/index.html":       http.StatusOK,
		"https://app.local/missing.js":       http.StatusNotFound,
		"https://cdn.example.com/lib.min.js": http.StatusOK,
	})
	manifest := []string{"./", "./index.html", "./missing.js", "./offline.css", "https://cdn.example.com/lib.min.js"}

	logBuf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(logBuf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	var skipped int32
	m := newTestManager(t, store, network, manifest, logger)
	report, err := m.Install(context.Background(), Signals{SkipWaiting: func() { atomic.AddInt32(&skipped, 1) }})
	if err != nil {
		t.Fatalf("install error: %v", err)
	}

	if len(report.Cached) != 3 {
		t.Fatalf("expected 3 cached entries, got %v", report.Cached)
	}
	if len(report.Failed) != 2 {
		t.Fatalf("expected 2 failures, got %+v", report.Failed)
	}
	if report.Failed[0].Entry != "./missing.js" || !errors.Is(report.Failed[0].Err, ErrUnexpectedStatus) {
		t.Fatalf("404 entry should fail with ErrUnexpectedStatus: %+v", report.Failed[0])
	}
	if report.Failed[1].Entry != "./offline.css" {
		t.Fatalf("failures should keep manifest order: %+v", report.Failed)
	}
	if atomic.LoadInt32(&skipped) != 1 {
		t.Fatalf("skip waiting should be signalled once")
	}
	if strings.Count(logBuf.String(), "precache_failed") != 2 {
		t.Fatalf("each failure should be logged: %s", logBuf.String())
	}

	gen, _ := store.Open(context.Background(), "app-v2")
	keys, _ := gen.Keys(context.Background())
	want := []string{
		"GET https://app.local/",
		"GET https://app.local/index.html",
		"GET https://cdn.example.com/lib.min.js",
	}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected cached keys: %v", keys)
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	store := cache.NewMemoryStorage()
	network := newStubNetwork(map[string]int{"https://app.local/index.html": http.StatusOK})
	m := newTestManager(t, store, network, []string{"./index.html"}, nil)

	for i := 0; i < 2; i++ {
		if _, err := m.Install(context.Background(), Signals{}); err != nil {
			t.Fatalf("install %d error: %v", i, err)
		}
	}
	names, _ := store.Keys(context.Background())
	if len(names) != 1 || names[0] != "app-v2" {
		t.Fatalf("repeated install should reuse the generation: %v", names)
	}
	gen, _ := store.Open(context.Background(), "app-v2")
	keys, _ := gen.Keys(context.Background())
	if len(keys) != 1 {
		t.Fatalf("repeated install should overwrite entries: %v", keys)
	}
	if network.count("https://app.local/index.html") != 2 {
		t.Fatalf("each install should refetch the manifest")
	}
}

func TestInstallFailsWhenGenerationCannotOpen(t *testing.T) {
	store := &faultyStorage{Storage: cache.NewMemoryStorage(), openErr: errors.New("disk full")}
	m := newTestManager(t, store, newStubNetwork(nil), []string{"./"}, nil)

	var skipped bool
	if _, err := m.Install(context.Background(), Signals{SkipWaiting: func() { skipped = true }}); err == nil {
		t.Fatalf("open failure should be returned")
	}
	if skipped {
		t.Fatalf("skip waiting must not be signalled when install fails")
	}
}

func TestActivateKeepsOnlyCurrentGeneration(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStorage()
	for _, name := range []string{"app-v1", "app-v2", "legacy-assets"} {
		if _, err := store.Open(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}

	var claimed bool
	m := newTestManager(t, store, newStubNetwork(nil), nil, nil)
	report, err := m.Activate(ctx, Signals{Claim: func() { claimed = true }})
	if err != nil {
		t.Fatalf("activate error: %v", err)
	}
	if strings.Join(report.Deleted, ",") != "app-v1,legacy-assets" {
		t.Fatalf("unexpected deleted generations: %v", report.Deleted)
	}
	names, _ := store.Keys(ctx)
	if len(names) != 1 || names[0] != "app-v2" {
		t.Fatalf("only the current generation should remain: %v", names)
	}
	if !claimed {
		t.Fatalf("claim should be signalled")
	}
}

func TestActivateWithoutCurrentGeneration(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStorage()
	_, _ = store.Open(ctx, "app-v1")

	m := newTestManager(t, store, newStubNetwork(nil), nil, nil)
	if _, err := m.Activate(ctx, Signals{}); err != nil {
		t.Fatalf("activate error: %v", err)
	}
	names, _ := store.Keys(ctx)
	if len(names) != 0 {
		t.Fatalf("stale generations should be removed even when current is absent: %v", names)
	}
}

func TestActivateDeletionIsBestEffort(t *testing.T) {
	ctx := context.Background()
	base := cache.NewMemoryStorage()
	for _, name := range []string{"app-v0", "app-v1", "app-v2"} {
		_, _ = base.Open(ctx, name)
	}
	store := &faultyStorage{Storage: base, deleteErr: map[string]error{"app-v0": errors.New("permission denied")}}

	var claimed bool
	m := newTestManager(t, store, newStubNetwork(nil), nil, nil)
	report, err := m.Activate(ctx, Signals{Claim: func() { claimed = true }})
	if err != nil {
		t.Fatalf("deletion failure must not be returned: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].Name != "app-v0" {
		t.Fatalf("failure should be recorded: %+v", report.Failed)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "app-v1" {
		t.Fatalf("other deletions should proceed: %v", report.Deleted)
	}
	if !claimed {
		t.Fatalf("claim should still be signalled")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	store := cache.NewMemoryStorage()
	network := newStubNetwork(nil)
	testCases := []struct {
		name string
		opts Options
	}{
		{"missing version", Options{Origin: testOrigin, Storage: store, Fetcher: network}},
		{"missing storage", Options{Version: "v1", Origin: testOrigin, Fetcher: network}},
		{"missing fetcher", Options{Version: "v1", Origin: testOrigin, Storage: store}},
		{"bad origin", Options{Version: "v1", Origin: "app.local", Storage: store, Fetcher: network}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.opts); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

// faultyStorage 在 memory 存储之上注入 Open/Delete 故障。
type faultyStorage struct {
	cache.Storage
	openErr   error
	deleteErr map[string]error
}

func (s *faultyStorage) Open(ctx context.Context, name string) (cache.Cache, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.Storage.Open(ctx, name)
}

func (s *faultyStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err, ok := s.deleteErr[name]; ok {
		return false, err
	}
	return s.Storage.Delete(ctx, name)
}
