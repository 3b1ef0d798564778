package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/precache/internal/cache"
	"github.com/any-hub/precache/internal/fetch"
	"github.com/any-hub/precache/internal/lifecycle"
	"github.com/any-hub/precache/internal/worker"
)

type staticSource struct {
	state   worker.State
	install lifecycle.InstallReport
}

func (s staticSource) State() worker.State { return s.state }
func (s staticSource) Controlling() bool   { return s.state == worker.StateActivated }
func (s staticSource) Version() string     { return "app-v2" }
func (s staticSource) Origin() string      { return "https://app.local" }
func (s staticSource) Reports() (lifecycle.InstallReport, lifecycle.ActivateReport) {
	return s.install, lifecycle.ActivateReport{Version: "app-v2", Deleted: []string{"app-v1"}}
}

func newDiagnosticsApp(t *testing.T) (*fiber.App, cache.Storage) {
	t.Helper()
	ctx := context.Background()
	store := cache.NewMemoryStorage()
	if _, err := store.Open(ctx, "app-v1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	gen, err := store.Open(ctx, "app-v2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, rawURL := range []string{"https://app.local/", "https://app.local/index.html"} {
		req, _ := fetch.NewRequest(http.MethodGet, rawURL, nil)
		if err := gen.Put(ctx, req, fetch.NewResponse(http.StatusOK, nil, fetch.ResponseTypeBasic, []byte("x"))); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	source := staticSource{
		state: worker.StateActivated,
		install: lifecycle.InstallReport{
			Version: "app-v2",
			Cached:  []string{"https://app.local/"},
			Failed:  []lifecycle.EntryFailure{{Entry: "./missing.js", Err: errors.New("404")}},
		},
	}
	app := fiber.New()
	RegisterDiagnosticsRoutes(app, source, store)
	return app, store
}

func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, target); err != nil {
		t.Fatalf("decode %s: %v", string(body), err)
	}
}

func TestStatusRouteReportsLifecycle(t *testing.T) {
	app, _ := newDiagnosticsApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload statusPayload
	decodeJSON(t, resp, &payload)
	if payload.State != "activated" || !payload.Controlling || payload.Version != "app-v2" {
		t.Fatalf("unexpected status payload: %+v", payload)
	}
	if len(payload.Install.Failed) != 1 || payload.Install.Failed[0].Name != "./missing.js" {
		t.Fatalf("install failures should be reported: %+v", payload.Install)
	}
	if len(payload.Activate.Deleted) != 1 {
		t.Fatalf("activate report should be included: %+v", payload.Activate)
	}
}

func TestGenerationsRouteListsEntries(t *testing.T) {
	app, _ := newDiagnosticsApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/-/generations", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Generations []generationPayload `json:"generations"`
	}
	decodeJSON(t, resp, &payload)
	if len(payload.Generations) != 2 {
		t.Fatalf("expected 2 generations, got %+v", payload.Generations)
	}
	if payload.Generations[0].Name != "app-v1" || payload.Generations[0].Current {
		t.Fatalf("older generation should be listed first: %+v", payload.Generations)
	}
	if payload.Generations[1].Entries != 2 || !payload.Generations[1].Current {
		t.Fatalf("current generation should report its entries: %+v", payload.Generations[1])
	}
}

func TestGenerationDetailRoute(t *testing.T) {
	app, store := newDiagnosticsApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/-/generations/app-v2", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Name    string   `json:"name"`
		Entries []string `json:"entries"`
	}
	decodeJSON(t, resp, &payload)
	if payload.Name != "app-v2" || len(payload.Entries) != 2 || payload.Entries[0] != "GET https://app.local/" {
		t.Fatalf("unexpected detail payload: %+v", payload)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/-/generations/app-v9", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("unknown generation should return 404, got %d", resp.StatusCode)
	}
	if has, _ := store.Has(context.Background(), "app-v9"); has {
		t.Fatalf("diagnostics must not create generations")
	}
}
