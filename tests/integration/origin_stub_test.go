package integration

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// originStub 模拟一个可变内容的源站，记录每个路径与方法的命中次数。
type originStub struct {
	*httptest.Server

	mu        sync.Mutex
	bodies    map[string]string
	pathHits  map[string]int
	methodHit map[string]int
	allowed   string
}

func newOriginStub(t *testing.T, allowOrigin string) *originStub {
	t.Helper()
	stub := &originStub{
		bodies:    map[string]string{},
		pathHits:  map[string]int{},
		methodHit: map[string]int{},
		allowed:   allowOrigin,
	}
	stub.Server = httptest.NewServer(http.HandlerFunc(stub.serve))
	t.Cleanup(stub.Close)
	return stub
}

func (s *originStub) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.pathHits[r.URL.Path]++
	s.methodHit[r.Method]++
	body, ok := s.bodies[r.URL.Path]
	s.mu.Unlock()

	if s.allowed != "" {
		w.Header().Set("Access-Control-Allow-Origin", s.allowed)
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusCreated)
	}
	_, _ = w.Write([]byte(body))
}

func (s *originStub) setBody(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[path] = body
}

func (s *originStub) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pathHits[path]
}

func (s *originStub) methodHits(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.methodHit[method]
}
