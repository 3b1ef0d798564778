package fetch

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
)

func TestResponseDuplicateYieldsIndependentCopies(t *testing.T) {
	resp := NewResponse(http.StatusOK, http.Header{"Content-Type": {"text/plain"}}, ResponseTypeCORS, []byte("payload"))

	first, second, err := resp.Duplicate()
	if err != nil {
		t.Fatalf("duplicate failed: %v", err)
	}

	a, _ := io.ReadAll(first.Body)
	b, _ := io.ReadAll(second.Body)
	if string(a) != "payload" || string(b) != "payload" {
		t.Fatalf("copies should both read the full body, got %q and %q", a, b)
	}

	first.Header.Set("Content-Type", "changed")
	if second.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("headers should not be shared between copies")
	}
	if second.Type != ResponseTypeCORS || second.Status != http.StatusOK {
		t.Fatalf("metadata lost on duplicate: %+v", second)
	}
}

func TestResponseBodyReadOnce(t *testing.T) {
	resp := NewResponse(http.StatusOK, nil, ResponseTypeBasic, []byte("once"))
	if _, err := resp.Bytes(); err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if _, err := resp.Bytes(); !errors.Is(err, ErrBodyUsed) {
		t.Fatalf("second read should fail with ErrBodyUsed, got %v", err)
	}
	if _, _, err := resp.Duplicate(); !errors.Is(err, ErrBodyUsed) {
		t.Fatalf("duplicate after read should fail with ErrBodyUsed, got %v", err)
	}
	if !resp.Used() {
		t.Fatalf("response should report used")
	}
}

func TestIdentityAndOrigin(t *testing.T) {
	req, err := NewRequest("get", "https://CDN.example.com:443/lib.js?v=1#frag", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if got := req.Identity(); got != "GET https://CDN.example.com:443/lib.js?v=1" {
		t.Fatalf("unexpected identity: %s", got)
	}
	if got := req.Origin(); got != "https://cdn.example.com" {
		t.Fatalf("unexpected origin: %s", got)
	}
	if req.Mode != ModeCORS {
		t.Fatalf("missing Sec-Fetch-Mode should default to cors, got %s", req.Mode)
	}

	u, _ := url.Parse("http://[::1]:8080/x")
	if got := Origin(u); got != "http://[::1]:8080" {
		t.Fatalf("unexpected ipv6 origin: %s", got)
	}
}

func TestParseOriginRejectsPaths(t *testing.T) {
	if _, err := ParseOrigin("https://app.local/sub"); err == nil {
		t.Fatalf("origin with path should be rejected")
	}
	if _, err := ParseOrigin("ftp://app.local"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
	got, err := ParseOrigin("https://App.Local/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://app.local" {
		t.Fatalf("unexpected origin: %s", got)
	}
}

func TestResolveManifestEntries(t *testing.T) {
	testCases := []struct {
		entry string
		want  string
	}{
		{"./", "https://app.local/"},
		{"./index.html", "https://app.local/index.html"},
		{"/icon-192.png", "https://app.local/icon-192.png"},
		{"https://cdn.tailwindcss.com", "https://cdn.tailwindcss.com"},
	}
	for _, tc := range testCases {
		got, err := Resolve("https://app.local", tc.entry)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.entry, err)
		}
		if got.String() != tc.want {
			t.Fatalf("resolve %s: expected %s, got %s", tc.entry, tc.want, got)
		}
	}
}
