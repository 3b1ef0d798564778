package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// ErrCORSRejected 表示 cors 模式的跨域响应未携带允许当前 origin 的 Access-Control-Allow-Origin。
var ErrCORSRejected = errors.New("cross-origin response rejected")

// Fetcher 是网络能力接口：返回响应或失败，不做任何缓存。
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) (*Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewClient 返回共享 http.Client；timeout <= 0 时不设置整体超时。
func NewClient(timeout time.Duration) *http.Client {
	client := &http.Client{
		Transport: defaultTransport.Clone(),
	}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}

// HTTPFetcher 通过 http.Client 执行请求，并按应用 origin 为响应分类。
type HTTPFetcher struct {
	client *http.Client
	origin string
}

// NewHTTPFetcher 构造网络层，origin 为运行中应用自身的 origin。
func NewHTTPFetcher(client *http.Client, origin string) *HTTPFetcher {
	if client == nil {
		client = NewClient(0)
	}
	return &HTTPFetcher{client: client, origin: origin}
}

// Fetch 发出请求；跨域 cors 请求未获上游许可时返回 ErrCORSRejected。
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if !req.IsHTTP() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, req.URL)
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	CopyHeaders(httpReq.Header, req.Header)
	httpReq.Header.Del("Host")
	httpReq.Header.Del("Accept-Encoding")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	typ, err := f.classify(req, Origin(finalURL), resp.Header)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", finalURL, err)
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	return &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     header,
		Type:       typ,
		URL:        finalURL.String(),
		Body:       resp.Body,
	}, nil
}

func (f *HTTPFetcher) classify(req Request, responseOrigin string, header http.Header) (ResponseType, error) {
	if responseOrigin == f.origin || req.Mode == ModeNavigate {
		return ResponseTypeBasic, nil
	}
	switch req.Mode {
	case ModeNoCORS:
		return ResponseTypeOpaque, nil
	case ModeSameOrigin:
		return "", ErrCORSRejected
	}
	allowed := strings.TrimSpace(header.Get("Access-Control-Allow-Origin"))
	if allowed == "*" || strings.EqualFold(allowed, f.origin) {
		return ResponseTypeCORS, nil
	}
	return "", ErrCORSRejected
}

func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
