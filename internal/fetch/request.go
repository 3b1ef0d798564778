package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Mode 对应浏览器 Sec-Fetch-Mode，决定跨域响应被归类为 cors 还是 opaque。
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// ErrUnsupportedScheme 表示请求 URL 不是 http/https。
var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Request 描述一次被拦截的出站请求，Header 仅透传给网络层。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Mode   Mode
	// Body 仅用于 passthrough 的非 GET 请求，缓存层从不读取。
	Body []byte
}

// NewRequest 解析 rawURL 并构造 Request；method 为空时视为 GET。
func NewRequest(method, rawURL string, header http.Header) (Request, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Request{}, fmt.Errorf("parse request url: %w", err)
	}
	if method == "" {
		method = http.MethodGet
	}
	if header == nil {
		header = http.Header{}
	}
	return Request{
		Method: strings.ToUpper(method),
		URL:    parsed,
		Header: header,
		Mode:   ParseMode(header.Get("Sec-Fetch-Mode")),
	}, nil
}

// ParseMode 将 Sec-Fetch-Mode 头标准化，未知或缺失时回退为 cors。
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeNavigate:
		return ModeNavigate
	case ModeSameOrigin:
		return ModeSameOrigin
	case ModeNoCORS:
		return ModeNoCORS
	default:
		return ModeCORS
	}
}

// Identity 返回缓存键：method + 绝对 URL（去掉 fragment）。
func (r Request) Identity() string {
	return Identity(r.Method, r.URL)
}

// Identity 以 "GET https://host/path?q" 的形式组合请求标识。
func Identity(method string, u *url.URL) string {
	if u == nil {
		return strings.ToUpper(method)
	}
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return strings.ToUpper(method) + " " + clean.String()
}

// Origin 返回请求 URL 的 scheme://host[:port]。
func (r Request) Origin() string {
	return Origin(r.URL)
}

// IsHTTP 报告请求是否使用可联网的 http/https scheme。
func (r Request) IsHTTP() bool {
	if r.URL == nil {
		return false
	}
	scheme := strings.ToLower(r.URL.Scheme)
	return scheme == "http" || scheme == "https"
}

// Origin 计算 URL 的 origin，默认端口会被省略，以便 "https://a" 与 "https://a:443" 相等。
func Origin(u *url.URL) string {
	if u == nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	return scheme + "://" + host
}

// ParseOrigin 校验并标准化一个 origin 字符串，不允许携带路径或查询。
func ParseOrigin(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, raw)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("origin missing host: %s", raw)
	}
	if p := strings.TrimSuffix(parsed.Path, "/"); p != "" || parsed.RawQuery != "" {
		return "", fmt.Errorf("origin must not contain path or query: %s", raw)
	}
	return Origin(parsed), nil
}

// Resolve 以 origin 根路径为基准解析清单条目，相对路径（./index.html）落在同源下。
func Resolve(origin, entry string) (*url.URL, error) {
	base, err := url.Parse(origin + "/")
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(entry))
	if err != nil {
		return nil, fmt.Errorf("parse manifest entry %q: %w", entry, err)
	}
	return base.ResolveReference(ref), nil
}
