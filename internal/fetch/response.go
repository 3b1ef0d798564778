package fetch

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// ResponseType 对应浏览器 Response.type 的分类。
type ResponseType string

const (
	// ResponseTypeBasic 同源响应。
	ResponseTypeBasic ResponseType = "basic"
	// ResponseTypeCORS 跨域且上游显式允许读取。
	ResponseTypeCORS ResponseType = "cors"
	// ResponseTypeOpaque no-cors 跨域响应，内容对应用不可读。
	ResponseTypeOpaque ResponseType = "opaque"
)

// ErrBodyUsed 表示响应正文已被读取或复制过，不能再次消费。
var ErrBodyUsed = errors.New("response body already used")

// Response 是响应快照 + 只能读取一次的正文流。
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Type       ResponseType
	URL        string
	Body       io.ReadCloser

	used bool
}

// NewResponse 使用内存正文构造响应，主要供缓存层与测试使用。
func NewResponse(status int, header http.Header, typ ResponseType, body []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     header,
		Type:       typ,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// OK 报告状态码是否位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Used 报告正文是否已被消费。
func (r *Response) Used() bool {
	return r != nil && r.used
}

// Bytes 读取完整正文并关闭流，之后响应视为已消费。
func (r *Response) Bytes() ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	if r.used {
		return nil, ErrBodyUsed
	}
	r.used = true
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// Duplicate 消费当前正文并返回两份互相独立、均可读取的副本。
// 调用后原响应不可再读，调用方应只使用返回值。
func (r *Response) Duplicate() (*Response, *Response, error) {
	body, err := r.Bytes()
	if err != nil {
		return nil, nil, err
	}
	return r.withBody(body), r.withBody(body), nil
}

// Close 丢弃未读取的正文。
func (r *Response) Close() error {
	if r == nil || r.Body == nil || r.used {
		return nil
	}
	r.used = true
	return r.Body.Close()
}

func (r *Response) withBody(body []byte) *Response {
	return &Response{
		Status:     r.Status,
		StatusText: r.StatusText,
		Header:     r.Header.Clone(),
		Type:       r.Type,
		URL:        r.URL,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}
