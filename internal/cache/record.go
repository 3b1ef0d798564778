package cache

import (
	"bytes"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/any-hub/precache/internal/fetch"
)

func init() {
	// Ensure http.Header is registered for gob.
	gob.Register(http.Header{})
}

// Record 是持久化的响应快照，写入后不可变，只能被整体覆盖。
type Record struct {
	Identity    string
	Status      int
	StatusText  string
	Header      http.Header
	Type        fetch.ResponseType
	ResponseURL string
	Body        []byte
	StoredAt    time.Time
}

// newRecord 消费 resp 正文生成快照。
func newRecord(req fetch.Request, resp *fetch.Response, now time.Time) (Record, error) {
	if req.Method != http.MethodGet {
		return Record{}, ErrUnsupportedMethod
	}
	if resp == nil {
		return Record{}, fmt.Errorf("put %s: nil response", req.Identity())
	}
	body, err := resp.Bytes()
	if err != nil {
		return Record{}, fmt.Errorf("read response body: %w", err)
	}
	return Record{
		Identity:    req.Identity(),
		Status:      resp.Status,
		StatusText:  resp.StatusText,
		Header:      resp.Header.Clone(),
		Type:        resp.Type,
		ResponseURL: resp.URL,
		Body:        body,
		StoredAt:    now.UTC(),
	}, nil
}

// Response 将快照还原为一份新的可读响应。
func (r Record) Response() *fetch.Response {
	resp := fetch.NewResponse(r.Status, r.Header.Clone(), r.Type, r.Body)
	if r.StatusText != "" {
		resp.StatusText = r.StatusText
	}
	resp.URL = r.ResponseURL
	return resp
}

func encodeRecord(r Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (Record, error) {
	var r Record
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&r)
	return r, err
}

// entryKey 将请求标识映射为定长键，便于作为文件名或对象名。
func entryKey(identity string) string {
	sum := sha1.Sum([]byte(identity))
	return hex.EncodeToString(sum[:])
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
