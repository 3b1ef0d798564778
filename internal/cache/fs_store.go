package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const generationMarker = ".generation"

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewFileStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return newGenerationStore(&fileBackend{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}), nil
}

// fileBackend 通过 entryLock 避免同一条目并发写入，每个代对应 basePath 下一个目录。
type fileBackend struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type markerFile struct {
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

func (b *fileBackend) createGeneration(ctx context.Context, name string, created time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := b.generationDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	markerPath := filepath.Join(dir, generationMarker)
	if _, err := os.Stat(markerPath); err == nil {
		return nil
	}
	payload, err := json.Marshal(markerFile{Name: name, Created: created})
	if err != nil {
		return err
	}
	return writeFileAtomic(ctx, markerPath, bytes.NewReader(payload))
}

func (b *fileBackend) generations(ctx context.Context) ([]generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirs, err := os.ReadDir(b.basePath)
	if err != nil {
		return nil, err
	}

	result := make([]generation, 0, len(dirs))
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(b.basePath, dir.Name(), generationMarker))
		if err != nil {
			// 没有标记文件的目录是删除中或残留的代，不对外暴露。
			continue
		}
		var marker markerFile
		if err := json.Unmarshal(raw, &marker); err != nil || marker.Name == "" {
			continue
		}
		result = append(result, generation{Name: marker.Name, Created: marker.Created})
	}
	return result, nil
}

func (b *fileBackend) dropGeneration(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir := b.generationDir(name)
	if _, err := os.Stat(filepath.Join(dir, generationMarker)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	// 先移除标记，使该代立即对 Keys/Match 不可见，再清理正文。
	if err := os.Remove(filepath.Join(dir, generationMarker)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return true, err
	}
	return true, nil
}

func (b *fileBackend) get(ctx context.Context, gen, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	info, err := os.Stat(b.entryPath(gen, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(b.entryPath(gen, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *fileBackend) put(ctx context.Context, gen, key string, data []byte) error {
	unlock := b.lockEntry(gen, key)
	defer unlock()

	filePath := b.entryPath(gen, key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(ctx, filePath, bytes.NewReader(data))
}

func (b *fileBackend) remove(ctx context.Context, gen, key string) (bool, error) {
	unlock := b.lockEntry(gen, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := os.Remove(b.entryPath(gen, key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *fileBackend) list(ctx context.Context, gen string) ([]string, error) {
	var keys []string
	root := b.generationDir(gen)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		keys = append(keys, d.Name())
		return nil
	})
	return keys, err
}

func (b *fileBackend) close() error {
	return nil
}

func (b *fileBackend) lockEntry(gen, key string) func() {
	lockKey := gen + "::" + key
	b.mu.Lock()
	lock := b.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		b.locks[lockKey] = lock
	}
	lock.refs++
	b.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		b.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(b.locks, lockKey)
		}
		b.mu.Unlock()
	}
}

// generationDir 对代名称做 PathEscape，避免 "/" 等字符逃逸出 basePath。
func (b *fileBackend) generationDir(name string) string {
	return filepath.Join(b.basePath, url.PathEscape(name))
}

// entryPath 按键前两位分桶，避免单目录文件过多。
func (b *fileBackend) entryPath(gen, key string) string {
	return filepath.Join(b.generationDir(gen), key[:2], key)
}

// writeFileAtomic 通过临时文件 + rename 保证写入原子性，失败时清理临时文件。
func writeFileAtomic(ctx context.Context, filePath string, body io.Reader) error {
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
