package cache

import (
	"context"
	"sync"
	"time"
)

// NewMemoryStorage 返回进程内存储，进程退出即丢失，适合测试与临时部署。
func NewMemoryStorage() Storage {
	return newGenerationStore(&memoryBackend{gens: make(map[string]*memoryGeneration)})
}

type memoryGeneration struct {
	created time.Time
	entries map[string][]byte
}

type memoryBackend struct {
	mu   sync.RWMutex
	gens map[string]*memoryGeneration
}

func (b *memoryBackend) createGeneration(_ context.Context, name string, created time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.gens[name]; !ok {
		b.gens[name] = &memoryGeneration{created: created, entries: make(map[string][]byte)}
	}
	return nil
}

func (b *memoryBackend) generations(_ context.Context) ([]generation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make([]generation, 0, len(b.gens))
	for name, g := range b.gens {
		result = append(result, generation{Name: name, Created: g.created})
	}
	return result, nil
}

func (b *memoryBackend) dropGeneration(_ context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.gens[name]; !ok {
		return false, nil
	}
	delete(b.gens, name)
	return true, nil
}

func (b *memoryBackend) get(_ context.Context, gen, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	g, ok := b.gens[gen]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := g.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// put 对已删除代的写入会被静默丢弃，与被删除的代句柄不再可见的语义一致。
func (b *memoryBackend) put(_ context.Context, gen, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.gens[gen]
	if !ok {
		return nil
	}
	g.entries[key] = append([]byte(nil), data...)
	return nil
}

func (b *memoryBackend) remove(_ context.Context, gen, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.gens[gen]
	if !ok {
		return false, nil
	}
	if _, ok := g.entries[key]; !ok {
		return false, nil
	}
	delete(g.entries, key)
	return true, nil
}

func (b *memoryBackend) list(_ context.Context, gen string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	g, ok := b.gens[gen]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(g.entries))
	for key := range g.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

func (b *memoryBackend) close() error {
	return nil
}
