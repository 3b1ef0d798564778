package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/any-hub/precache/internal/fetch"
)

// generation 描述一个已存在的代及其创建时间，创建时间决定跨代 Match 的顺序。
type generation struct {
	Name    string
	Created time.Time
}

// backend 是各存储实现需提供的最小键值能力，代与条目均由 generationStore 统一编排。
type backend interface {
	createGeneration(ctx context.Context, name string, created time.Time) error
	generations(ctx context.Context) ([]generation, error)
	dropGeneration(ctx context.Context, name string) (bool, error)
	get(ctx context.Context, gen, key string) ([]byte, error)
	put(ctx context.Context, gen, key string, data []byte) error
	remove(ctx context.Context, gen, key string) (bool, error)
	list(ctx context.Context, gen string) ([]string, error)
	close() error
}

// generationStore 在 backend 之上实现 Storage。
type generationStore struct {
	backend backend
	now     func() time.Time
}

func newGenerationStore(b backend) *generationStore {
	return &generationStore{backend: b, now: time.Now}
}

func (s *generationStore) Open(ctx context.Context, name string) (Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := s.backend.createGeneration(ctx, name, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("open generation %s: %w", name, err)
	}
	return &generationCache{name: name, store: s}, nil
}

func (s *generationStore) Has(ctx context.Context, name string) (bool, error) {
	gens, err := s.backend.generations(ctx)
	if err != nil {
		return false, err
	}
	for _, g := range gens {
		if g.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *generationStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	return s.backend.dropGeneration(ctx, name)
}

func (s *generationStore) Keys(ctx context.Context) ([]string, error) {
	gens, err := s.ordered(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(gens))
	for i, g := range gens {
		names[i] = g.Name
	}
	return names, nil
}

func (s *generationStore) Match(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	gens, err := s.ordered(ctx)
	if err != nil {
		return nil, err
	}
	key := entryKey(req.Identity())
	for _, g := range gens {
		resp, err := s.match(ctx, g.Name, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return resp, err
	}
	return nil, ErrNotFound
}

func (s *generationStore) Close() error {
	return s.backend.close()
}

func (s *generationStore) ordered(ctx context.Context) ([]generation, error) {
	gens, err := s.backend.generations(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(gens, func(i, j int) bool {
		if gens[i].Created.Equal(gens[j].Created) {
			return gens[i].Name < gens[j].Name
		}
		return gens[i].Created.Before(gens[j].Created)
	})
	return gens, nil
}

func (s *generationStore) match(ctx context.Context, gen, key string) (*fetch.Response, error) {
	data, err := s.backend.get(ctx, gen, key)
	if err != nil {
		return nil, err
	}
	record, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return record.Response(), nil
}

// generationCache 是 Open 返回的单代句柄。
type generationCache struct {
	name  string
	store *generationStore
}

func (c *generationCache) Name() string {
	return c.name
}

func (c *generationCache) Match(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	if req.Method != http.MethodGet {
		return nil, ErrNotFound
	}
	return c.store.match(ctx, c.name, entryKey(req.Identity()))
}

func (c *generationCache) Put(ctx context.Context, req fetch.Request, resp *fetch.Response) error {
	record, err := newRecord(req, resp, c.store.now())
	if err != nil {
		return err
	}
	data, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return c.store.backend.put(ctx, c.name, entryKey(record.Identity), data)
}

func (c *generationCache) Delete(ctx context.Context, req fetch.Request) (bool, error) {
	return c.store.backend.remove(ctx, c.name, entryKey(req.Identity()))
}

func (c *generationCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.store.backend.list(ctx, c.name)
	if err != nil {
		return nil, err
	}
	identities := make([]string, 0, len(keys))
	for _, key := range keys {
		data, err := c.store.backend.get(ctx, c.name, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		record, err := decodeRecord(data)
		if err != nil {
			return nil, fmt.Errorf("decode cache entry: %w", err)
		}
		identities = append(identities, record.Identity)
	}
	sort.Strings(identities)
	return identities, nil
}
