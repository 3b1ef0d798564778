package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// NewLevelDBStorage 在 path 下打开（或创建）LevelDB，所有代共享一个库：
//
//	g:<generation>                 -> 创建时间 (RFC3339Nano)
//	e:<generation>\x00<entry key>  -> 编码后的快照
func NewLevelDBStorage(path string) (Storage, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return newGenerationStore(&levelBackend{db: db}), nil
}

type levelBackend struct {
	db *leveldb.DB
}

func generationKey(name string) []byte {
	return []byte("g:" + name)
}

func entryPrefix(gen string) []byte {
	return []byte("e:" + gen + "\x00")
}

func levelEntryKey(gen, key string) []byte {
	return append(entryPrefix(gen), key...)
}

func (b *levelBackend) createGeneration(ctx context.Context, name string, created time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := b.db.Has(generationKey(name), nil)
	if err != nil || ok {
		return err
	}
	return b.db.Put(generationKey(name), []byte(created.Format(time.RFC3339Nano)), nil)
}

func (b *levelBackend) generations(ctx context.Context) ([]generation, error) {
	it := b.db.NewIterator(util.BytesPrefix([]byte("g:")), nil)
	defer it.Release()

	var result []generation
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := string(it.Key()[len("g:"):])
		created, _ := time.Parse(time.RFC3339Nano, string(it.Value()))
		result = append(result, generation{Name: name, Created: created})
	}
	return result, it.Error()
}

func (b *levelBackend) dropGeneration(ctx context.Context, name string) (bool, error) {
	ok, err := b.db.Has(generationKey(name), nil)
	if err != nil || !ok {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(generationKey(name))
	it := b.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		if err := ctx.Err(); err != nil {
			it.Release()
			return false, err
		}
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	if err := b.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (b *levelBackend) get(ctx context.Context, gen, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := b.db.Get(levelEntryKey(gen, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *levelBackend) put(ctx context.Context, gen, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Put(levelEntryKey(gen, key), data, nil)
}

func (b *levelBackend) remove(ctx context.Context, gen, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := levelEntryKey(gen, key)
	ok, err := b.db.Has(k, nil)
	if err != nil || !ok {
		return false, err
	}
	return true, b.db.Delete(k, nil)
}

func (b *levelBackend) list(ctx context.Context, gen string) ([]string, error) {
	prefix := entryPrefix(gen)
	it := b.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys = append(keys, string(it.Key()[len(prefix):]))
	}
	return keys, it.Error()
}

func (b *levelBackend) close() error {
	return b.db.Close()
}
