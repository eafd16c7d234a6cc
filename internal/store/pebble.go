package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const pebbleStripes = 64

// PebbleStore is an embedded single-process driver. Read-modify-write on a
// key is serialized by a striped mutex; every write is synced.
type PebbleStore struct {
	db    *pebble.DB
	locks [pebbleStripes]sync.Mutex
}

// OpenPebble opens (or creates) a pebble database at path. A nil fs uses the
// operating system filesystem; tests pass vfs.NewMem().
func OpenPebble(path string, fs vfs.FS) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) stripe(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % pebbleStripes)
}

func (s *PebbleStore) lock(key string) func() {
	m := &s.locks[s.stripe(key)]
	m.Lock()
	return m.Unlock
}

// lockMany takes the stripes of every key in ascending order.
func (s *PebbleStore) lockMany(keys []string) func() {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		idx = append(idx, s.stripe(k))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)
	for _, i := range idx {
		s.locks[i].Lock()
	}
	return func() {
		for _, i := range idx {
			s.locks[i].Unlock()
		}
	}
}

func (s *PebbleStore) get(key string) ([]byte, error) {
	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get %s: %w", key, err)
	}
	out := append([]byte(nil), val...)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PebbleStore) Get(_ context.Context, key string) ([]byte, error) {
	return s.get(key)
}

func (s *PebbleStore) Put(_ context.Context, key string, value []byte) error {
	defer s.lock(key)()
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) PutIfAbsent(_ context.Context, key string, value []byte) error {
	defer s.lock(key)()
	if _, err := s.get(key); err == nil {
		return ErrConditionFailed
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) Update(_ context.Context, key string, fn UpdateFunc) ([]byte, error) {
	defer s.lock(key)()
	current, err := s.get(key)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}
	if err := s.db.Set([]byte(key), next, pebble.Sync); err != nil {
		return nil, fmt.Errorf("pebble set %s: %w", key, err)
	}
	return next, nil
}

func (s *PebbleStore) Delete(_ context.Context, key string) error {
	defer s.lock(key)()
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) Scan(_ context.Context, prefix string) ([]Record, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iter %s: %w", prefix, err)
	}
	var records []Record
	for iter.First(); iter.Valid(); iter.Next() {
		records = append(records, Record{
			Key:   string(iter.Key()),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return nil, fmt.Errorf("pebble scan %s: %w", prefix, err)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return records, nil
}

// BatchPut commits all records in one atomic pebble batch, so either every
// key is written or the call fails.
func (s *PebbleStore) BatchPut(_ context.Context, records []Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	keys := recordKeys(records)
	defer s.lockMany(keys)()
	b := s.db.NewBatch()
	defer b.Close()
	for _, r := range records {
		if err := b.Set([]byte(r.Key), r.Value, nil); err != nil {
			return keys, fmt.Errorf("pebble batch set %s: %w", r.Key, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return keys, fmt.Errorf("pebble batch commit: %w", err)
	}
	return nil, nil
}

func (s *PebbleStore) BatchDelete(_ context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	defer s.lockMany(keys)()
	b := s.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Delete([]byte(k), nil); err != nil {
			return append([]string(nil), keys...), fmt.Errorf("pebble batch delete %s: %w", k, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return append([]string(nil), keys...), fmt.Errorf("pebble batch commit: %w", err)
	}
	return nil, nil
}

func (s *PebbleStore) Ping(_ context.Context) error {
	if s.db == nil {
		return errors.New("pebble: not open")
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
