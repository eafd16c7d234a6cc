// Package repository provides typed access to the records kept in the store.
// Values are JSON documents; store errors such as store.ErrNotFound pass
// through wrapped so services can classify them.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tagapp/internal/store"
)

// ErrNoChange is returned by a mutator that leaves the record as it is. The
// update then writes nothing and returns the current record.
var ErrNoChange = errors.New("repository: no change")

// Mutator edits a decoded record inside an atomic update. It may run more
// than once when the store retries, so it must only touch its argument.
type Mutator[T any] func(*T) error

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return &v, nil
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

func getJSON[T any](ctx context.Context, s store.Store, key string) (*T, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return decode[T](raw)
}

func createJSON(ctx context.Context, s store.Store, key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return s.PutIfAbsent(ctx, key, data)
}

func putJSON(ctx context.Context, s store.Store, key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, data)
}

func updateJSON[T any](ctx context.Context, s store.Store, key string, mutate Mutator[T]) (*T, error) {
	raw, err := s.Update(ctx, key, func(current []byte) ([]byte, error) {
		v, err := decode[T](current)
		if err != nil {
			return nil, err
		}
		if err := mutate(v); err != nil {
			if errors.Is(err, ErrNoChange) {
				return nil, nil
			}
			return nil, err
		}
		return encode(v)
	})
	if err != nil {
		return nil, err
	}
	return decode[T](raw)
}

func scanJSON[T any](ctx context.Context, s store.Store, prefix string) ([]*T, error) {
	records, err := s.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(records))
	for _, r := range records {
		v, err := decode[T](r.Value)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func batchPutJSON[T any](ctx context.Context, s store.Store, items []T, key func(T) string) ([]string, error) {
	records := make([]store.Record, 0, len(items))
	for _, item := range items {
		data, err := encode(item)
		if err != nil {
			return nil, err
		}
		records = append(records, store.Record{Key: key(item), Value: data})
	}
	return s.BatchPut(ctx, records)
}
