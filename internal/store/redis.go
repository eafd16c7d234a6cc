package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	redisScanCount = 500
	redisMGetChunk = 500
)

// RedisStore keeps each record in a plain Redis string. Updates use
// WATCH/MULTI optimistic transactions.
type RedisStore struct {
	client      *redis.Client
	maxAttempts int
}

// NewRedisStore wraps an existing client. maxAttempts bounds the optimistic
// retries of Update; values below 1 mean a single attempt.
func NewRedisStore(client *redis.Client, maxAttempts int) *RedisStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RedisStore{client: client, maxAttempts: maxAttempts}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, value []byte) error {
	ok, err := s.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return ErrConditionFailed
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	var result []byte
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrConditionFailed):
			return nil, err
		default:
			return nil, fmt.Errorf("redis update %s: %w", key, err)
		}
	}
	return nil, fmt.Errorf("redis update %s after %d attempts: %w", key, s.maxAttempts, ErrContention)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]Record, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", redisScanCount).Iterator()
	seen := make(map[string]struct{})
	for iter.Next(ctx) {
		// SCAN may return a key more than once.
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	sort.Strings(keys)

	records := make([]Record, 0, len(keys))
	for start := 0; start < len(keys); start += redisMGetChunk {
		end := min(start+redisMGetChunk, len(keys))
		vals, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget: %w", err)
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				// deleted between SCAN and MGET
				continue
			}
			records = append(records, Record{Key: keys[start+i], Value: []byte(str)})
		}
	}
	return records, nil
}

func (s *RedisStore) BatchPut(ctx context.Context, records []Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StatusCmd, len(records))
	for i, r := range records {
		cmds[i] = pipe.Set(ctx, r.Key, r.Value, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil && allFailed(cmds) {
		return recordKeys(records), fmt.Errorf("redis batch put: %w", err)
	}
	var unprocessed []string
	for i, cmd := range cmds {
		if cmd.Err() != nil {
			unprocessed = append(unprocessed, records[i].Key)
		}
	}
	return unprocessed, nil
}

func (s *RedisStore) BatchDelete(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && allFailed(cmds) {
		return append([]string(nil), keys...), fmt.Errorf("redis batch delete: %w", err)
	}
	var unprocessed []string
	for i, cmd := range cmds {
		if cmd.Err() != nil {
			unprocessed = append(unprocessed, keys[i])
		}
	}
	return unprocessed, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func allFailed[C redis.Cmder](cmds []C) bool {
	for _, c := range cmds {
		if c.Err() == nil {
			return false
		}
	}
	return true
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
