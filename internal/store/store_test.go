package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Generous retry budgets so the concurrency checks never exhaust them.
const testTxAttempts = 1000

func newRedisTestStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, testTxAttempts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPebbleTestStore(t *testing.T) Store {
	t.Helper()
	s, err := OpenPebble("tagapp", vfs.NewMem())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive
	sqlDB.SetMaxOpenConns(1)
	s := NewSQLStore(db, testTxAttempts)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var drivers = []struct {
	name string
	open func(t *testing.T) Store
}{
	{"redis", newRedisTestStore},
	{"pebble", newPebbleTestStore},
	{"sqlite", newSQLiteTestStore},
}

func TestStoreConformance(t *testing.T) {
	for _, d := range drivers {
		t.Run(d.name, func(t *testing.T) {
			t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, d.open(t)) })
			t.Run("PutGet", func(t *testing.T) { testPutGet(t, d.open(t)) })
			t.Run("PutIfAbsent", func(t *testing.T) { testPutIfAbsent(t, d.open(t)) })
			t.Run("Update", func(t *testing.T) { testUpdate(t, d.open(t)) })
			t.Run("Delete", func(t *testing.T) { testDelete(t, d.open(t)) })
			t.Run("Scan", func(t *testing.T) { testScan(t, d.open(t)) })
			t.Run("Batch", func(t *testing.T) { testBatch(t, d.open(t)) })
			t.Run("ConcurrentUpdate", func(t *testing.T) { testConcurrentUpdate(t, d.open(t)) })
			t.Run("ConcurrentPutIfAbsent", func(t *testing.T) { testConcurrentPutIfAbsent(t, d.open(t)) })
		})
	}
}

func testGetMissing(t *testing.T, s Store) {
	_, err := s.Get(context.Background(), "post:missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func testPutGet(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "post:1", []byte(`{"a":1}`)))
	got, err := s.Get(ctx, "post:1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, s.Put(ctx, "post:1", []byte(`{"a":2}`)))
	got, err = s.Get(ctx, "post:1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(got))
}

func testPutIfAbsent(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.PutIfAbsent(ctx, "username:alice", []byte("u1")))

	err := s.PutIfAbsent(ctx, "username:alice", []byte("u2"))
	assert.ErrorIs(t, err, ErrConditionFailed)
	assert.True(t, IsConditionFailed(err))

	got, err := s.Get(ctx, "username:alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", string(got))
}

func testUpdate(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Update(ctx, "post:missing", func(cur []byte) ([]byte, error) {
		t.Fatal("update func called for a missing record")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "post:missing")
	assert.ErrorIs(t, err, ErrNotFound, "update must not upsert")

	require.NoError(t, s.Put(ctx, "post:1", []byte("1")))

	got, err := s.Update(ctx, "post:1", func(cur []byte) ([]byte, error) {
		n, _ := strconv.Atoi(string(cur))
		return []byte(strconv.Itoa(n + 1)), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	got, err = s.Update(ctx, "post:1", func(cur []byte) ([]byte, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "2", string(got), "no-op update returns the current value")

	_, err = s.Update(ctx, "post:1", func(cur []byte) ([]byte, error) {
		return nil, ErrConditionFailed
	})
	assert.ErrorIs(t, err, ErrConditionFailed)

	stored, err := s.Get(ctx, "post:1")
	require.NoError(t, err)
	assert.Equal(t, "2", string(stored))
}

func testDelete(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "user:1", []byte("x")))
	require.NoError(t, s.Delete(ctx, "user:1"))
	_, err := s.Get(ctx, "user:1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "user:1"))
}

func testScan(t *testing.T, s Store) {
	ctx := context.Background()
	for _, k := range []string{"post:b", "post:a", "post:c", "posts:z", "user:a", "community:a*b:1", "community:axb:2", "community:a_b:3"} {
		require.NoError(t, s.Put(ctx, k, []byte(k)))
	}

	records, err := s.Scan(ctx, PostPrefix)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "post:a", records[0].Key)
	assert.Equal(t, "post:b", records[1].Key)
	assert.Equal(t, "post:c", records[2].Key)
	assert.Equal(t, "post:c", string(records[2].Value))

	records, err = s.Scan(ctx, "community:a*b:")
	require.NoError(t, err)
	require.Len(t, records, 1, "pattern characters in a prefix match literally")
	assert.Equal(t, "community:a*b:1", records[0].Key)

	records, err = s.Scan(ctx, "community:a_b:")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "community:a_b:3", records[0].Key)

	records, err = s.Scan(ctx, "inbox:")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func testBatch(t *testing.T, s Store) {
	ctx := context.Background()

	var records []Record
	for i := 0; i < 30; i++ {
		records = append(records, Record{Key: fmt.Sprintf("inbox:u1:%02d", i), Value: []byte(strconv.Itoa(i))})
	}
	unprocessed, err := s.BatchPut(ctx, records)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	got, err := s.Scan(ctx, InboxUserPrefix("u1"))
	require.NoError(t, err)
	assert.Len(t, got, 30)

	unprocessed, err = s.BatchPut(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	keys := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		keys = append(keys, fmt.Sprintf("inbox:u1:%02d", i))
	}
	unprocessed, err = s.BatchDelete(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	got, err = s.Scan(ctx, InboxUserPrefix("u1"))
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, "inbox:u1:25", got[0].Key)
}

func testConcurrentUpdate(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "post:counter", []byte("0")))

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "post:counter", func(cur []byte) ([]byte, error) {
				n, err := strconv.Atoi(string(cur))
				if err != nil {
					return nil, err
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, "post:counter")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers), string(got))
}

func testConcurrentPutIfAbsent(t *testing.T, s Store) {
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.PutIfAbsent(ctx, "username:bob", []byte(strconv.Itoa(i)))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrConditionFailed)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
