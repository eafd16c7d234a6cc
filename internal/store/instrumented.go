package store

import (
	"context"
	"errors"
	"time"

	"tagapp/internal/observability"
)

// Instrumented records latency and failures of every call into the wrapped
// store.
type Instrumented struct {
	next   Store
	driver string
}

// Instrument wraps s so each call is timed under the given driver label.
func Instrument(s Store, driver string) *Instrumented {
	return &Instrumented{next: s, driver: driver}
}

// Unwrap returns the underlying driver.
func (s *Instrumented) Unwrap() Store {
	return s.next
}

func (s *Instrumented) observe(operation string, start time.Time, err error) {
	observability.StoreOperationLatency.WithLabelValues(s.driver, operation).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConditionFailed) {
		observability.StoreErrors.WithLabelValues(s.driver, operation).Inc()
	}
}

func (s *Instrumented) Get(ctx context.Context, key string) (val []byte, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.next.Get(ctx, key)
}

func (s *Instrumented) Put(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())
	return s.next.Put(ctx, key, value)
}

func (s *Instrumented) PutIfAbsent(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { s.observe("put_if_absent", start, err) }(time.Now())
	return s.next.PutIfAbsent(ctx, key, value)
}

func (s *Instrumented) Update(ctx context.Context, key string, fn UpdateFunc) (val []byte, err error) {
	defer func(start time.Time) { s.observe("update", start, err) }(time.Now())
	return s.next.Update(ctx, key, fn)
}

func (s *Instrumented) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())
	return s.next.Delete(ctx, key)
}

func (s *Instrumented) Scan(ctx context.Context, prefix string) (records []Record, err error) {
	defer func(start time.Time) { s.observe("scan", start, err) }(time.Now())
	return s.next.Scan(ctx, prefix)
}

func (s *Instrumented) BatchPut(ctx context.Context, records []Record) (unprocessed []string, err error) {
	defer func(start time.Time) {
		s.observe("batch_put", start, err)
		observability.StoreUnprocessed.WithLabelValues(s.driver, "batch_put").Add(float64(len(unprocessed)))
	}(time.Now())
	return s.next.BatchPut(ctx, records)
}

func (s *Instrumented) BatchDelete(ctx context.Context, keys []string) (unprocessed []string, err error) {
	defer func(start time.Time) {
		s.observe("batch_delete", start, err)
		observability.StoreUnprocessed.WithLabelValues(s.driver, "batch_delete").Add(float64(len(unprocessed)))
	}(time.Now())
	return s.next.BatchDelete(ctx, keys)
}

func (s *Instrumented) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

func (s *Instrumented) Close() error {
	return s.next.Close()
}
