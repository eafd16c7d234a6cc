package store

import (
	"context"
	"errors"
	"fmt"

	"tagapp/internal/config"
	"tagapp/internal/database"

	"github.com/redis/go-redis/v9"
)

// Open builds the driver selected by STORE_DRIVER. rdb is required by the
// redis driver and ignored by the others.
func Open(ctx context.Context, cfg *config.Config, rdb *redis.Client) (*Instrumented, error) {
	switch cfg.StoreDriver {
	case config.DriverRedis:
		if rdb == nil {
			return nil, errors.New("redis store driver requires a redis client")
		}
		return Instrument(NewRedisStore(rdb, cfg.MaxTxAttempts), config.DriverRedis), nil

	case config.DriverPebble:
		s, err := OpenPebble(cfg.PebblePath, nil)
		if err != nil {
			return nil, err
		}
		return Instrument(s, config.DriverPebble), nil

	case config.DriverSQL:
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, err
		}
		s := NewSQLStore(db, cfg.MaxTxAttempts)
		if err := s.Migrate(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to migrate records table: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return Instrument(s, config.DriverSQL), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
