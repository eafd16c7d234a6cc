package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const sqlBatchSize = 100

// recordRow is the single table backing the SQL driver.
type recordRow struct {
	RecordKey string    `gorm:"column:record_key;primaryKey;size:512"`
	Value     []byte    `gorm:"column:value;not null"`
	Version   int64     `gorm:"column:version;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (recordRow) TableName() string {
	return "records"
}

// SQLStore stores records in a relational database through gorm. Update is
// an optimistic compare-and-swap on the version column.
type SQLStore struct {
	db          *gorm.DB
	maxAttempts int
}

// NewSQLStore wraps an open gorm connection. Call Migrate before first use
// on a fresh database.
func NewSQLStore(db *gorm.DB, maxAttempts int) *SQLStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &SQLStore{db: db, maxAttempts: maxAttempts}
}

// Migrate creates the records table.
func (s *SQLStore) Migrate() error {
	return s.db.AutoMigrate(&recordRow{})
}

func (s *SQLStore) take(ctx context.Context, key string) (*recordRow, error) {
	var row recordRow
	err := s.db.WithContext(ctx).Where("record_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql get %s: %w", key, err)
	}
	return &row, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	row, err := s.take(ctx, key)
	if err != nil {
		return nil, err
	}
	return row.Value, nil
}

func upsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "record_key"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "value"}, Value: gorm.Expr("excluded.value")},
			{Column: clause.Column{Name: "version"}, Value: gorm.Expr("records.version + 1")},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
		},
	}
}

func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	row := recordRow{RecordKey: key, Value: value, Version: 1, UpdatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(upsertClause()).Create(&row).Error; err != nil {
		return fmt.Errorf("sql put %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) PutIfAbsent(ctx context.Context, key string, value []byte) error {
	row := recordRow{RecordKey: key, Value: value, Version: 1, UpdatedAt: time.Now().UTC()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("sql put if absent %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		row, err := s.take(ctx, key)
		if err != nil {
			return nil, err
		}
		next, err := fn(row.Value)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return row.Value, nil
		}
		res := s.db.WithContext(ctx).Model(&recordRow{}).
			Where("record_key = ? AND version = ?", key, row.Version).
			Updates(map[string]interface{}{
				"value":      next,
				"version":    row.Version + 1,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("sql update %s: %w", key, res.Error)
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
	}
	return nil, fmt.Errorf("sql update %s after %d attempts: %w", key, s.maxAttempts, ErrContention)
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("record_key = ?", key).Delete(&recordRow{}).Error; err != nil {
		return fmt.Errorf("sql delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Scan(ctx context.Context, prefix string) ([]Record, error) {
	var rows []recordRow
	err := s.db.WithContext(ctx).
		Where("record_key LIKE ? ESCAPE '!'", escapeLike(prefix)+"%").
		Order("record_key").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sql scan %s: %w", prefix, err)
	}
	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		// sqlite LIKE ignores ASCII case
		if !strings.HasPrefix(r.RecordKey, prefix) {
			continue
		}
		records = append(records, Record{Key: r.RecordKey, Value: r.Value})
	}
	return records, nil
}

// BatchPut writes all records in one transaction.
func (s *SQLStore) BatchPut(ctx context.Context, records []Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	rows := make([]recordRow, len(records))
	for i, r := range records {
		rows[i] = recordRow{RecordKey: r.Key, Value: r.Value, Version: 1, UpdatedAt: now}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(upsertClause()).CreateInBatches(rows, sqlBatchSize).Error
	})
	if err != nil {
		return recordKeys(records), fmt.Errorf("sql batch put: %w", err)
	}
	return nil, nil
}

func (s *SQLStore) BatchDelete(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if err := s.db.WithContext(ctx).Where("record_key IN ?", keys).Delete(&recordRow{}).Error; err != nil {
		return append([]string(nil), keys...), fmt.Errorf("sql batch delete: %w", err)
	}
	return nil, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
