// Package sqlitecache implements cache.Backend on top of a single-file
// SQLite database via GORM (dialector selection, WAL pragma DSN,
// AutoMigrate, silent logger).
package sqlitecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/mokuro-online/internal/cache"
)

// entry is the single GORM model backing the cache's `entries` table:
// `entries(key TEXT PRIMARY KEY, val BLOB, exp INTEGER, updated INTEGER)`,
// with exp and updated held as unix nanoseconds.
type entry struct {
	Key     string `gorm:"column:key;primaryKey"`
	Val     []byte `gorm:"column:val"`
	Exp     int64  `gorm:"column:exp;index"` // unix nanos; 0 = never
	Updated int64  `gorm:"column:updated;index"`
}

func (entry) TableName() string { return "entries" }

// Config selects the database file location.
type Config struct {
	// Path is the filesystem location of the sqlite database
	// (OCR_CACHE_PATH).
	Path string
}

// Backend is a cache.Backend backed by SQLite through GORM.
type Backend struct {
	db *gorm.DB
}

// Open creates (or opens) the sqlite database at cfg.Path, applying the
// WAL + busy-timeout pragmas and auto-migrating the entries table.
func Open(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitecache: path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlitecache: create database directory: %w", err)
		}
	}

	// journal_mode(WAL): allow concurrent readers while one writer holds
	// the lock; busy_timeout(5000): wait instead of failing immediately
	// under write contention from concurrent cache callers.
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitecache: open: %w", err)
	}

	// SQLite allows only one writer at a time regardless of the Go
	// connection pool; capping at one connection avoids SQLITE_BUSY
	// storms under the WAL writer lock and matches the requirement
	// that the engine serializes writes.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("sqlitecache: migrate: %w", err)
	}

	return &Backend{db: db}, nil
}

var _ cache.Backend = (*Backend)(nil)

func expToInt64(exp time.Time) int64 {
	if exp.IsZero() {
		return 0
	}
	return exp.UnixNano()
}

func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	var count int64
	err := b.db.WithContext(ctx).Model(&entry{}).
		Where("key = ? AND (exp = 0 OR exp > ?)", key, time.Now().UnixNano()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("sqlitecache: has: %w", err)
	}
	return count > 0, nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row entry
	err := b.db.WithContext(ctx).
		Where("key = ? AND (exp = 0 OR exp > ?)", key, time.Now().UnixNano()).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqlitecache: get: %w", err)
	}
	return row.Val, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, val []byte, exp time.Time) error {
	row := entry{Key: key, Val: val, Exp: expToInt64(exp), Updated: time.Now().UnixNano()}
	err := b.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return fmt.Errorf("sqlitecache: set: %w", err)
	}
	return nil
}

func (b *Backend) Add(ctx context.Context, key string, val []byte, exp time.Time) (bool, error) {
	row := entry{Key: key, Val: val, Exp: expToInt64(exp), Updated: time.Now().UnixNano()}
	err := b.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return true, nil
	}
	if isUniqueConstraintError(err) {
		return false, nil
	}
	return false, fmt.Errorf("sqlitecache: add: %w", err)
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	res := b.db.WithContext(ctx).Where("key = ?", key).Delete(&entry{})
	if res.Error != nil {
		return false, fmt.Errorf("sqlitecache: delete: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (b *Backend) Clear(ctx context.Context) error {
	if err := b.db.WithContext(ctx).Exec("DELETE FROM entries").Error; err != nil {
		return fmt.Errorf("sqlitecache: clear: %w", err)
	}
	if err := b.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("sqlitecache: vacuum: %w", err)
	}
	return nil
}

func (b *Backend) Count(ctx context.Context) (int64, error) {
	var count int64
	err := b.db.WithContext(ctx).Model(&entry{}).
		Where("exp = 0 OR exp > ?", time.Now().UnixNano()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("sqlitecache: count: %w", err)
	}
	return count, nil
}

func (b *Backend) TotalBytes(ctx context.Context) (int64, error) {
	var rows []entry
	if err := b.db.WithContext(ctx).Select("val").Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("sqlitecache: total bytes: %w", err)
	}
	var total int64
	for _, r := range rows {
		total += int64(len(r.Val))
	}
	return total, nil
}

func (b *Backend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := b.db.WithContext(ctx).Where("exp > 0 AND exp <= ?", now.UnixNano()).Delete(&entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("sqlitecache: delete expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (b *Backend) DeleteOldest(ctx context.Context, n int) ([]string, int64, error) {
	if n <= 0 {
		return nil, 0, nil
	}
	var rows []entry
	if err := b.db.WithContext(ctx).Order("updated ASC").Limit(n).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("sqlitecache: select oldest: %w", err)
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Updated < rows[j].Updated })

	keys := make([]string, 0, len(rows))
	var freed int64
	for _, r := range rows {
		keys = append(keys, r.Key)
		freed += int64(len(r.Val))
	}
	if err := b.db.WithContext(ctx).Where("key IN ?", keys).Delete(&entry{}).Error; err != nil {
		return nil, 0, fmt.Errorf("sqlitecache: delete oldest: %w", err)
	}
	return keys, freed, nil
}

func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("sqlitecache: close: %w", err)
	}
	return sqlDB.Close()
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
