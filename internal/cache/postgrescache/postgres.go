// Package postgrescache implements cache.Backend on top of PostgreSQL
// through GORM -- an alternate durable engine for deployments that
// already run Postgres and would rather not manage a separate SQLite
// file alongside it.
package postgrescache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/mokuro-online/internal/cache"
)

// entry is the single GORM model backing the cache's `entries` table,
// identical in shape to sqlitecache's (same Backend contract, different
// dialector).
type entry struct {
	Key     string `gorm:"column:key;primaryKey"`
	Val     []byte `gorm:"column:val"`
	Exp     int64  `gorm:"column:exp;index"`
	Updated int64  `gorm:"column:updated;index"`
}

func (entry) TableName() string { return "entries" }

// Config selects the Postgres connection.
type Config struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
}

// DSN returns the libpq connection string Open passes to the postgres
// driver.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// Backend is a cache.Backend backed by Postgres through GORM.
type Backend struct {
	db *gorm.DB
}

// Open connects to cfg's database and auto-migrates the entries table.
func Open(cfg Config) (*Backend, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("postgrescache: database is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("postgrescache: open: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		sqlDB.SetMaxOpenConns(maxOpen)
	}

	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("postgrescache: migrate: %w", err)
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
		return false, fmt.Errorf("postgrescache: has: %w", err)
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
		return nil, false, fmt.Errorf("postgrescache: get: %w", err)
	}
	return row.Val, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, val []byte, exp time.Time) error {
	row := entry{Key: key, Val: val, Exp: expToInt64(exp), Updated: time.Now().UnixNano()}
	err := b.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return fmt.Errorf("postgrescache: set: %w", err)
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
	return false, fmt.Errorf("postgrescache: add: %w", err)
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	res := b.db.WithContext(ctx).Where("key = ?", key).Delete(&entry{})
	if res.Error != nil {
		return false, fmt.Errorf("postgrescache: delete: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (b *Backend) Clear(ctx context.Context) error {
	if err := b.db.WithContext(ctx).Exec("TRUNCATE TABLE entries").Error; err != nil {
		return fmt.Errorf("postgrescache: clear: %w", err)
	}
	return nil
}

func (b *Backend) Count(ctx context.Context) (int64, error) {
	var count int64
	err := b.db.WithContext(ctx).Model(&entry{}).
		Where("exp = 0 OR exp > ?", time.Now().UnixNano()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("postgrescache: count: %w", err)
	}
	return count, nil
}

func (b *Backend) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	row := b.db.WithContext(ctx).Model(&entry{}).Select("COALESCE(SUM(LENGTH(val)), 0)").Row()
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("postgrescache: total bytes: %w", err)
	}
	return total, nil
}

func (b *Backend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := b.db.WithContext(ctx).Where("exp > 0 AND exp <= ?", now.UnixNano()).Delete(&entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("postgrescache: delete expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (b *Backend) DeleteOldest(ctx context.Context, n int) ([]string, int64, error) {
	if n <= 0 {
		return nil, 0, nil
	}
	var rows []entry
	if err := b.db.WithContext(ctx).Order("updated ASC").Limit(n).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("postgrescache: select oldest: %w", err)
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
		return nil, 0, fmt.Errorf("postgrescache: delete oldest: %w", err)
	}
	return keys, freed, nil
}

func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("postgrescache: close: %w", err)
	}
	return sqlDB.Close()
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	pgErr, ok := err.(interface{ SQLState() string })
	if ok {
		return pgErr.SQLState() == "23505"
	}
	return false
}
