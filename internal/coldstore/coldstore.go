// Package coldstore wraps the durable relational backup spec.md calls out of
// scope to redesign but whose contract (durable write, newest-first read,
// 7-day retention sweep) the core depends on as a fallback beneath the hot
// Redis store.
package coldstore

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/archway-network/lambo/internal/model"
)

// ColdStore persists metric history and server policy records durably.
type ColdStore struct {
	db *gorm.DB
}

// Open connects using driver ("postgres" or "sqlite") and dsn, then
// auto-migrates the schema.
func Open(driver, dsn string) (*ColdStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported cold store driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open cold store: %w", err)
	}
	if err := db.AutoMigrate(&model.MetricHistoryRecord{}, &model.PolicyRecord{}); err != nil {
		return nil, fmt.Errorf("migrate cold store: %w", err)
	}
	return &ColdStore{db: db}, nil
}

// Insert durably persists one metric sample. Failures are logged by the
// caller (C2) — this method returns the error, the ingestor decides whether
// it is fatal to the current step (it never is, per spec §4.2).
func (c *ColdStore) Insert(sample model.MetricSample) error {
	rec := model.FromSample(sample)
	return c.db.Create(&rec).Error
}

// Newest returns the most recent sample for serverID, newest-first, used as
// the EWMA seed and recompute fallback when the hot store is empty.
func (c *ColdStore) Newest(serverID string) (model.MetricSample, bool, error) {
	var rec model.MetricHistoryRecord
	err := c.db.Where("server_id = ?", serverID).Order("created_at DESC").First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return model.MetricSample{}, false, nil
		}
		return model.MetricSample{}, false, err
	}
	return rec.ToSample(), true, nil
}

// Prune deletes metric history older than cutoff, implementing the 7-day
// retention sweep from spec §3/§8 (C8's nightly timer).
func (c *ColdStore) Prune(cutoff time.Time) (int64, error) {
	res := c.db.Where("created_at < ?", cutoff).Delete(&model.MetricHistoryRecord{})
	return res.RowsAffected, res.Error
}

// GetPolicy loads a server's persisted policy record, if any.
func (c *ColdStore) GetPolicy(serverID string) (model.ServerPolicy, bool, error) {
	var rec model.PolicyRecord
	err := c.db.Where("server_id = ?", serverID).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return model.ServerPolicy{}, false, nil
		}
		return model.ServerPolicy{}, false, err
	}
	return rec.ToPolicy(), true, nil
}

// UpsertPolicy persists policy, replacing any record for the same server id.
func (c *ColdStore) UpsertPolicy(policy model.ServerPolicy) error {
	rec := model.FromPolicy(policy)
	return c.db.Save(&rec).Error
}

// AllPolicies loads every persisted policy record (used to warm the
// in-process policy cache on startup).
func (c *ColdStore) AllPolicies() ([]model.ServerPolicy, error) {
	var recs []model.PolicyRecord
	if err := c.db.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.ServerPolicy, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ToPolicy())
	}
	return out, nil
}

// Close releases the underlying database connection.
func (c *ColdStore) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
