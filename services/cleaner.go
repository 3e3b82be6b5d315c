package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/storage"
	"github.com/cppla/dailycheckin/utils"
)

const (
	maxDeletionAttempts = 5
	cleanerBatchSize    = 100
)

// Cleaner retries object deletions that failed during check-in removal.
type Cleaner struct {
	db       *gorm.DB
	store    storage.ObjectStore
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

func NewCleaner(db *gorm.DB, store storage.ObjectStore, interval, timeout time.Duration, now func() time.Time) *Cleaner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Cleaner{db: db, store: store, interval: interval, timeout: timeout, now: now}
}

// Run sweeps on every tick until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				utils.Logger.Warn("object cleaner sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep processes due rows once and returns how many objects were removed.
// Rows that exhaust their attempts are dropped with an error log.
func (c *Cleaner) Sweep(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	now := c.now().UTC()
	var items []models.PendingObjectDeletion
	if err := c.db.WithContext(ctx).
		Where("next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Limit(cleanerBatchSize).
		Find(&items).Error; err != nil {
		return 0, err
	}

	removed := 0
	for _, it := range items {
		dctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.store.Delete(dctx, it.ObjectKey)
		cancel()
		if err == nil {
			if err := c.db.WithContext(ctx).Delete(&models.PendingObjectDeletion{}, it.ID).Error; err != nil {
				utils.Logger.Warn("cleaner delete row failed", zap.Uint("id", it.ID), zap.Error(err))
			}
			removed++
			continue
		}

		it.Attempts++
		if it.Attempts >= maxDeletionAttempts {
			utils.Logger.Error("giving up on object deletion",
				zap.String("key", it.ObjectKey),
				zap.Int("attempts", it.Attempts),
				zap.Error(err))
			if err := c.db.WithContext(ctx).Delete(&models.PendingObjectDeletion{}, it.ID).Error; err != nil {
				utils.Logger.Warn("cleaner delete row failed", zap.Uint("id", it.ID), zap.Error(err))
			}
			continue
		}
		it.LastError = truncate(err.Error(), 512)
		it.NextAttemptAt = now.Add(time.Duration(it.Attempts*it.Attempts) * pendingRetryDelay)
		if err := c.db.WithContext(ctx).Save(&it).Error; err != nil {
			utils.Logger.Warn("cleaner reschedule failed", zap.Uint("id", it.ID), zap.Error(err))
		}
	}
	return removed, nil
}
