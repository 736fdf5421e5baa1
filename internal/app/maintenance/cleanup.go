package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/classline/classline/internal/cache"
	"github.com/classline/classline/internal/models"
	"github.com/classline/classline/pkg/logger"
)

const (
	defaultSchedule                  = "@hourly"
	defaultNotificationRetentionDays = 90
	defaultMessagePurgeDays          = 30
)

// Cleaner coordinates background maintenance: purging expired cache entries,
// pruning aged read notifications, and hard-deleting messages that outlived
// the soft-delete grace period.
type Cleaner struct {
	db         *gorm.DB
	cacheStore *cache.DatabaseStore
	cron       *cron.Cron
	now        func() time.Time
	log        *zap.Logger

	schedule              string
	notificationRetention int
	messagePurgeDays      int
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSchedule overrides the cron specification for all cleanup jobs.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithNotificationRetentionDays adjusts how long read notifications are kept.
func WithNotificationRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.notificationRetention = days
		}
	}
}

// WithMessagePurgeDays adjusts the soft-delete grace period for messages.
func WithMessagePurgeDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.messagePurgeDays = days
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil cache store
// skips the cache purge job.
func NewCleaner(db *gorm.DB, cacheStore *cache.DatabaseStore, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:                    db,
		cacheStore:            cacheStore,
		now:                   time.Now,
		schedule:              defaultSchedule,
		notificationRetention: defaultNotificationRetentionDays,
		messagePurgeDays:      defaultMessagePurgeDays,
		log:                   logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup job with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.db == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("cleanup run failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Also used in
// tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.cacheStore != nil {
		if _, err := c.cacheStore.PurgeExpired(ctx, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		if _, err := CleanupNotifications(ctx, c.db, c.now(), c.notificationRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := PurgeDeletedMessages(ctx, c.db, c.now(), c.messagePurgeDays); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// CleanupNotifications removes read notifications older than the retention
// period.
func CleanupNotifications(ctx context.Context, db *gorm.DB, now time.Time, retentionDays int) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup notifications: db is required")
	}
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	result := db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeDeletedMessages hard-deletes messages whose soft delete is older than
// the grace period.
func PurgeDeletedMessages(ctx context.Context, db *gorm.DB, now time.Time, graceDays int) (int64, error) {
	if db == nil {
		return 0, errors.New("purge messages: db is required")
	}
	if graceDays <= 0 {
		return 0, nil
	}

	cutoff := now.AddDate(0, 0, -graceDays)
	result := db.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Delete(&models.Message{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}
