package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/classline/classline/internal/models"
)

var errStoreNotInitialised = errors.New("cache: database store not initialised")

// DatabaseStore keeps cache entries in the primary SQL database so
// single-node deployments work without Redis. A zero expiry means the entry
// never expires.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db}
}

func (s *DatabaseStore) session(ctx context.Context) (*gorm.DB, error) {
	if s == nil {
		return nil, errStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.db.WithContext(ctx), nil
}

// IncrementWithTTL bumps the counter stored under key inside a row-locked
// transaction. An expired or missing row restarts the window at 1.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	db, err := s.session(ctx)
	if err != nil {
		return 0, 0, err
	}
	if window <= 0 {
		window = time.Minute
	}

	now := time.Now()
	expiry := now.Add(window)
	var count int64

	err = db.Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		lookupErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&entry, "key = ?", key).Error

		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			count = 1
			return tx.Create(&models.CacheEntry{
				Key:       key,
				Value:     []byte("1"),
				ExpiresAt: expiry,
			}).Error
		case lookupErr != nil:
			return lookupErr
		}

		if entry.ExpiresAt.Before(now) {
			count = 1
		} else {
			prev, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count = prev + 1
		}
		entry.Value = strconv.AppendInt(nil, count, 10)
		entry.ExpiresAt = expiry
		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}
	return count, expiry.Sub(now), nil
}

// Set upserts the value under key. A non-positive ttl stores the entry
// without expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	db, err := s.session(ctx)
	if err != nil {
		return err
	}

	entry := models.CacheEntry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&entry).Error
}

// Get returns the value under key, treating lapsed entries as absent and
// reaping them as a side effect.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := s.session(ctx)
	if err != nil {
		return nil, false, err
	}

	var entry models.CacheEntry
	lookupErr := db.Take(&entry, "key = ?", key).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if lookupErr != nil {
		return nil, false, lookupErr
	}

	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Delete removes the given keys; missing keys are ignored.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		if s == nil {
			return errStoreNotInitialised
		}
		return nil
	}

	db, err := s.session(ctx)
	if err != nil {
		return err
	}
	return db.Where("key IN ?", keys).Delete(&models.CacheEntry{}).Error
}

// PurgeExpired deletes entries whose expiry has lapsed. Entries stored
// without expiry are kept. Called from the maintenance cleaner.
func (s *DatabaseStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	db, err := s.session(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Where("expires_at > ? AND expires_at < ?", time.Time{}, now).
		Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}
