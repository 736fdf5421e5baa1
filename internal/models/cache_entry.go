package models

import "time"

// CacheEntry backs the database cache store used for rate limiting and
// typing-indicator state when Redis is not configured.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;type:varchar(255)"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
}
