package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel carries the identifier and timestamp columns shared by every
// persistent row. Identifiers are string UUIDs so they survive round-trips
// through JSON and websocket payloads unchanged.
type BaseModel struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not supply one. Callers may
// preset IDs, which keeps fixtures and event replays deterministic.
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(m.ID) == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
