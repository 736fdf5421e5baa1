package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// MessageType classifies a direct message.
type MessageType string

// Message types accepted by the messaging core.
const (
	MessageTypeGeneral        MessageType = "general"
	MessageTypeBehaviorReport MessageType = "behavior_report"
	MessageTypeProgressReport MessageType = "progress_report"
	MessageTypeAnnouncement   MessageType = "announcement"
)

// ValidMessageType reports whether the supplied value is a known message type.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageTypeGeneral, MessageTypeBehaviorReport, MessageTypeProgressReport, MessageTypeAnnouncement:
		return true
	}
	return false
}

// Message priorities.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// ValidPriority reports whether the supplied value is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// MaxMessageContentLength bounds the content accepted for a single message.
const MaxMessageContentLength = 4000

// Message represents a directed message between two users, optionally tagged
// with a student. Rows are immutable after creation except for the read flag
// and soft-delete state.
type Message struct {
	BaseModel

	SenderID    string      `gorm:"type:uuid;index;not null" json:"sender_id"`
	RecipientID string      `gorm:"type:uuid;index;not null" json:"recipient_id"`
	StudentID   string      `gorm:"type:uuid;index" json:"student_id,omitempty"`
	Subject     string      `gorm:"type:varchar(255)" json:"subject,omitempty"`
	Content     string      `gorm:"type:text;not null" json:"content"`
	Type        MessageType `gorm:"type:varchar(32);not null;default:'general'" json:"type"`
	Priority    string      `gorm:"type:varchar(16);not null;default:'normal'" json:"priority"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Malformed reports whether the message is missing a participant and must be
// dropped during aggregation instead of corrupting thread state.
func (m Message) Malformed() bool {
	return strings.TrimSpace(m.SenderID) == "" || strings.TrimSpace(m.RecipientID) == ""
}

// Participant returns the counterpart of the supplied viewer, or an empty
// string when the viewer is not part of the message.
func (m Message) Participant(viewerID string) string {
	switch viewerID {
	case m.SenderID:
		return m.RecipientID
	case m.RecipientID:
		return m.SenderID
	}
	return ""
}

// Equal reports whether two rows carry identical attributes. Used to detect
// duplicate feed deliveries, which must be applied as no-ops.
func (m Message) Equal(other Message) bool {
	if m.ID != other.ID ||
		m.SenderID != other.SenderID ||
		m.RecipientID != other.RecipientID ||
		m.StudentID != other.StudentID ||
		m.Subject != other.Subject ||
		m.Content != other.Content ||
		m.Type != other.Type ||
		m.Priority != other.Priority ||
		m.IsRead != other.IsRead {
		return false
	}
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return false
	}
	if (m.ReadAt == nil) != (other.ReadAt == nil) {
		return false
	}
	if m.ReadAt != nil && !m.ReadAt.Equal(*other.ReadAt) {
		return false
	}
	return true
}
