package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationType classifies an in-app notification.
type NotificationType string

// Notification types emitted by the dispatcher.
const (
	NotificationTypeBehaviorLogged    NotificationType = "behavior_logged"
	NotificationTypeRewardRedeemed    NotificationType = "reward_redeemed"
	NotificationTypeBadgeEarned       NotificationType = "badge_earned"
	NotificationTypeMilestoneAchieved NotificationType = "milestone_achieved"
	NotificationTypeStreakBroken      NotificationType = "streak_broken"
	NotificationTypeMessage           NotificationType = "message"
	NotificationTypeAnnouncement      NotificationType = "announcement"
)

// ValidNotificationType reports whether the supplied value is a known type.
func ValidNotificationType(t NotificationType) bool {
	switch t {
	case NotificationTypeBehaviorLogged, NotificationTypeRewardRedeemed, NotificationTypeBadgeEarned,
		NotificationTypeMilestoneAchieved, NotificationTypeStreakBroken, NotificationTypeMessage,
		NotificationTypeAnnouncement:
		return true
	}
	return false
}

// Notification represents an in-app notification owned by a single user.
// The (user_id, source_event_id) pair is unique so duplicate feed deliveries
// cannot persist the same notification twice.
type Notification struct {
	BaseModel

	UserID        string           `gorm:"type:uuid;index;not null;uniqueIndex:idx_notifications_dedup" json:"user_id"`
	SourceEventID string           `gorm:"type:uuid;not null;uniqueIndex:idx_notifications_dedup" json:"source_event_id"`
	Type          NotificationType `gorm:"type:varchar(64);not null" json:"type"`
	Title         string           `gorm:"type:varchar(255);not null" json:"title"`
	Content       string           `gorm:"type:text" json:"content"`
	RelatedData   datatypes.JSON   `json:"related_data,omitempty"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}
