package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/classline/classline/internal/models"
	"github.com/classline/classline/internal/notifications"
	"github.com/classline/classline/internal/search"
	apperrors "github.com/classline/classline/pkg/errors"
)

// Notification hub events pushed on read-state changes.
const (
	eventNotificationRead    = "notification.read"
	eventNotificationDeleted = "notification.deleted"
	eventNotificationsUpdate = "notifications.update"
)

// NotificationService manages the persisted notification surface: listing,
// read transitions and removal. Creation belongs to the dispatcher.
type NotificationService struct {
	db  *gorm.DB
	hub *notifications.Hub
	now func() time.Time
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, hub *notifications.Hub) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	if hub == nil {
		return nil, errors.New("notification service: hub is required")
	}
	return &NotificationService{db: db, hub: hub, now: time.Now}, nil
}

// NotificationPage is one page of notifications with pagination totals.
type NotificationPage struct {
	Items      []models.Notification `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
	TotalPages int                   `json:"total_pages"`
}

// List returns one page of the user's notifications, newest first. When
// unreadOnly is set, read rows are excluded.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, page search.Page) (*NotificationPage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	page = page.Normalize()

	query := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("notification service: count: %w", err)
	}

	var items []models.Notification
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("notification service: list: %w", err)
	}

	return &NotificationPage{
		Items:      items,
		Total:      total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: search.TotalPages(total, page.Limit),
	}, nil
}

// UnreadCount returns the number of unread notifications for the user.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.NewBadRequest("user id is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notification service: count unread: %w", err)
	}
	return count, nil
}

// MarkRead marks a single notification as read. Idempotent.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	notification, err := s.load(ctx, userID, notificationID)
	if err != nil {
		return nil, err
	}

	if !notification.IsRead {
		now := s.now().UTC()
		notification.IsRead = true
		notification.ReadAt = &now

		if err := s.db.WithContext(ctx).Model(&models.Notification{}).
			Where("id = ?", notification.ID).
			Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
			return nil, fmt.Errorf("notification service: mark read: %w", err)
		}

		s.broadcastUnread(ctx, userID, notifications.Event{
			Event:          eventNotificationRead,
			NotificationID: notification.ID,
		})
	}

	return notification, nil
}

// MarkAllRead marks every unread notification for the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.NewBadRequest("user id is required")
	}

	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "read_at": s.now().UTC()})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.broadcastUnread(ctx, userID, notifications.Event{Event: eventNotificationsUpdate})
	}
	return result.RowsAffected, nil
}

// Delete removes one notification belonging to the user.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	notification, err := s.load(ctx, userID, notificationID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).
		Delete(&models.Notification{}, "id = ?", notification.ID).Error; err != nil {
		return fmt.Errorf("notification service: delete: %w", err)
	}

	s.broadcastUnread(ctx, userID, notifications.Event{
		Event:          eventNotificationDeleted,
		NotificationID: notification.ID,
	})
	return nil
}

// ClearAll removes every notification for the user.
func (s *NotificationService) ClearAll(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.NewBadRequest("user id is required")
	}

	result := s.db.WithContext(ctx).
		Delete(&models.Notification{}, "user_id = ?", userID)
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: clear all: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.broadcastUnread(ctx, userID, notifications.Event{Event: eventNotificationsUpdate})
	}
	return result.RowsAffected, nil
}

func (s *NotificationService) load(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	userID = strings.TrimSpace(userID)
	notificationID = strings.TrimSpace(notificationID)
	if userID == "" || notificationID == "" {
		return nil, apperrors.NewBadRequest("user id and notification id are required")
	}

	var notification models.Notification
	err := s.db.WithContext(ctx).
		Take(&notification, "id = ?", notificationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification service: load: %w", err)
	}

	if notification.UserID != userID {
		return nil, apperrors.ErrForbidden
	}
	return &notification, nil
}

// broadcastUnread pushes the event with a fresh unread count attached.
func (s *NotificationService) broadcastUnread(ctx context.Context, userID string, event notifications.Event) {
	if count, err := s.UnreadCount(ctx, userID); err == nil {
		event.UnreadCount = &count
	}
	s.hub.Broadcast(userID, event)
}
