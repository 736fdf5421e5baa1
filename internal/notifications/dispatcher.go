package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/classline/classline/internal/database"
	"github.com/classline/classline/internal/feed"
	"github.com/classline/classline/internal/models"
	apperrors "github.com/classline/classline/pkg/errors"
	"github.com/classline/classline/pkg/logger"
	"github.com/classline/classline/pkg/metrics"
)

// EventNotificationCreated is pushed to subscribers when a notification row
// is created for them.
const EventNotificationCreated = "notification.created"

// Dispatcher turns message-log inserts and external activity events into
// persisted notifications, pushing each one to connected subscribers.
// Deduplication rests on the (user_id, source_event_id) unique index, so a
// redelivered change produces no second notification and no second push.
type Dispatcher struct {
	db     *gorm.DB
	broker *feed.Broker
	hub    *Hub
	log    *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(db *gorm.DB, broker *feed.Broker, hub *Hub) (*Dispatcher, error) {
	if db == nil {
		return nil, errors.New("dispatcher: db is required")
	}
	if broker == nil {
		return nil, errors.New("dispatcher: feed broker is required")
	}
	if hub == nil {
		return nil, errors.New("dispatcher: notification hub is required")
	}
	return &Dispatcher{
		db:     db,
		broker: broker,
		hub:    hub,
		log:    logger.WithModule("notifications"),
	}, nil
}

// Run consumes the change feed until the context is cancelled. A lagged
// subscription is re-established; inserts published while disconnected are
// not retried, their notifications are lost.
func (d *Dispatcher) Run(ctx context.Context) {
	inserts := func(e feed.Event) bool { return e.Type == feed.EventInsert }

	for {
		sub := d.broker.Subscribe(inserts, 0)

		if !d.consume(ctx, sub) {
			d.broker.Unsubscribe(sub)
			return
		}
		d.log.Warn("dispatcher feed subscription lagged, resubscribing")
	}
}

// consume reads events until cancellation (returns false) or subscription
// loss (returns true).
func (d *Dispatcher) consume(ctx context.Context, sub *feed.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-sub.Done():
			return true
		case event := <-sub.Events():
			if _, _, err := d.dispatchMessage(ctx, event); err != nil {
				d.log.Error("dispatch message notification",
					zap.String("source_event_id", event.SourceID),
					zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) dispatchMessage(ctx context.Context, event feed.Event) (*models.Notification, bool, error) {
	msg := event.Row
	if msg.Malformed() {
		metrics.MalformedMessages.Inc()
		return nil, false, nil
	}

	notifType := models.NotificationTypeMessage
	title := "New message"
	if msg.Type == models.MessageTypeAnnouncement {
		notifType = models.NotificationTypeAnnouncement
		title = "New announcement"
	}
	if msg.Subject != "" {
		title = msg.Subject
	}

	related, err := json.Marshal(map[string]string{
		"message_id": msg.ID,
		"sender_id":  msg.SenderID,
		"student_id": msg.StudentID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("dispatcher: marshal related data: %w", err)
	}

	notification := &models.Notification{
		UserID:        msg.RecipientID,
		SourceEventID: event.SourceID,
		Type:          notifType,
		Title:         title,
		Content:       summarize(msg.Content),
		RelatedData:   datatypes.JSON(related),
	}

	return d.persist(ctx, notification)
}

// IntakeEvent is an activity event submitted by an external producer, such
// as the gamification engine.
type IntakeEvent struct {
	UserID        string `json:"user_id"`
	SourceEventID string `json:"source_event_id"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	RelatedData   any    `json:"related_data,omitempty"`
}

// Intake persists a notification for an external activity event. The boolean
// result reports whether a new row was created; a repeat of an already-seen
// source event returns the existing row with created=false.
func (d *Dispatcher) Intake(ctx context.Context, event IntakeEvent) (*models.Notification, bool, error) {
	userID := strings.TrimSpace(event.UserID)
	sourceEventID := strings.TrimSpace(event.SourceEventID)
	if userID == "" || sourceEventID == "" {
		return nil, false, apperrors.NewBadRequest("user_id and source_event_id are required")
	}

	notifType := models.NotificationType(strings.TrimSpace(event.Type))
	if !models.ValidNotificationType(notifType) {
		return nil, false, apperrors.NewBadRequest(fmt.Sprintf("unknown notification type %q", event.Type))
	}

	title := strings.TrimSpace(event.Title)
	if title == "" {
		return nil, false, apperrors.NewBadRequest("title is required")
	}

	notification := &models.Notification{
		UserID:        userID,
		SourceEventID: sourceEventID,
		Type:          notifType,
		Title:         title,
		Content:       strings.TrimSpace(event.Content),
	}

	if event.RelatedData != nil {
		related, err := json.Marshal(event.RelatedData)
		if err != nil {
			return nil, false, apperrors.NewBadRequest("related_data is not serializable")
		}
		notification.RelatedData = datatypes.JSON(related)
	}

	return d.persist(ctx, notification)
}

// persist inserts the notification, resolving duplicate source events to the
// existing row. The push happens only on first insert.
func (d *Dispatcher) persist(ctx context.Context, notification *models.Notification) (*models.Notification, bool, error) {
	err := d.db.WithContext(ctx).Create(notification).Error
	if err == nil {
		metrics.NotificationsDispatched.WithLabelValues(string(notification.Type), "created").Inc()
		d.hub.Broadcast(notification.UserID, Event{
			Event:        EventNotificationCreated,
			Notification: notification,
		})
		return notification, true, nil
	}

	if database.IsUniqueConstraintError(err) {
		metrics.NotificationsDispatched.WithLabelValues(string(notification.Type), "duplicate").Inc()

		var existing models.Notification
		lookupErr := d.db.WithContext(ctx).
			Take(&existing, "user_id = ? AND source_event_id = ?", notification.UserID, notification.SourceEventID).
			Error
		if lookupErr != nil {
			return nil, false, fmt.Errorf("dispatcher: load duplicate notification: %w", lookupErr)
		}
		return &existing, false, nil
	}

	return nil, false, fmt.Errorf("dispatcher: create notification: %w", err)
}

const maxSummaryLength = 140

func summarize(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= maxSummaryLength {
		return content
	}
	// Back the cut up to a rune boundary so truncation never emits
	// invalid UTF-8.
	cut := maxSummaryLength - 1
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "…"
}
