package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/classline/classline/internal/conversations"
	"github.com/classline/classline/internal/models"
	"github.com/classline/classline/internal/search"
	"github.com/classline/classline/internal/store"
	apperrors "github.com/classline/classline/pkg/errors"
	"github.com/classline/classline/pkg/logger"
)

// MessageService drives the message log: sends, read transitions, deletions
// and the viewer-facing conversation and search queries.
type MessageService struct {
	db      *gorm.DB
	store   *store.MessageStore
	manager *conversations.Manager
	log     *zap.Logger
}

// NewMessageService constructs a MessageService.
func NewMessageService(db *gorm.DB, messageStore *store.MessageStore, manager *conversations.Manager) (*MessageService, error) {
	if db == nil {
		return nil, errors.New("message service: db is required")
	}
	if messageStore == nil {
		return nil, errors.New("message service: message store is required")
	}
	if manager == nil {
		return nil, errors.New("message service: subscription manager is required")
	}
	return &MessageService{
		db:      db,
		store:   messageStore,
		manager: manager,
		log:     logger.WithModule("messages"),
	}, nil
}

// SendInput captures the attributes of a new message.
type SendInput struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	StudentID   string `json:"student_id"`
	Subject     string `json:"subject"`
	Content     string `json:"content" binding:"required"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
}

// Send validates and appends a new message to the log.
func (s *MessageService) Send(ctx context.Context, senderID string, input SendInput) (*models.Message, error) {
	senderID = strings.TrimSpace(senderID)
	recipientID := strings.TrimSpace(input.RecipientID)
	content := strings.TrimSpace(input.Content)

	if senderID == "" || recipientID == "" {
		return nil, apperrors.NewBadRequest("sender and recipient are required")
	}
	if senderID == recipientID {
		return nil, apperrors.NewBadRequest("cannot send a message to yourself")
	}
	if content == "" {
		return nil, apperrors.NewBadRequest("content is required")
	}
	if len(content) > models.MaxMessageContentLength {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("content exceeds %d characters", models.MaxMessageContentLength))
	}

	msgType := models.MessageTypeGeneral
	if raw := strings.TrimSpace(input.Type); raw != "" {
		msgType = models.MessageType(raw)
		if !models.ValidMessageType(msgType) {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown message type %q", raw))
		}
	}

	priority := models.PriorityNormal
	if raw := strings.TrimSpace(input.Priority); raw != "" {
		priority = raw
		if !models.ValidPriority(priority) {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown priority %q", raw))
		}
	}

	if err := s.ensureUserExists(ctx, recipientID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		StudentID:   strings.TrimSpace(input.StudentID),
		Subject:     strings.TrimSpace(input.Subject),
		Content:     content,
		Type:        msgType,
		Priority:    priority,
	}

	created, err := s.store.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}

	s.log.Info("message sent",
		zap.String("message_id", created.ID),
		zap.String("sender_id", senderID),
		zap.String("recipient_id", recipientID),
		zap.String("type", string(msgType)))
	return created, nil
}

// MarkRead transitions a message's read state. Only the recipient may change it.
func (s *MessageService) MarkRead(ctx context.Context, viewerID, messageID string, read bool) (*models.Message, error) {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.RecipientID != viewerID {
		return nil, apperrors.ErrForbidden
	}

	return s.store.Update(ctx, messageID, store.Patch{IsRead: &read})
}

// MarkAllRead transitions every unread message addressed to the viewer that
// matches the scope filter. The viewer's live subscription applies the reset
// locally before the feed echoes the per-row updates, so connected clients
// see the unread counter drop to zero in one step.
func (s *MessageService) MarkAllRead(ctx context.Context, viewerID string, scope search.Filter) (int, error) {
	rows, err := s.store.MarkAllRead(ctx, viewerID, scope)
	if err != nil {
		return 0, err
	}

	if scope == (search.Filter{}) {
		s.manager.MarkAllRead(viewerID)
	}

	return len(rows), nil
}

// Delete removes a message. Either participant may delete it.
func (s *MessageService) Delete(ctx context.Context, viewerID, messageID string) error {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Participant(viewerID) == "" {
		return apperrors.ErrForbidden
	}

	if _, err := s.store.Delete(ctx, messageID); err != nil {
		return err
	}

	s.log.Info("message deleted",
		zap.String("message_id", messageID),
		zap.String("user_id", viewerID))
	return nil
}

// List returns one page of the viewer's messages, filtered and ordered
// newest first.
func (s *MessageService) List(ctx context.Context, viewerID string, filter search.Filter, page search.Page) (*search.MessagePage, error) {
	return s.query(ctx, store.QueryInput{ViewerID: viewerID, Filter: filter, Page: page})
}

// Thread returns one page of the conversation identified by key, newest
// first. The viewer must be a participant, which holds by construction since
// the query is scoped to rows the viewer participates in.
func (s *MessageService) Thread(ctx context.Context, viewerID, rawKey string, page search.Page) (*search.MessagePage, error) {
	key, ok := conversations.ParseKey(rawKey)
	if !ok {
		return nil, apperrors.NewBadRequest("malformed conversation key")
	}

	input := store.QueryInput{
		ViewerID:      viewerID,
		CounterpartID: key.CounterpartID,
		Page:          page,
	}
	if key.General() {
		input.GeneralOnly = true
	} else {
		input.Filter.StudentID = key.StudentID
	}

	return s.query(ctx, input)
}

// Conversations returns the viewer's aggregated conversation list and total
// unread count. A connected viewer is served from the live subscription;
// otherwise the list is aggregated from a cold load.
func (s *MessageService) Conversations(ctx context.Context, viewerID string) ([]conversations.Conversation, int, error) {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return nil, 0, apperrors.NewBadRequest("viewer id is required")
	}

	// If the subscription degrades between the phase check and the snapshot
	// calls it still answers promptly from its last synced state, so the
	// check only routes, it does not guard against blocking.
	if sub, ok := s.manager.Get(viewerID); ok && sub.Phase() == conversations.PhaseSynced {
		return sub.Conversations(), sub.TotalUnread(), nil
	}

	msgs, err := s.store.LoadForViewer(ctx, viewerID)
	if err != nil {
		return nil, 0, err
	}
	return conversations.Aggregate(viewerID, msgs), conversations.UnreadCount(viewerID, msgs), nil
}

// UnreadCount returns the viewer's total unread message count.
func (s *MessageService) UnreadCount(ctx context.Context, viewerID string) (int64, error) {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return 0, apperrors.NewBadRequest("viewer id is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("recipient_id = ? AND is_read = ?", viewerID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("message service: count unread: %w", err)
	}
	return count, nil
}

func (s *MessageService) query(ctx context.Context, input store.QueryInput) (*search.MessagePage, error) {
	page := input.Page.Normalize()
	input.Page = page

	rows, total, err := s.store.Query(ctx, input)
	if err != nil {
		return nil, err
	}

	return &search.MessagePage{
		Items:      rows,
		Total:      int(total),
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: search.TotalPages(total, page.Limit),
	}, nil
}

func (s *MessageService) loadMessage(ctx context.Context, messageID string) (*models.Message, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, apperrors.NewBadRequest("message id is required")
	}

	var msg models.Message
	if err := s.db.WithContext(ctx).Take(&msg, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("message service: load message: %w", err)
	}
	return &msg, nil
}

func (s *MessageService) ensureUserExists(ctx context.Context, userID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("message service: check recipient: %w", err)
	}
	if count == 0 {
		return apperrors.New("RECIPIENT_NOT_FOUND", "recipient does not exist", 404)
	}
	return nil
}
