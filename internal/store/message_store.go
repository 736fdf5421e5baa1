package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/classline/classline/internal/feed"
	"github.com/classline/classline/internal/models"
	"github.com/classline/classline/internal/search"
	apperrors "github.com/classline/classline/pkg/errors"
)

// MessageStore is the typed adapter over the message log. Every successful
// mutation is published to the change feed after commit, so subscribers
// observe effects in commit order.
type MessageStore struct {
	db     *gorm.DB
	broker *feed.Broker
	now    func() time.Time
}

// NewMessageStore constructs a MessageStore.
func NewMessageStore(db *gorm.DB, broker *feed.Broker) (*MessageStore, error) {
	if db == nil {
		return nil, errors.New("message store: db is required")
	}
	if broker == nil {
		return nil, errors.New("message store: feed broker is required")
	}
	return &MessageStore{db: db, broker: broker, now: time.Now}, nil
}

// Patch describes the mutable attributes of a persisted message.
type Patch struct {
	IsRead *bool
}

// Insert appends a message to the log and publishes the insert event.
func (s *MessageStore) Insert(ctx context.Context, msg *models.Message) (*models.Message, error) {
	ctx = ensureContext(ctx)
	if msg == nil {
		return nil, errors.New("message store: message is required")
	}
	if msg.Malformed() {
		return nil, apperrors.NewBadRequest("sender and recipient are required")
	}
	if msg.SenderID == msg.RecipientID {
		return nil, apperrors.NewBadRequest("sender and recipient must differ")
	}

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("message store: insert: %w", err)
	}

	s.broker.Publish(feed.Event{SourceID: msg.ID, Type: feed.EventInsert, Row: *msg})
	return msg, nil
}

// Update applies a patch to a single row and publishes the update event.
func (s *MessageStore) Update(ctx context.Context, id string, patch Patch) (*models.Message, error) {
	ctx = ensureContext(ctx)
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("message id is required")
	}

	var msg models.Message
	if err := s.db.WithContext(ctx).Take(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("message store: load message: %w", err)
	}

	if patch.IsRead == nil || msg.IsRead == *patch.IsRead {
		return &msg, nil
	}

	updates := map[string]any{"is_read": *patch.IsRead}
	if *patch.IsRead {
		now := s.now().UTC()
		msg.ReadAt = &now
		updates["read_at"] = now
	} else {
		msg.ReadAt = nil
		updates["read_at"] = nil
	}
	msg.IsRead = *patch.IsRead

	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("message store: update: %w", err)
	}

	s.broker.Publish(feed.Event{SourceID: uuid.NewString(), Type: feed.EventUpdate, Row: msg})
	return &msg, nil
}

// BulkUpdate applies the patch to each of the supplied rows. One feed event
// is published per affected row; consumers must tolerate the split.
func (s *MessageStore) BulkUpdate(ctx context.Context, ids []string, patch Patch) ([]models.Message, error) {
	ctx = ensureContext(ctx)
	if len(ids) == 0 || patch.IsRead == nil {
		return nil, nil
	}

	var rows []models.Message
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND is_read <> ?", ids, *patch.IsRead).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("message store: bulk load: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	affected := make([]string, 0, len(rows))
	for _, row := range rows {
		affected = append(affected, row.ID)
	}

	updates := map[string]any{"is_read": *patch.IsRead}
	var readAt *time.Time
	if *patch.IsRead {
		now := s.now().UTC()
		readAt = &now
		updates["read_at"] = now
	} else {
		updates["read_at"] = nil
	}

	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id IN ?", affected).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("message store: bulk update: %w", err)
	}

	for i := range rows {
		rows[i].IsRead = *patch.IsRead
		rows[i].ReadAt = readAt
		s.broker.Publish(feed.Event{SourceID: uuid.NewString(), Type: feed.EventUpdate, Row: rows[i]})
	}
	return rows, nil
}

// MarkAllRead transitions every unread message addressed to the viewer that
// matches the scope filter. The bulk write is idempotent.
func (s *MessageStore) MarkAllRead(ctx context.Context, viewerID string, scope search.Filter) ([]models.Message, error) {
	ctx = ensureContext(ctx)
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return nil, apperrors.NewBadRequest("viewer id is required")
	}

	query := s.db.WithContext(ctx).
		Where("recipient_id = ? AND is_read = ?", viewerID, false)
	query = applyFilter(query, scope)

	var rows []models.Message
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("message store: load unread: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
		return nil, fmt.Errorf("message store: mark all read: %w", err)
	}

	for i := range rows {
		rows[i].IsRead = true
		readAt := now
		rows[i].ReadAt = &readAt
		s.broker.Publish(feed.Event{SourceID: uuid.NewString(), Type: feed.EventUpdate, Row: rows[i]})
	}
	return rows, nil
}

// Delete soft-deletes a row and publishes the delete event.
func (s *MessageStore) Delete(ctx context.Context, id string) (*models.Message, error) {
	ctx = ensureContext(ctx)
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("message id is required")
	}

	var msg models.Message
	if err := s.db.WithContext(ctx).Take(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("message store: load message: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&models.Message{}, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("message store: delete: %w", err)
	}

	s.broker.Publish(feed.Event{SourceID: uuid.NewString(), Type: feed.EventDelete, Row: msg})
	return &msg, nil
}

// QueryInput bundles the parameters of a filtered range query.
type QueryInput struct {
	// ViewerID restricts rows to those the viewer participates in.
	ViewerID string
	// CounterpartID optionally restricts to one counterpart.
	CounterpartID string
	// GeneralOnly restricts to rows without a student scope.
	GeneralOnly bool
	Filter      search.Filter
	Page        search.Page
}

// Query returns one page of messages plus the total row count for the
// supplied predicates. Ordering is createdAt descending, id as tie-break.
func (s *MessageStore) Query(ctx context.Context, input QueryInput) ([]models.Message, int64, error) {
	ctx = ensureContext(ctx)
	viewerID := strings.TrimSpace(input.ViewerID)
	if viewerID == "" {
		return nil, 0, apperrors.NewBadRequest("viewer id is required")
	}

	page := input.Page.Normalize()

	query := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("sender_id = ? OR recipient_id = ?", viewerID, viewerID)
	if input.CounterpartID != "" {
		query = query.Where("sender_id = ? OR recipient_id = ?", input.CounterpartID, input.CounterpartID)
	}
	if input.GeneralOnly {
		query = query.Where("student_id = ?", "")
	}
	query = applyFilter(query, input.Filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("message store: count: %w", err)
	}

	var rows []models.Message
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("message store: query: %w", err)
	}

	return rows, total, nil
}

// LoadForViewer returns every live message the viewer participates in,
// oldest first. Used for the cold load establishing a baseline snapshot.
func (s *MessageStore) LoadForViewer(ctx context.Context, viewerID string) ([]models.Message, error) {
	ctx = ensureContext(ctx)
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return nil, apperrors.NewBadRequest("viewer id is required")
	}

	var rows []models.Message
	if err := s.db.WithContext(ctx).
		Where("sender_id = ? OR recipient_id = ?", viewerID, viewerID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("message store: load for viewer: %w", err)
	}
	return rows, nil
}

func applyFilter(query *gorm.DB, f search.Filter) *gorm.DB {
	if f.IsRead != nil {
		query = query.Where("is_read = ?", *f.IsRead)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.StudentID != "" {
		query = query.Where("student_id = ?", f.StudentID)
	}
	if f.DateFrom != nil {
		query = query.Where("created_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		query = query.Where("created_at <= ?", *f.DateTo)
	}
	if f.Query != "" {
		needle := "%" + strings.ToLower(f.Query) + "%"
		query = query.Where("LOWER(content) LIKE ? OR LOWER(subject) LIKE ?", needle, needle)
	}
	return query
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
