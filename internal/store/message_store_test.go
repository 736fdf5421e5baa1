package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/classline/classline/internal/database/testutil"
	"github.com/classline/classline/internal/feed"
	"github.com/classline/classline/internal/models"
	"github.com/classline/classline/internal/search"
	apperrors "github.com/classline/classline/pkg/errors"
)

func newTestStore(t *testing.T) (*MessageStore, *feed.Broker) {
	t.Helper()
	db := testutil.MustOpenTestDB(t)
	broker := feed.NewBroker()
	t.Cleanup(broker.Shutdown)

	store, err := NewMessageStore(db, broker)
	require.NoError(t, err)
	return store, broker
}

func mustInsert(t *testing.T, store *MessageStore, sender, recipient, studentID, content string) *models.Message {
	t.Helper()
	msg, err := store.Insert(context.Background(), &models.Message{
		SenderID:    sender,
		RecipientID: recipient,
		StudentID:   studentID,
		Content:     content,
		Type:        models.MessageTypeGeneral,
		Priority:    models.PriorityNormal,
	})
	require.NoError(t, err)
	return msg
}

func drainEvent(t *testing.T, sub *feed.Subscription) feed.Event {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	case <-time.After(time.Second):
		t.Fatal("no feed event published")
		return feed.Event{}
	}
}

func TestNewMessageStoreRequiresDeps(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	_, err := NewMessageStore(nil, feed.NewBroker())
	require.Error(t, err)

	_, err = NewMessageStore(db, nil)
	require.Error(t, err)
}

func TestInsertPersistsAndPublishes(t *testing.T) {
	store, broker := newTestStore(t)
	sub := broker.Subscribe(nil, 8)
	defer broker.Unsubscribe(sub)

	msg := mustInsert(t, store, "teacher-1", "parent-1", "student-1", "welcome aboard")
	require.NotEmpty(t, msg.ID)

	event := drainEvent(t, sub)
	require.Equal(t, feed.EventInsert, event.Type)
	require.Equal(t, msg.ID, event.SourceID)
	require.Equal(t, "welcome aboard", event.Row.Content)
}

func TestInsertRejectsMalformed(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, &models.Message{RecipientID: "parent-1", Content: "no sender"})
	require.Error(t, err)

	_, err = store.Insert(ctx, &models.Message{SenderID: "teacher-1", Content: "no recipient"})
	require.Error(t, err)

	_, err = store.Insert(ctx, &models.Message{SenderID: "u1", RecipientID: "u1", Content: "self"})
	require.Error(t, err)
}

func TestUpdateReadTransitions(t *testing.T) {
	store, broker := newTestStore(t)
	msg := mustInsert(t, store, "teacher-1", "parent-1", "", "read me")

	sub := broker.Subscribe(nil, 8)
	defer broker.Unsubscribe(sub)

	read := true
	updated, err := store.Update(context.Background(), msg.ID, Patch{IsRead: &read})
	require.NoError(t, err)
	require.True(t, updated.IsRead)
	require.NotNil(t, updated.ReadAt)

	event := drainEvent(t, sub)
	require.Equal(t, feed.EventUpdate, event.Type)
	require.True(t, event.Row.IsRead)

	// Marking an already-read row again is a no-op: no second event.
	_, err = store.Update(context.Background(), msg.ID, Patch{IsRead: &read})
	require.NoError(t, err)
	select {
	case <-sub.Events():
		t.Fatal("no-op update published an event")
	default:
	}

	// Transition back to unread clears the read timestamp.
	unread := false
	updated, err = store.Update(context.Background(), msg.ID, Patch{IsRead: &unread})
	require.NoError(t, err)
	require.False(t, updated.IsRead)
	require.Nil(t, updated.ReadAt)
}

func TestUpdateUnknownRow(t *testing.T) {
	store, _ := newTestStore(t)

	read := true
	_, err := store.Update(context.Background(), "missing-id", Patch{IsRead: &read})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBulkUpdate(t *testing.T) {
	store, broker := newTestStore(t)
	first := mustInsert(t, store, "teacher-1", "parent-1", "", "one")
	second := mustInsert(t, store, "teacher-1", "parent-1", "", "two")

	sub := broker.Subscribe(nil, 8)
	defer broker.Unsubscribe(sub)

	read := true
	rows, err := store.BulkUpdate(context.Background(), []string{first.ID, second.ID}, Patch{IsRead: &read})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// One event per affected row.
	drainEvent(t, sub)
	drainEvent(t, sub)

	// Re-running skips rows already in the target state.
	rows, err = store.BulkUpdate(context.Background(), []string{first.ID, second.ID}, Patch{IsRead: &read})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestMarkAllRead(t *testing.T) {
	store, broker := newTestStore(t)
	mustInsert(t, store, "teacher-1", "parent-1", "student-1", "alpha")
	mustInsert(t, store, "teacher-2", "parent-1", "", "beta")
	mustInsert(t, store, "teacher-1", "parent-2", "", "other viewer")

	sub := broker.Subscribe(feed.ForUser("parent-1"), 8)
	defer broker.Unsubscribe(sub)

	rows, err := store.MarkAllRead(context.Background(), "parent-1", search.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.True(t, row.IsRead)
		require.NotNil(t, row.ReadAt)
	}
	drainEvent(t, sub)
	drainEvent(t, sub)

	// Idempotent: everything is already read.
	rows, err = store.MarkAllRead(context.Background(), "parent-1", search.Filter{})
	require.NoError(t, err)
	require.Empty(t, rows)

	// The other viewer's messages were untouched.
	var count int64
	require.NoError(t, store.db.Model(&models.Message{}).
		Where("recipient_id = ? AND is_read = ?", "parent-2", false).
		Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestMarkAllReadScoped(t *testing.T) {
	store, _ := newTestStore(t)
	mustInsert(t, store, "teacher-1", "parent-1", "student-1", "scoped")
	mustInsert(t, store, "teacher-1", "parent-1", "student-2", "out of scope")

	rows, err := store.MarkAllRead(context.Background(), "parent-1", search.Filter{StudentID: "student-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "student-1", rows[0].StudentID)

	var unread int64
	require.NoError(t, store.db.Model(&models.Message{}).
		Where("recipient_id = ? AND is_read = ?", "parent-1", false).
		Count(&unread).Error)
	require.EqualValues(t, 1, unread)
}

func TestDeleteSoftDeletesAndPublishes(t *testing.T) {
	store, broker := newTestStore(t)
	msg := mustInsert(t, store, "teacher-1", "parent-1", "", "ephemeral")

	sub := broker.Subscribe(nil, 8)
	defer broker.Unsubscribe(sub)

	deleted, err := store.Delete(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Equal(t, msg.ID, deleted.ID)

	event := drainEvent(t, sub)
	require.Equal(t, feed.EventDelete, event.Type)
	require.Equal(t, msg.ID, event.Row.ID)

	// Gone from default queries, still present unscoped.
	_, err = store.Delete(context.Background(), msg.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	var count int64
	require.NoError(t, store.db.Unscoped().Model(&models.Message{}).
		Where("id = ?", msg.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestQueryScopesToViewer(t *testing.T) {
	store, _ := newTestStore(t)
	mustInsert(t, store, "teacher-1", "parent-1", "", "mine in")
	mustInsert(t, store, "parent-1", "teacher-1", "", "mine out")
	mustInsert(t, store, "teacher-1", "parent-2", "", "not mine")

	rows, total, err := store.Query(context.Background(), QueryInput{ViewerID: "parent-1"})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.NotEqual(t, "", row.Participant("parent-1"))
	}
}

func TestQueryCounterpartAndGeneralOnly(t *testing.T) {
	store, _ := newTestStore(t)
	mustInsert(t, store, "teacher-1", "parent-1", "student-1", "student thread")
	mustInsert(t, store, "teacher-1", "parent-1", "", "general thread")
	mustInsert(t, store, "teacher-2", "parent-1", "", "other counterpart")

	rows, total, err := store.Query(context.Background(), QueryInput{
		ViewerID:      "parent-1",
		CounterpartID: "teacher-1",
		GeneralOnly:   true,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "general thread", rows[0].Content)

	rows, total, err = store.Query(context.Background(), QueryInput{
		ViewerID:      "parent-1",
		CounterpartID: "teacher-1",
		Filter:        search.Filter{StudentID: "student-1"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "student thread", rows[0].Content)
}

func TestQueryAppliesFilterAndPagination(t *testing.T) {
	store, _ := newTestStore(t)
	for i := 0; i < 3; i++ {
		mustInsert(t, store, "teacher-1", "parent-1", "", "newsletter edition")
	}
	mustInsert(t, store, "teacher-1", "parent-1", "", "report card")

	rows, total, err := store.Query(context.Background(), QueryInput{
		ViewerID: "parent-1",
		Filter:   search.Filter{Query: "NEWSLETTER"},
		Page:     search.Page{Page: 2, Limit: 2},
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, rows, 1)
}

func TestQueryRequiresViewer(t *testing.T) {
	store, _ := newTestStore(t)
	_, _, err := store.Query(context.Background(), QueryInput{})
	require.Error(t, err)
}

func TestLoadForViewerOldestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	first := mustInsert(t, store, "teacher-1", "parent-1", "", "first")
	second := mustInsert(t, store, "parent-1", "teacher-1", "", "second")
	mustInsert(t, store, "teacher-1", "parent-2", "", "other viewer")
	deleted := mustInsert(t, store, "teacher-1", "parent-1", "", "deleted")
	_, err := store.Delete(context.Background(), deleted.ID)
	require.NoError(t, err)

	rows, err := store.LoadForViewer(context.Background(), "parent-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, first.ID, rows[0].ID)
	require.Equal(t, second.ID, rows[1].ID)
}
