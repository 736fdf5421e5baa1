package conversations

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/models"
	"github.com/classline/classline/pkg/logger"
	"github.com/classline/classline/pkg/metrics"
)

// Conversation is the derived view of a thread exposed to the presentation
// layer. It is never persisted; it is recomputed from the message log.
type Conversation struct {
	Key           Key             `json:"key"`
	CounterpartID string          `json:"counterpart_id"`
	StudentID     string          `json:"student_id,omitempty"`
	LastMessage   *models.Message `json:"last_message,omitempty"`
	UnreadCount   int             `json:"unread_count"`
	MessageCount  int             `json:"message_count"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type thread struct {
	key      Key
	messages map[string]models.Message
	unread   int
}

// ApplyResult describes the effect of applying one feed event to the state.
type ApplyResult struct {
	// Changed is false for duplicate deliveries and no-op updates.
	Changed bool
	// Conversation is the updated view, nil when the thread was removed.
	Conversation *Conversation
	// Removed carries the key of a thread deleted by the event.
	Removed *Key
	// UnreadChanged reports whether the viewer's total unread count moved.
	UnreadChanged bool
}

// State is the in-memory aggregation of one viewer's message log into
// conversation threads with unread counters. It is exclusively owned by the
// subscription applying events to it and must not be shared.
type State struct {
	viewerID string
	threads  map[Key]*thread
	dropped  int
	log      *zap.Logger
}

// NewState constructs an empty aggregate for the supplied viewer.
func NewState(viewerID string) *State {
	return &State{
		viewerID: viewerID,
		threads:  make(map[Key]*thread),
		log:      logger.WithModule("conversations").With(zap.String("viewer_id", viewerID)),
	}
}

// Load replaces the aggregate with a cold snapshot of the viewer's messages.
// Malformed messages are dropped and counted, never fatal.
func (s *State) Load(msgs []models.Message) {
	s.threads = make(map[Key]*thread)

	for _, m := range msgs {
		key, ok := KeyFor(s.viewerID, m)
		if !ok {
			s.drop(m)
			continue
		}
		th := s.thread(key)
		th.messages[m.ID] = m
	}

	for _, th := range s.threads {
		th.unread = th.countUnread(s.viewerID)
	}
}

// Dropped returns the number of malformed messages discarded so far.
func (s *State) Dropped() int {
	return s.dropped
}

// ApplyInsert adds a message to its thread, creating the thread when absent.
// Inserts dedup by id alone: a re-delivered insert is a no-op even when its
// attributes diverge from the stored row, so a stale replay cannot undo an
// update already applied.
func (s *State) ApplyInsert(m models.Message) ApplyResult {
	key, ok := KeyFor(s.viewerID, m)
	if !ok {
		s.drop(m)
		return ApplyResult{}
	}

	th := s.thread(key)
	if _, exists := th.messages[m.ID]; exists {
		return ApplyResult{}
	}

	th.messages[m.ID] = m

	unreadChanged := false
	if m.RecipientID == s.viewerID && !m.IsRead {
		th.unread++
		unreadChanged = true
	}

	view := s.view(th)
	return ApplyResult{Changed: true, Conversation: &view, UnreadChanged: unreadChanged}
}

// ApplyUpdate replaces the stored message by id and adjusts the unread
// counter when the read flag transitioned. Updates for unknown rows fall back
// to insert semantics so at-least-once delivery cannot lose data. Updates
// that change no attribute are no-ops.
func (s *State) ApplyUpdate(m models.Message) ApplyResult {
	key, ok := KeyFor(s.viewerID, m)
	if !ok {
		s.drop(m)
		return ApplyResult{}
	}

	th, exists := s.threads[key]
	if !exists {
		return s.ApplyInsert(m)
	}
	old, present := th.messages[m.ID]
	if !present {
		return s.ApplyInsert(m)
	}
	if old.Equal(m) {
		return ApplyResult{}
	}

	th.messages[m.ID] = m

	unreadChanged := false
	if m.RecipientID == s.viewerID && old.IsRead != m.IsRead {
		if m.IsRead {
			if th.unread == 0 {
				// Double-applied decrement under at-least-once delivery;
				// clamp instead of going negative.
				s.log.Warn("unread counter underflow clamped", zap.String("message_id", m.ID))
			} else {
				th.unread--
				unreadChanged = true
			}
		} else {
			th.unread++
			unreadChanged = true
		}
	}

	view := s.view(th)
	return ApplyResult{Changed: true, Conversation: &view, UnreadChanged: unreadChanged}
}

// ApplyDelete removes a message from its thread. When the thread has no
// remaining members it is removed entirely. Deleting an unknown row is a
// no-op.
func (s *State) ApplyDelete(m models.Message) ApplyResult {
	key, ok := KeyFor(s.viewerID, m)
	if !ok {
		return ApplyResult{}
	}

	th, exists := s.threads[key]
	if !exists {
		return ApplyResult{}
	}
	old, present := th.messages[m.ID]
	if !present {
		return ApplyResult{}
	}

	delete(th.messages, m.ID)

	unreadChanged := false
	if old.RecipientID == s.viewerID && !old.IsRead {
		if th.unread > 0 {
			th.unread--
			unreadChanged = true
		}
	}

	if len(th.messages) == 0 {
		delete(s.threads, key)
		removed := key
		return ApplyResult{Changed: true, Removed: &removed, UnreadChanged: unreadChanged}
	}

	view := s.view(th)
	return ApplyResult{Changed: true, Conversation: &view, UnreadChanged: unreadChanged}
}

// MarkAllRead transitions every message addressed to the viewer to read and
// zeroes all unread counters in one batch. Subsequent feed echoes of the
// underlying bulk update are absorbed as no-ops.
func (s *State) MarkAllRead(at time.Time) bool {
	changed := false
	for _, th := range s.threads {
		for id, m := range th.messages {
			if m.RecipientID == s.viewerID && !m.IsRead {
				m.IsRead = true
				readAt := at
				m.ReadAt = &readAt
				th.messages[id] = m
				changed = true
			}
		}
		if th.unread != 0 {
			th.unread = 0
			changed = true
		}
	}
	return changed
}

// Conversations returns the current thread views sorted by updatedAt
// descending, ties broken by key for determinism.
func (s *State) Conversations() []Conversation {
	out := make([]Conversation, 0, len(s.threads))
	for _, th := range s.threads {
		out = append(out, s.view(th))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Key.String() < out[j].Key.String()
	})

	return out
}

// Get returns the view of a single thread.
func (s *State) Get(key Key) (Conversation, bool) {
	th, ok := s.threads[key]
	if !ok {
		return Conversation{}, false
	}
	return s.view(th), true
}

// TotalUnread sums unread counters across all threads.
func (s *State) TotalUnread() int {
	total := 0
	for _, th := range s.threads {
		total += th.unread
	}
	return total
}

// Messages returns a flat snapshot of every aggregated message, used by the
// in-memory search engine.
func (s *State) Messages() []models.Message {
	var out []models.Message
	for _, th := range s.threads {
		for _, m := range th.messages {
			out = append(out, m)
		}
	}
	return out
}

func (s *State) thread(key Key) *thread {
	th, ok := s.threads[key]
	if !ok {
		th = &thread{key: key, messages: make(map[string]models.Message)}
		s.threads[key] = th
	}
	return th
}

func (s *State) drop(m models.Message) {
	s.dropped++
	metrics.MalformedMessages.Inc()
	s.log.Warn("dropping malformed message", zap.String("message_id", m.ID))
}

func (s *State) view(th *thread) Conversation {
	conv := Conversation{
		Key:           th.key,
		CounterpartID: th.key.CounterpartID,
		StudentID:     th.key.StudentID,
		UnreadCount:   th.unread,
		MessageCount:  len(th.messages),
	}

	first := true
	var last models.Message
	for _, m := range th.messages {
		if first {
			last = m
			conv.CreatedAt = m.CreatedAt
			first = false
			continue
		}
		if laterMessage(m, last) {
			last = m
		}
		if m.CreatedAt.Before(conv.CreatedAt) {
			conv.CreatedAt = m.CreatedAt
		}
	}

	if !first {
		lastCopy := last
		conv.LastMessage = &lastCopy
		conv.UpdatedAt = last.CreatedAt
	}

	return conv
}

// laterMessage orders messages by createdAt with the opaque id as a
// deterministic tie-break.
func laterMessage(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
