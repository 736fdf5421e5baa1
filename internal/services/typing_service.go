package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/classline/classline/internal/cache"
	"github.com/classline/classline/internal/realtime"
	apperrors "github.com/classline/classline/pkg/errors"
)

// DefaultTypingTTL bounds how long a typing indicator stays visible without
// a refresh.
const DefaultTypingTTL = 6 * time.Second

// TypingService tracks transient typing indicators. State lives in the cache
// store with a short TTL, so a client that disappears mid-keystroke simply
// ages out.
type TypingService struct {
	store cache.Store
	hub   *realtime.Hub
	ttl   time.Duration
}

// NewTypingService constructs a TypingService.
func NewTypingService(store cache.Store, hub *realtime.Hub, ttl time.Duration) (*TypingService, error) {
	if store == nil {
		return nil, errors.New("typing service: cache store is required")
	}
	if hub == nil {
		return nil, errors.New("typing service: realtime hub is required")
	}
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingService{store: store, hub: hub, ttl: ttl}, nil
}

// Start records that the user is typing to the counterpart and notifies the
// counterpart's typing stream. Repeated calls refresh the TTL.
func (s *TypingService) Start(ctx context.Context, userID, counterpartID, studentID string) error {
	key, err := typingKey(userID, counterpartID, studentID)
	if err != nil {
		return err
	}

	if err := s.store.Set(ctx, key, []byte("1"), s.ttl); err != nil {
		return fmt.Errorf("typing service: set: %w", err)
	}

	s.hub.BroadcastToUser(realtime.StreamTyping, counterpartID, realtime.Message{
		Event: realtime.EventTypingStarted,
		Data: map[string]string{
			"user_id":    userID,
			"student_id": studentID,
		},
	})
	return nil
}

// Stop clears the indicator before its TTL expires.
func (s *TypingService) Stop(ctx context.Context, userID, counterpartID, studentID string) error {
	key, err := typingKey(userID, counterpartID, studentID)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("typing service: delete: %w", err)
	}

	s.hub.BroadcastToUser(realtime.StreamTyping, counterpartID, realtime.Message{
		Event: realtime.EventTypingStopped,
		Data: map[string]string{
			"user_id":    userID,
			"student_id": studentID,
		},
	})
	return nil
}

// IsTyping reports whether the user currently shows as typing to the
// counterpart.
func (s *TypingService) IsTyping(ctx context.Context, userID, counterpartID, studentID string) (bool, error) {
	key, err := typingKey(userID, counterpartID, studentID)
	if err != nil {
		return false, err
	}

	_, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("typing service: get: %w", err)
	}
	return ok, nil
}

func typingKey(userID, counterpartID, studentID string) (string, error) {
	userID = strings.TrimSpace(userID)
	counterpartID = strings.TrimSpace(counterpartID)
	if userID == "" || counterpartID == "" {
		return "", apperrors.NewBadRequest("user and counterpart are required")
	}
	return fmt.Sprintf("typing:%s:%s:%s", userID, counterpartID, strings.TrimSpace(studentID)), nil
}
