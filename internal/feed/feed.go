package feed

import (
	"sync"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/models"
	"github.com/classline/classline/pkg/logger"
)

// EventType identifies the kind of change a feed event describes.
type EventType string

// Change feed event types.
const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is a notification of a message-log row change. SourceID is stable for
// a given change regardless of how many times the event is delivered, so
// consumers can deduplicate.
type Event struct {
	SourceID string
	Type     EventType
	Row      models.Message
}

// Predicate filters the events a subscription receives.
type Predicate func(Event) bool

const defaultSubscriptionBuffer = 256

// Subscription is a buffered stream of feed events matching a predicate.
// Delivery is at-least-once and in publish order. A subscriber that cannot
// keep up is disconnected (Done is closed) instead of blocking publishers;
// it is expected to resubscribe and resync.
type Subscription struct {
	events chan Event
	done   chan struct{}
	pred   Predicate
	once   sync.Once
}

// Events returns the stream of matching feed events.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription is no longer receiving events, either
// because it was closed or because it lagged behind the publisher.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Broker fans message-log change events out to per-user subscriptions.
type Broker struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	log  *zap.Logger
}

// NewBroker constructs an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[*Subscription]struct{}),
		log:  logger.WithModule("feed"),
	}
}

// Subscribe registers a new subscription delivering events that match the
// predicate. A nil predicate matches every event. A non-positive buffer uses
// the default size.
func (b *Broker) Subscribe(pred Predicate, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}

	sub := &Subscription{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		pred:   pred,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and marks it done.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()

	sub.close()
}

// Publish delivers the event to every matching subscription. Subscriptions
// whose buffer is full are disconnected rather than blocking the publisher.
func (b *Broker) Publish(event Event) {
	var lagged []*Subscription

	b.mu.RLock()
	for sub := range b.subs {
		if sub.pred != nil && !sub.pred(event) {
			continue
		}
		select {
		case <-sub.done:
		case sub.events <- event:
		default:
			lagged = append(lagged, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range lagged {
		b.log.Warn("disconnecting lagged feed subscription")
		b.Unsubscribe(sub)
	}
}

// Shutdown disconnects every subscription.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// ForUser returns a predicate matching events visible to the supplied user,
// i.e. rows where the user is sender or recipient.
func ForUser(userID string) Predicate {
	return func(e Event) bool {
		return e.Row.SenderID == userID || e.Row.RecipientID == userID
	}
}
