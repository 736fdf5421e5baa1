package conversations

import (
	"context"
	"sync"

	"github.com/classline/classline/internal/feed"
)

type managed struct {
	sub  *Subscription
	refs int
}

// Manager tracks one subscription per connected viewer, reference counted so
// multiple websocket connections from the same user share a single
// aggregation actor.
type Manager struct {
	mu   sync.Mutex
	subs map[string]*managed

	ctx    context.Context
	loader Loader
	broker *feed.Broker
	sink   Sink
	opts   Options
}

// NewManager constructs a subscription manager. Subscriptions started by the
// manager inherit ctx and stop when it is cancelled.
func NewManager(ctx context.Context, loader Loader, broker *feed.Broker, sink Sink, opts Options) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Manager{
		subs:   make(map[string]*managed),
		ctx:    ctx,
		loader: loader,
		broker: broker,
		sink:   sink,
		opts:   opts,
	}
}

// Acquire returns the viewer's subscription, starting one when absent. Each
// Acquire must be paired with a Release.
func (m *Manager) Acquire(viewerID string) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.subs[viewerID]
	if !ok {
		sub := NewSubscription(viewerID, m.loader, m.broker, m.sink, m.opts)
		sub.Start(m.ctx)
		entry = &managed{sub: sub}
		m.subs[viewerID] = entry
	}
	entry.refs++
	return entry.sub
}

// Release drops one reference; the subscription is closed once no connection
// uses it, releasing all per-viewer state.
func (m *Manager) Release(viewerID string) {
	m.mu.Lock()
	entry, ok := m.subs[viewerID]
	if ok {
		entry.refs--
		if entry.refs <= 0 {
			delete(m.subs, viewerID)
		} else {
			entry = nil
		}
	}
	m.mu.Unlock()

	if ok && entry != nil {
		entry.sub.Close()
	}
}

// Get returns the live subscription for a viewer, if any.
func (m *Manager) Get(viewerID string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.subs[viewerID]
	if !ok {
		return nil, false
	}
	return entry.sub, true
}

// MarkAllRead applies the batch unread reset to the viewer's live
// subscription, when connected. Disconnected viewers converge on their next
// cold load.
func (m *Manager) MarkAllRead(viewerID string) {
	if sub, ok := m.Get(viewerID); ok {
		sub.MarkAllRead()
	}
}

// Shutdown closes every live subscription.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := make([]*managed, 0, len(m.subs))
	for _, entry := range m.subs {
		entries = append(entries, entry)
	}
	m.subs = make(map[string]*managed)
	m.mu.Unlock()

	for _, entry := range entries {
		entry.sub.Close()
	}
}
