package conversations

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/feed"
	"github.com/classline/classline/internal/models"
	"github.com/classline/classline/pkg/logger"
	"github.com/classline/classline/pkg/metrics"
)

// Phase is the lifecycle state of a realtime subscription.
type Phase int32

// Subscription phases.
const (
	PhaseConnecting Phase = iota
	PhaseSynced
	PhaseDegraded
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseSynced:
		return "synced"
	case PhaseDegraded:
		return "degraded"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// Loader performs the cold load establishing a baseline snapshot.
type Loader interface {
	LoadForViewer(ctx context.Context, viewerID string) ([]models.Message, error)
}

// Sink receives the deltas a subscription emits towards the presentation
// layer.
type Sink interface {
	ConversationListChanged(viewerID string, conversations []Conversation)
	ConversationUpdated(viewerID string, conversation Conversation)
	ConversationRemoved(viewerID string, key Key)
	UnreadCountChanged(viewerID string, total int)
}

// Options tune subscription behaviour.
type Options struct {
	// Buffer sizes the feed subscription channel.
	Buffer int
	// InitialBackoff and MaxBackoff bound the reconnect delay while Degraded.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Clock overrides time.Now, primarily for tests.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Subscription owns the aggregated view of one viewer and applies that
// viewer's feed events to it sequentially. All state mutation happens on the
// run goroutine; external callers interact through commands.
type Subscription struct {
	viewerID string
	loader   Loader
	broker   *feed.Broker
	sink     Sink
	opts     Options

	phase    atomic.Int32
	commands chan func(*State)
	cancel   context.CancelFunc
	done     chan struct{}
	log      *zap.Logger
}

// NewSubscription constructs a subscription for the supplied viewer. Call
// Start to begin processing.
func NewSubscription(viewerID string, loader Loader, broker *feed.Broker, sink Sink, opts Options) *Subscription {
	return &Subscription{
		viewerID: viewerID,
		loader:   loader,
		broker:   broker,
		sink:     sink,
		opts:     opts.withDefaults(),
		commands: make(chan func(*State), 16),
		done:     make(chan struct{}),
		log:      logger.WithModule("subscription").With(zap.String("viewer_id", viewerID)),
	}
}

// Start launches the event-processing goroutine.
func (s *Subscription) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
}

// Close tears the subscription down and waits for the run goroutine to exit.
// All per-viewer aggregation state is released.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// Phase returns the current lifecycle state.
func (s *Subscription) Phase() Phase {
	return Phase(s.phase.Load())
}

// Done is closed once the run goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// MarkAllRead zeroes every unread counter in one batch, ahead of the feed
// echo of the underlying bulk update. The echoed per-row update events are
// then absorbed as no-ops.
func (s *Subscription) MarkAllRead() {
	s.enqueue(func(state *State) {
		if state.MarkAllRead(s.opts.Clock().UTC()) {
			s.sink.ConversationListChanged(s.viewerID, state.Conversations())
			s.sink.UnreadCountChanged(s.viewerID, state.TotalUnread())
		}
	})
}

// Conversations returns the current thread views, observed on the run
// goroutine for a consistent snapshot.
func (s *Subscription) Conversations() []Conversation {
	reply := make(chan []Conversation, 1)
	s.enqueue(func(state *State) {
		reply <- state.Conversations()
	})
	select {
	case out := <-reply:
		return out
	case <-s.done:
		return nil
	}
}

// TotalUnread returns the viewer's total unread count.
func (s *Subscription) TotalUnread() int {
	reply := make(chan int, 1)
	s.enqueue(func(state *State) {
		reply <- state.TotalUnread()
	})
	select {
	case out := <-reply:
		return out
	case <-s.done:
		return 0
	}
}

func (s *Subscription) enqueue(cmd func(*State)) {
	select {
	case s.commands <- cmd:
	case <-s.done:
	}
}

func (s *Subscription) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.setPhase(PhaseClosed)

	metrics.OpenSubscriptions.Inc()
	defer metrics.OpenSubscriptions.Dec()

	backoff := s.opts.InitialBackoff
	reason := "connect"

	// While degraded, commands are answered from the last synced state so the
	// command buffer cannot fill and wedge callers across a backoff window.
	// Until the first sync completes the state is empty.
	state := NewState(s.viewerID)

	for {
		if ctx.Err() != nil {
			return
		}

		s.setPhase(PhaseConnecting)

		// Subscribe before the cold load so no event in the gap is missed;
		// duplicates across the boundary are absorbed by idempotent applies.
		feedSub := s.broker.Subscribe(feed.ForUser(s.viewerID), s.opts.Buffer)

		msgs, err := s.loader.LoadForViewer(ctx, s.viewerID)
		if err != nil {
			s.broker.Unsubscribe(feedSub)
			if ctx.Err() != nil {
				return
			}
			s.setPhase(PhaseDegraded)
			s.log.Warn("cold load failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			if !s.waitBackoff(ctx, state, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.opts.MaxBackoff)
			reason = "reconnect"
			continue
		}

		backoff = s.opts.InitialBackoff

		state = NewState(s.viewerID)
		state.Load(msgs)

		s.setPhase(PhaseSynced)
		metrics.SubscriptionResyncs.WithLabelValues(reason).Inc()

		s.sink.ConversationListChanged(s.viewerID, state.Conversations())
		s.sink.UnreadCountChanged(s.viewerID, state.TotalUnread())

		if !s.consume(ctx, state, feedSub) {
			s.broker.Unsubscribe(feedSub)
			return
		}

		// Feed stream lost: resync from a fresh cold load rather than
		// attempting gap-filling.
		s.broker.Unsubscribe(feedSub)
		s.setPhase(PhaseDegraded)
		s.log.Info("feed stream lost, resyncing", zap.Duration("backoff", backoff))
		if !s.waitBackoff(ctx, state, backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.opts.MaxBackoff)
		reason = "reconnect"
	}
}

// consume processes events until the context is cancelled (returns false) or
// the feed subscription is disconnected (returns true, caller resyncs).
func (s *Subscription) consume(ctx context.Context, state *State, feedSub *feed.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-s.commands:
			cmd(state)
		case <-feedSub.Done():
			return true
		case event := <-feedSub.Events():
			s.apply(state, event)
		}
	}
}

func (s *Subscription) apply(state *State, event feed.Event) {
	var result ApplyResult

	switch event.Type {
	case feed.EventInsert:
		result = state.ApplyInsert(event.Row)
	case feed.EventUpdate:
		result = state.ApplyUpdate(event.Row)
	case feed.EventDelete:
		result = state.ApplyDelete(event.Row)
	default:
		s.log.Warn("unknown feed event type", zap.String("type", string(event.Type)))
		return
	}

	if !result.Changed {
		metrics.FeedEventsSkipped.WithLabelValues(string(event.Type)).Inc()
		return
	}
	metrics.FeedEventsApplied.WithLabelValues(string(event.Type)).Inc()

	if result.Conversation != nil {
		s.sink.ConversationUpdated(s.viewerID, *result.Conversation)
	}
	if result.Removed != nil {
		s.sink.ConversationRemoved(s.viewerID, *result.Removed)
		s.sink.ConversationListChanged(s.viewerID, state.Conversations())
	}
	if result.UnreadChanged {
		s.sink.UnreadCountChanged(s.viewerID, state.TotalUnread())
	}
}

// waitBackoff waits out the reconnect delay while continuing to answer
// commands, so Conversations and TotalUnread never wedge on a full command
// buffer while the subscription is degraded. Replies reflect the state of
// the last successful sync.
func (s *Subscription) waitBackoff(ctx context.Context, state *State, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-s.commands:
			cmd(state)
		case <-timer.C:
			return true
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
