package realtime

import (
	"github.com/classline/classline/internal/conversations"
)

// ConversationSink forwards per-viewer conversation changes onto the
// conversations stream. It satisfies conversations.Sink.
type ConversationSink struct {
	hub *Hub
}

// NewConversationSink constructs a sink publishing to the supplied hub.
func NewConversationSink(hub *Hub) *ConversationSink {
	return &ConversationSink{hub: hub}
}

func (s *ConversationSink) ConversationListChanged(viewerID string, list []conversations.Conversation) {
	s.hub.BroadcastToUser(StreamConversations, viewerID, Message{
		Event: EventConversationList,
		Data:  list,
	})
}

func (s *ConversationSink) ConversationUpdated(viewerID string, conversation conversations.Conversation) {
	s.hub.BroadcastToUser(StreamConversations, viewerID, Message{
		Event: EventConversationUpdated,
		Data:  conversation,
	})
}

func (s *ConversationSink) ConversationRemoved(viewerID string, key conversations.Key) {
	s.hub.BroadcastToUser(StreamConversations, viewerID, Message{
		Event: EventConversationRemoved,
		Meta:  map[string]any{"key": key.String()},
	})
}

func (s *ConversationSink) UnreadCountChanged(viewerID string, total int) {
	s.hub.BroadcastToUser(StreamConversations, viewerID, Message{
		Event: EventUnreadTotal,
		Data:  map[string]int{"total": total},
	})
}
