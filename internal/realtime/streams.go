package realtime

// Realtime stream names.
const (
	// StreamConversations carries per-viewer conversation list changes.
	StreamConversations = "conversations"
	// StreamNotifications carries notification read-state changes.
	StreamNotifications = "notifications"
	// StreamTyping carries transient typing indicators.
	StreamTyping = "typing"
)

// Conversation stream events.
const (
	EventConversationList    = "conversation.list"
	EventConversationUpdated = "conversation.updated"
	EventConversationRemoved = "conversation.removed"
	EventUnreadTotal         = "unread.total"
)

// Typing stream events.
const (
	EventTypingStarted = "typing.started"
	EventTypingStopped = "typing.stopped"
)

// KnownStreams returns the set of streams a client may subscribe to.
func KnownStreams() map[string]struct{} {
	return map[string]struct{}{
		StreamConversations: {},
		StreamNotifications: {},
		StreamTyping:        {},
	}
}
