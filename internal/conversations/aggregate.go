package conversations

import "github.com/classline/classline/internal/models"

// Aggregate folds a cold snapshot of a viewer's messages into conversation
// views. It is the one-shot form of the incremental State used by live
// subscriptions; both produce identical results for the same input.
func Aggregate(viewerID string, msgs []models.Message) []Conversation {
	state := NewState(viewerID)
	state.Load(msgs)
	return state.Conversations()
}
