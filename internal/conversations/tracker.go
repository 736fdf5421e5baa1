package conversations

import "github.com/classline/classline/internal/models"

// UnreadCount returns the number of unread messages addressed to the viewer
// within the supplied set. The incremental counters maintained by State must
// always agree with this definition.
func UnreadCount(viewerID string, msgs []models.Message) int {
	count := 0
	for _, m := range msgs {
		if m.RecipientID == viewerID && !m.IsRead {
			count++
		}
	}
	return count
}

func (t *thread) countUnread(viewerID string) int {
	count := 0
	for _, m := range t.messages {
		if m.RecipientID == viewerID && !m.IsRead {
			count++
		}
	}
	return count
}
