package conversations

import (
	"strings"

	"github.com/classline/classline/internal/models"
)

// generalThread is the sentinel segment used when a conversation is not tied
// to a student.
const generalThread = "general"

// Key identifies a conversation thread for a given viewer. It is a composite
// of the counterpart and the optional student; two messages belong to the
// same thread only when both components match. A struct key avoids the
// collision ambiguity of string concatenation when the student id is empty.
type Key struct {
	CounterpartID string
	StudentID     string
}

// General reports whether the thread is not tied to a student.
func (k Key) General() bool {
	return k.StudentID == ""
}

// String renders the key for stream names and JSON payloads.
func (k Key) String() string {
	student := k.StudentID
	if student == "" {
		student = generalThread
	}
	return k.CounterpartID + "|" + student
}

// ParseKey reverses String. The second return is false for malformed input.
func ParseKey(raw string) (Key, bool) {
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Key{}, false
	}
	key := Key{CounterpartID: parts[0]}
	if parts[1] != generalThread {
		key.StudentID = parts[1]
	}
	return key, true
}

// KeyFor computes the thread key of a message relative to the viewer. The
// second return is false when the message is malformed or the viewer is not
// a participant; such messages must be dropped, not grouped.
func KeyFor(viewerID string, m models.Message) (Key, bool) {
	if m.Malformed() {
		return Key{}, false
	}

	counterpart := m.Participant(viewerID)
	if counterpart == "" {
		return Key{}, false
	}

	return Key{CounterpartID: counterpart, StudentID: m.StudentID}, true
}
