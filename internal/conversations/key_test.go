package conversations

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/classline/classline/internal/models"
)

func TestKeyString(t *testing.T) {
	require.Equal(t, "teacher-1|student-1", Key{CounterpartID: "teacher-1", StudentID: "student-1"}.String())
	require.Equal(t, "teacher-1|general", Key{CounterpartID: "teacher-1"}.String())
}

func TestParseKey(t *testing.T) {
	key, ok := ParseKey("teacher-1|student-1")
	require.True(t, ok)
	require.Equal(t, Key{CounterpartID: "teacher-1", StudentID: "student-1"}, key)

	key, ok = ParseKey("teacher-1|general")
	require.True(t, ok)
	require.Equal(t, Key{CounterpartID: "teacher-1"}, key)
	require.True(t, key.General())

	for _, raw := range []string{"", "teacher-1", "|student-1", "teacher-1|"} {
		_, ok := ParseKey(raw)
		require.False(t, ok, "expected %q to be rejected", raw)
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	for _, key := range []Key{
		{CounterpartID: "parent-2", StudentID: "student-9"},
		{CounterpartID: "parent-2"},
	} {
		parsed, ok := ParseKey(key.String())
		require.True(t, ok)
		require.Equal(t, key, parsed)
	}
}

func TestKeyFor(t *testing.T) {
	msg := models.Message{
		SenderID:    "teacher-1",
		RecipientID: "parent-1",
		StudentID:   "student-1",
	}

	key, ok := KeyFor("parent-1", msg)
	require.True(t, ok)
	require.Equal(t, Key{CounterpartID: "teacher-1", StudentID: "student-1"}, key)

	// The same message viewed by the other participant keys on the opposite
	// counterpart.
	key, ok = KeyFor("teacher-1", msg)
	require.True(t, ok)
	require.Equal(t, Key{CounterpartID: "parent-1", StudentID: "student-1"}, key)
}

func TestKeyForRejectsNonParticipant(t *testing.T) {
	msg := models.Message{SenderID: "teacher-1", RecipientID: "parent-1"}

	_, ok := KeyFor("parent-2", msg)
	require.False(t, ok)
}

func TestKeyForRejectsMalformed(t *testing.T) {
	_, ok := KeyFor("parent-1", models.Message{RecipientID: "parent-1"})
	require.False(t, ok)

	_, ok = KeyFor("teacher-1", models.Message{SenderID: "teacher-1"})
	require.False(t, ok)
}
