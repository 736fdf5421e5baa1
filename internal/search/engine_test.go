package search

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/classline/classline/internal/models"
)

func sampleMessage(id, subject, content string, at time.Time) models.Message {
	msg := models.Message{
		SenderID:    "teacher-1",
		RecipientID: "parent-1",
		Subject:     subject,
		Content:     content,
		Type:        models.MessageTypeGeneral,
	}
	msg.ID = id
	msg.CreatedAt = at
	return msg
}

func TestFilterMatchesAllPredicatesAnd(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	msg := sampleMessage("m1", "Homework", "Math worksheet due Friday", at)
	msg.StudentID = "student-1"
	msg.Type = models.MessageTypeProgressReport
	msg.IsRead = true

	read := true
	from := at.Add(-time.Hour)
	to := at.Add(time.Hour)

	require.True(t, Filter{
		Query:     "worksheet",
		IsRead:    &read,
		Type:      models.MessageTypeProgressReport,
		StudentID: "student-1",
		DateFrom:  &from,
		DateTo:    &to,
	}.Matches(msg))

	// Any single failing predicate rejects the message.
	unread := false
	require.False(t, Filter{Query: "worksheet", IsRead: &unread}.Matches(msg))
	require.False(t, Filter{Query: "absent"}.Matches(msg))
	require.False(t, Filter{Type: models.MessageTypeBehaviorReport}.Matches(msg))
	require.False(t, Filter{StudentID: "student-2"}.Matches(msg))

	late := at.Add(time.Minute)
	require.False(t, Filter{DateFrom: &late}.Matches(msg))
	early := at.Add(-time.Minute)
	require.False(t, Filter{DateTo: &early}.Matches(msg))
}

func TestFilterQueryMatchesSubjectOrContent(t *testing.T) {
	at := time.Now().UTC()
	msg := sampleMessage("m1", "Field Trip Permission", "please sign the form", at)

	require.True(t, Filter{Query: "PERMISSION"}.Matches(msg))
	require.True(t, Filter{Query: "Sign The"}.Matches(msg))
	require.False(t, Filter{Query: "detention"}.Matches(msg))
}

func TestFilterZeroValueMatchesEverything(t *testing.T) {
	require.True(t, Filter{}.Matches(sampleMessage("m1", "", "anything", time.Now())))
}

func TestMessagesOrdering(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	snapshot := []models.Message{
		sampleMessage("m1", "", "oldest", base),
		sampleMessage("m3", "", "newest", base.Add(2*time.Minute)),
		sampleMessage("m2", "", "middle", base.Add(time.Minute)),
	}

	page := Messages(snapshot, Filter{}, Page{})
	require.Len(t, page.Items, 3)
	require.Equal(t, "m3", page.Items[0].ID)
	require.Equal(t, "m2", page.Items[1].ID)
	require.Equal(t, "m1", page.Items[2].ID)
}

func TestMessagesTieBreakIsDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	snapshot := []models.Message{
		sampleMessage("aaa", "", "same instant", at),
		sampleMessage("bbb", "", "same instant", at),
	}

	first := Messages(snapshot, Filter{}, Page{})
	second := Messages([]models.Message{snapshot[1], snapshot[0]}, Filter{}, Page{})
	require.Equal(t, first.Items, second.Items)
	require.Equal(t, "bbb", first.Items[0].ID)
}

func TestMessagesPagination(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	var snapshot []models.Message
	for i := 0; i < 12; i++ {
		snapshot = append(snapshot, sampleMessage(
			fmt.Sprintf("m%02d", i), "", "row", base.Add(time.Duration(i)*time.Minute)))
	}

	page := Messages(snapshot, Filter{}, Page{Page: 2, Limit: 10})
	require.Len(t, page.Items, 2)
	require.Equal(t, 12, page.Total)
	require.Equal(t, 2, page.Page)
	require.Equal(t, 10, page.Limit)
	require.Equal(t, 2, page.TotalPages)

	// Pages past the end are empty, not an error.
	page = Messages(snapshot, Filter{}, Page{Page: 5, Limit: 10})
	require.Empty(t, page.Items)
	require.Equal(t, 12, page.Total)
}

func TestMessagesAppliesFilterBeforePaging(t *testing.T) {
	base := time.Now().UTC()
	snapshot := []models.Message{
		sampleMessage("m1", "", "budget review", base),
		sampleMessage("m2", "", "lunch menu", base.Add(time.Minute)),
		sampleMessage("m3", "", "budget update", base.Add(2*time.Minute)),
	}

	page := Messages(snapshot, Filter{Query: "budget"}, Page{Limit: 1})
	require.Len(t, page.Items, 1)
	require.Equal(t, "m3", page.Items[0].ID)
	require.Equal(t, 2, page.Total)
	require.Equal(t, 2, page.TotalPages)
}

func TestPageNormalize(t *testing.T) {
	p := Page{}.Normalize()
	require.Equal(t, 1, p.Page)
	require.Equal(t, defaultPageLimit, p.Limit)

	p = Page{Page: -3, Limit: 500}.Normalize()
	require.Equal(t, 1, p.Page)
	require.Equal(t, defaultPageLimit, p.Limit)

	p = Page{Page: 4, Limit: 50}.Normalize()
	require.Equal(t, 150, p.Offset())
}

func TestTotalPages(t *testing.T) {
	require.Equal(t, 0, TotalPages(0, 25))
	require.Equal(t, 1, TotalPages(1, 25))
	require.Equal(t, 1, TotalPages(25, 25))
	require.Equal(t, 2, TotalPages(26, 25))
	require.Equal(t, 0, TotalPages(10, 0))
}
