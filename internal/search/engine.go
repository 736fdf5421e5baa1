package search

import (
	"sort"
	"strings"
	"time"

	"github.com/classline/classline/internal/models"
)

// Filter describes the predicates applied to a message set. All supplied
// fields must match (logical AND); zero values are ignored.
type Filter struct {
	// Query is a case-insensitive substring matched against content OR subject.
	Query     string
	IsRead    *bool
	Type      models.MessageType
	DateFrom  *time.Time
	DateTo    *time.Time
	StudentID string
}

// Matches reports whether the message satisfies every supplied predicate.
func (f Filter) Matches(m models.Message) bool {
	if f.IsRead != nil && m.IsRead != *f.IsRead {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.StudentID != "" && m.StudentID != f.StudentID {
		return false
	}
	if f.DateFrom != nil && m.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && m.CreatedAt.After(*f.DateTo) {
		return false
	}
	if f.Query != "" {
		needle := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(m.Content), needle) &&
			!strings.Contains(strings.ToLower(m.Subject), needle) {
			return false
		}
	}
	return true
}

// Page is an offset-based page request. Page numbers start at 1.
type Page struct {
	Page  int
	Limit int
}

const (
	defaultPageLimit = 25
	maxPageLimit     = 100
)

// Normalize clamps the request to sane bounds.
func (p Page) Normalize() Page {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 || p.Limit > maxPageLimit {
		p.Limit = defaultPageLimit
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// MessagePage is one page of filtered messages with pagination totals.
type MessagePage struct {
	Items      []models.Message `json:"items"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"total_pages"`
}

// Messages filters, orders and paginates an in-memory snapshot. The result
// is deterministic for identical input: ordering is createdAt descending
// with the opaque id as tie-break.
func Messages(snapshot []models.Message, f Filter, p Page) MessagePage {
	p = p.Normalize()

	matched := make([]models.Message, 0, len(snapshot))
	for _, m := range snapshot {
		if f.Matches(m) {
			matched = append(matched, m)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := p.Offset()
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}

	return MessagePage{
		Items:      matched[start:end],
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: totalPages(total, p.Limit),
	}
}

func totalPages(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// TotalPages exposes the page arithmetic for repository-backed queries.
func TotalPages(total int64, limit int) int {
	return totalPages(int(total), limit)
}
