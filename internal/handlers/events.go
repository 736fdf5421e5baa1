package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classline/classline/internal/notifications"
	"github.com/classline/classline/pkg/response"
)

// EventHandler accepts activity events from internal producers, such as the
// gamification engine, and turns them into notifications.
type EventHandler struct {
	dispatcher *notifications.Dispatcher
}

// NewEventHandler constructs an event intake handler.
func NewEventHandler(dispatcher *notifications.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

type intakeRequest struct {
	UserID        string `json:"user_id" validate:"required"`
	SourceEventID string `json:"source_event_id" validate:"required"`
	Type          string `json:"type" validate:"required"`
	Title         string `json:"title" validate:"required,max=255"`
	Content       string `json:"content" validate:"max=4000"`
	RelatedData   any    `json:"related_data"`
}

// Intake persists a notification for the supplied activity event. Replays of
// an already-seen source event return the original row with a 200 instead of
// creating a second notification.
func (h *EventHandler) Intake(c *gin.Context) {
	var payload intakeRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	notification, created, err := h.dispatcher.Intake(requestContext(c), notifications.IntakeEvent{
		UserID:        payload.UserID,
		SourceEventID: payload.SourceEventID,
		Type:          payload.Type,
		Title:         payload.Title,
		Content:       payload.Content,
		RelatedData:   payload.RelatedData,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{
		"notification": notification,
		"created":      created,
	})
}
