package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/classline/classline/internal/auth"
	"github.com/classline/classline/internal/cache"
	"github.com/classline/classline/internal/conversations"
	"github.com/classline/classline/internal/database/testutil"
	"github.com/classline/classline/internal/feed"
	"github.com/classline/classline/internal/middleware"
	"github.com/classline/classline/internal/models"
	"github.com/classline/classline/internal/notifications"
	"github.com/classline/classline/internal/realtime"
	"github.com/classline/classline/internal/services"
	"github.com/classline/classline/internal/store"
)

type apiFixture struct {
	router *gin.Engine
	db     *gorm.DB
	jwt    *iauth.JWTService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	broker := feed.NewBroker()
	t.Cleanup(broker.Shutdown)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "classline"})
	require.NoError(t, err)

	messageStore, err := store.NewMessageStore(db, broker)
	require.NoError(t, err)

	realtimeHub := realtime.NewHub()
	sink := realtime.NewConversationSink(realtimeHub)
	manager := conversations.NewManager(context.Background(), messageStore, broker, sink, conversations.Options{})
	t.Cleanup(manager.Shutdown)

	notificationHub := notifications.NewHub()
	dispatcher, err := notifications.NewDispatcher(db, broker, notificationHub)
	require.NoError(t, err)

	dispatcherCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go dispatcher.Run(dispatcherCtx)

	messages, err := services.NewMessageService(db, messageStore, manager)
	require.NoError(t, err)
	notificationService, err := services.NewNotificationService(db, notificationHub)
	require.NoError(t, err)
	typing, err := services.NewTypingService(cache.NewDatabaseStore(db), realtimeHub, 0)
	require.NoError(t, err)

	router, err := NewRouter(Deps{
		DB:              db,
		JWT:             jwt,
		Messages:        messages,
		Notifications:   notificationService,
		Typing:          typing,
		Dispatcher:      dispatcher,
		NotificationHub: notificationHub,
		RealtimeHub:     realtimeHub,
		Manager:         manager,
		RateStore:       middleware.NewMemoryRateStore(),
	})
	require.NoError(t, err)

	return &apiFixture{router: router, db: db, jwt: jwt}
}

func (f *apiFixture) createUser(t *testing.T, id, role string) string {
	t.Helper()
	user := models.User{Name: id, Email: id + "@example.com", Role: role}
	user.ID = id
	require.NoError(t, f.db.Create(&user).Error)

	token, err := f.jwt.GenerateAccessToken(&user)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestHealthAndReady(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestAPIRequiresAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/messages", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMessageLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	teacher := f.createUser(t, "teacher-1", models.RoleTeacher)
	parent := f.createUser(t, "parent-1", models.RoleParent)

	rec := f.do(t, http.MethodPost, "/api/messages", teacher, gin.H{
		"recipient_id": "parent-1",
		"student_id":   "student-1",
		"subject":      "Field trip",
		"content":      "Please sign the permission slip",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	sent := decodeData(t, rec)
	messageID, _ := sent["id"].(string)
	require.NotEmpty(t, messageID)

	// The recipient sees it in the list and in the unread count.
	rec = f.do(t, http.MethodGet, "/api/messages", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/messages/unread-count", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decodeData(t, rec)["unread"])

	// Conversations group it under the teacher/student thread.
	rec = f.do(t, http.MethodGet, "/api/conversations", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.EqualValues(t, 1, data["total_unread"])

	rec = f.do(t, http.MethodGet, "/api/conversations/teacher-1|student-1/messages", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Read transition and back.
	rec = f.do(t, http.MethodPost, "/api/messages/"+messageID+"/read", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/messages/unread-count", parent, nil)
	require.EqualValues(t, 0, decodeData(t, rec)["unread"])

	rec = f.do(t, http.MethodPost, "/api/messages/"+messageID+"/unread", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/messages/read-all", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decodeData(t, rec)["updated"])

	// Only the recipient may mark read.
	rec = f.do(t, http.MethodPost, "/api/messages/"+messageID+"/read", teacher, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/messages/"+messageID, teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSendValidationErrors(t *testing.T) {
	f := newAPIFixture(t)
	teacher := f.createUser(t, "teacher-1", models.RoleTeacher)

	rec := f.do(t, http.MethodPost, "/api/messages", teacher, gin.H{"content": "no recipient"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/messages", teacher, gin.H{"recipient_id": "parent-1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/messages", teacher, gin.H{
		"recipient_id": "ghost",
		"content":      "hello",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageListFilters(t *testing.T) {
	f := newAPIFixture(t)
	teacher := f.createUser(t, "teacher-1", models.RoleTeacher)
	parent := f.createUser(t, "parent-1", models.RoleParent)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/api/messages", teacher, gin.H{
			"recipient_id": "parent-1",
			"content":      fmt.Sprintf("newsletter %d", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/messages?q=newsletter&limit=2", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []json.RawMessage `json:"data"`
		Meta struct {
			Total      int64 `json:"total"`
			TotalPages int   `json:"total_pages"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 2)
	require.EqualValues(t, 3, envelope.Meta.Total)
	require.Equal(t, 2, envelope.Meta.TotalPages)

	rec = f.do(t, http.MethodGet, "/api/messages?is_read=maybe", parent, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/messages?type=smoke_signal", parent, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationFlow(t *testing.T) {
	f := newAPIFixture(t)
	teacher := f.createUser(t, "teacher-1", models.RoleTeacher)
	parent := f.createUser(t, "parent-1", models.RoleParent)

	rec := f.do(t, http.MethodPost, "/api/messages", teacher, gin.H{
		"recipient_id": "parent-1",
		"subject":      "Report card",
		"content":      "Grades are in",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// The dispatcher consumes the insert asynchronously.
	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/notifications/unread-count", parent, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		unread, ok := decodeData(t, rec)["unread"].(float64)
		return ok && unread == 1
	}, 2*time.Second, 20*time.Millisecond)

	rec = f.do(t, http.MethodPost, "/api/notifications/read-all", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/notifications", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEventIntakeRequiresAdmin(t *testing.T) {
	f := newAPIFixture(t)
	parent := f.createUser(t, "parent-1", models.RoleParent)
	admin := f.createUser(t, "admin-1", models.RoleAdmin)

	event := gin.H{
		"user_id":         "parent-1",
		"source_event_id": "gami-1",
		"type":            "badge_earned",
		"title":           "Math Star badge earned",
	}

	rec := f.do(t, http.MethodPost, "/api/events", parent, event)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/events", admin, event)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Replayed events resolve to the existing notification.
	rec = f.do(t, http.MethodPost, "/api/events", admin, event)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTypingEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	parent := f.createUser(t, "parent-1", models.RoleParent)

	rec := f.do(t, http.MethodPost, "/api/conversations/teacher-1|student-1/typing", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/conversations/teacher-1|student-1/typing", parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/conversations/broken-key/typing", parent, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
