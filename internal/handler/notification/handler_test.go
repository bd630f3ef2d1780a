package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notifier/internal/model"
	memrepo "github.com/jwalitptl/notifier/internal/repository/memory"
	"github.com/jwalitptl/notifier/internal/service/producer"
	"github.com/jwalitptl/notifier/pkg/logger"
	memq "github.com/jwalitptl/notifier/pkg/messaging/memory"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

func newTestRouter(t *testing.T) (*gin.Engine, *memq.Broker, *memrepo.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	broker := memq.New(10)
	t.Cleanup(func() { broker.Close() })
	repo := memrepo.NewNotificationRepository()

	log := logger.New(logger.Config{Level: "disabled"})
	svc := producer.NewService(broker, metrics.NewNop(), &log)

	router := gin.New()
	NewHandler(svc, repo).RegisterRoutes(router.Group("/api/v1"))
	return router, broker, repo
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEnqueueAccepted(t *testing.T) {
	router, broker, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/notifications", gin.H{
		"user_id":        "user-1",
		"template_id":    "welcome",
		"channel":        "email",
		"channel_target": "user@example.com",
		"variables":      gin.H{"name": "Ada"},
	})

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Status string                   `json:"status"`
		Data   producer.EnqueueResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.NotEmpty(t, resp.Data.MessageID)
	assert.NotEmpty(t, resp.Data.NotificationID)
	assert.Equal(t, "queued", resp.Data.Status)

	assert.Equal(t, 1, broker.Depth("email.queue"))
}

func TestEnqueueValidationFailure(t *testing.T) {
	router, broker, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/notifications", gin.H{
		"user_id":        "user-1",
		"template_id":    "welcome",
		"channel":        "fax",
		"channel_target": "user@example.com",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, broker.Depth("email.queue"))
	assert.Zero(t, broker.Depth("push.queue"))
}

func TestEnqueueMissingBodyFields(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/notifications", gin.H{
		"user_id": "user-1",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueuePropagatesCorrelationHeader(t *testing.T) {
	router, broker, _ := newTestRouter(t)

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(gin.H{
		"user_id":        "user-1",
		"template_id":    "welcome",
		"channel":        "push",
		"channel_target": "device-token",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", "corr-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	payloads := broker.Peek("push.queue")
	require.Len(t, payloads, 1)
	var item model.WorkItem
	require.NoError(t, json.Unmarshal(payloads[0], &item))
	assert.Equal(t, "corr-42", item.CorrelationID)
}

func TestGetNotificationWithEvents(t *testing.T) {
	router, _, repo := newTestRouter(t)

	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, "notif-1", "user-1", "welcome"))
	require.NoError(t, repo.AppendEvent(ctx, "notif-1", model.EventProcessingStarted, "dequeued", nil))

	w := doJSON(router, http.MethodGet, "/api/v1/notifications/notif-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Notification model.NotificationRecord  `json:"notification"`
			Events       []model.NotificationEvent `json:"events"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "notif-1", resp.Data.Notification.NotificationID)
	require.Len(t, resp.Data.Events, 1)
	assert.Equal(t, model.EventProcessingStarted, resp.Data.Events[0].EventType)
}

func TestGetNotificationNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/api/v1/notifications/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListByUser(t *testing.T) {
	router, _, repo := newTestRouter(t)

	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, "notif-1", "user-1", "welcome"))
	require.NoError(t, repo.Create(ctx, "notif-2", "user-1", "reset"))
	require.NoError(t, repo.Create(ctx, "notif-3", "user-2", "welcome"))

	w := doJSON(router, http.MethodGet, "/api/v1/users/user-1/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []model.NotificationRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestStats(t *testing.T) {
	router, _, repo := newTestRouter(t)

	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, "notif-1", "user-1", "welcome"))
	require.NoError(t, repo.Create(ctx, "notif-2", "user-2", "welcome"))
	require.NoError(t, repo.MarkSent(ctx, "notif-2", "u@example.com", "hi", model.SendResult{StatusCode: 250}))

	w := doJSON(router, http.MethodGet, "/api/v1/notifications/stats?window=1h", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data model.StatusCounts `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Data.Processing)
	assert.Equal(t, int64(1), resp.Data.Sent)
	assert.Equal(t, int64(2), resp.Data.Total)
}

func TestStatsRejectsBadWindow(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/api/v1/notifications/stats?window=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
