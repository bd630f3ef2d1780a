package notification

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notifier/internal/handler"
	"github.com/jwalitptl/notifier/internal/repository"
	"github.com/jwalitptl/notifier/internal/service/producer"
	apperr "github.com/jwalitptl/notifier/pkg/errors"
)

// Handler exposes the enqueue contract and lifecycle queries. It is thin
// plumbing: all behavior lives in the producer service and the repository.
type Handler struct {
	producer *producer.Service
	repo     repository.NotificationRepository
}

func NewHandler(svc *producer.Service, repo repository.NotificationRepository) *Handler {
	return &Handler{producer: svc, repo: repo}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("", h.Enqueue)
		notifications.GET("/stats", h.Stats)
		notifications.GET("/:id", h.Get)
	}
	r.GET("/users/:id/notifications", h.ListByUser)
}

func (h *Handler) Enqueue(c *gin.Context) {
	var req producer.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = c.GetHeader("X-Correlation-ID")
	}

	resp, err := h.producer.Enqueue(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch apperr.KindOf(err) {
		case apperr.KindValidation:
			status = http.StatusBadRequest
		case apperr.KindDependencyUnavailable:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(resp))
}

func (h *Handler) Get(c *gin.Context) {
	notificationID := c.Param("id")

	record, err := h.repo.Get(c.Request.Context(), notificationID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	events, err := h.repo.Events(c.Request.Context(), notificationID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"notification": record,
		"events":       events,
	}))
}

func (h *Handler) ListByUser(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.repo.ListByUser(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(records))
}

func (h *Handler) Stats(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid window duration"))
			return
		}
		window = parsed
	}

	counts, err := h.repo.Stats(c.Request.Context(), window)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(counts))
}

func (h *Handler) renderError(c *gin.Context, err error) {
	var app *apperr.AppError
	if errors.As(err, &app) && app.Kind == apperr.KindNotFound {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse(app.Message))
		return
	}
	c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
}
