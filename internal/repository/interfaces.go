package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/notifier/internal/model"
)

// NotificationRepository is the lifecycle tracker contract. The consumer
// exclusively owns writes; every mutation is a single atomic update on one
// notification_id, so no cross-record transactions are needed.
type NotificationRepository interface {
	// Create ensures a record exists for notificationID. Creating an
	// already-existing record is a no-op success, tolerating consumer
	// restarts and duplicate deliveries.
	Create(ctx context.Context, notificationID, userID, templateID string) error

	// AppendEvent appends to the record's append-only audit log. Fails
	// with a not-found error if the parent record does not exist.
	AppendEvent(ctx context.Context, notificationID, eventType, description string, metadata map[string]string) error

	// MarkSent records provider acceptance: status SENT, provider
	// metadata, sent_at, attempts incremented.
	MarkSent(ctx context.Context, notificationID, destination, subject string, result model.SendResult) error

	// MarkDelivered transitions SENT -> DELIVERED and sets delivered_at.
	MarkDelivered(ctx context.Context, notificationID string) error

	// MarkFailed records a failed attempt: status FAILED, error message,
	// attempts incremented.
	MarkFailed(ctx context.Context, notificationID, errorMessage string) error

	Get(ctx context.Context, notificationID string) (*model.NotificationRecord, error)
	Events(ctx context.Context, notificationID string) ([]*model.NotificationEvent, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.NotificationRecord, error)

	// Stats aggregates record counts by status over a trailing window.
	Stats(ctx context.Context, window time.Duration) (model.StatusCounts, error)
}
