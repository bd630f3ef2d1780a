// Package memory holds an in-memory NotificationRepository used in mock
// mode and in tests. It honors the same contract as the Postgres
// implementation, including idempotent create and append-only events.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/internal/repository"
	apperr "github.com/jwalitptl/notifier/pkg/errors"
)

// Repository is the in-memory lifecycle store.
type Repository struct {
	mu      sync.Mutex
	records map[string]*model.NotificationRecord
	events  map[string][]*model.NotificationEvent

	// FailWrites makes every mutation return a storage error. Test hook
	// for exercising the consumer's storage-failure path.
	FailWrites bool
}

func NewNotificationRepository() *Repository {
	return &Repository{
		records: make(map[string]*model.NotificationRecord),
		events:  make(map[string][]*model.NotificationEvent),
	}
}

var _ repository.NotificationRepository = (*Repository)(nil)

func (r *Repository) Create(_ context.Context, notificationID, userID, templateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites {
		return apperr.Storage("write failed", nil)
	}
	if _, exists := r.records[notificationID]; exists {
		return nil
	}
	r.records[notificationID] = &model.NotificationRecord{
		NotificationID: notificationID,
		UserID:         userID,
		TemplateID:     templateID,
		Status:         model.StatusProcessing,
		CreatedAt:      time.Now().UTC(),
	}
	return nil
}

func (r *Repository) AppendEvent(_ context.Context, notificationID, eventType, description string, metadata map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites {
		return apperr.Storage("write failed", nil)
	}
	if _, exists := r.records[notificationID]; !exists {
		return apperr.NotFound("notification", nil)
	}
	r.events[notificationID] = append(r.events[notificationID], &model.NotificationEvent{
		ID:             uuid.New(),
		NotificationID: notificationID,
		EventType:      eventType,
		Description:    description,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	})
	return nil
}

func (r *Repository) MarkSent(_ context.Context, notificationID, destination, subject string, result model.SendResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites {
		return apperr.Storage("write failed", nil)
	}
	rec, exists := r.records[notificationID]
	if !exists {
		return apperr.NotFound("notification", nil)
	}
	now := time.Now().UTC()
	rec.Status = model.StatusSent
	rec.Destination = destination
	rec.Subject = subject
	rec.ProviderMsgID = result.ProviderMessageID
	rec.ProviderStatus = result.StatusCode
	rec.ProviderRaw = result.RawResponse
	rec.Attempts++
	rec.SentAt = &now
	return nil
}

func (r *Repository) MarkDelivered(_ context.Context, notificationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites {
		return apperr.Storage("write failed", nil)
	}
	rec, exists := r.records[notificationID]
	if !exists {
		return apperr.NotFound("notification", nil)
	}
	now := time.Now().UTC()
	rec.Status = model.StatusDelivered
	rec.DeliveredAt = &now
	return nil
}

func (r *Repository) MarkFailed(_ context.Context, notificationID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites {
		return apperr.Storage("write failed", nil)
	}
	rec, exists := r.records[notificationID]
	if !exists {
		return apperr.NotFound("notification", nil)
	}
	rec.Status = model.StatusFailed
	rec.ErrorMessage = errorMessage
	rec.Attempts++
	return nil
}

func (r *Repository) Get(_ context.Context, notificationID string) (*model.NotificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, exists := r.records[notificationID]
	if !exists {
		return nil, apperr.NotFound("notification", nil)
	}
	copied := *rec
	return &copied, nil
}

func (r *Repository) Events(_ context.Context, notificationID string) ([]*model.NotificationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]*model.NotificationEvent, len(r.events[notificationID]))
	copy(events, r.events[notificationID])
	return events, nil
}

func (r *Repository) ListByUser(_ context.Context, userID string, limit int) ([]*model.NotificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var records []*model.NotificationRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			copied := *rec
			records = append(records, &copied)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *Repository) Stats(_ context.Context, window time.Duration) (model.StatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	since := time.Now().UTC().Add(-window)
	var counts model.StatusCounts
	for _, rec := range r.records {
		if rec.CreatedAt.Before(since) {
			continue
		}
		switch rec.Status {
		case model.StatusProcessing:
			counts.Processing++
		case model.StatusSent:
			counts.Sent++
		case model.StatusDelivered:
			counts.Delivered++
		case model.StatusFailed:
			counts.Failed++
		}
		counts.Total++
	}
	return counts, nil
}
