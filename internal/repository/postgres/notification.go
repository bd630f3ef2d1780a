package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/internal/repository"
	apperr "github.com/jwalitptl/notifier/pkg/errors"
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, notificationID, userID, templateID string) error {
	query := `
        INSERT INTO notifications (
            notification_id, user_id, template_id, status, attempts, created_at
        ) VALUES ($1, $2, $3, $4, 0, $5)
        ON CONFLICT (notification_id) DO NOTHING
    `
	_, err := r.GetDB().ExecContext(ctx, query,
		notificationID, userID, templateID, model.StatusProcessing, time.Now().UTC())
	if err != nil {
		return apperr.Storage("failed to create notification record", err)
	}
	return nil
}

func (r *notificationRepository) AppendEvent(ctx context.Context, notificationID, eventType, description string, metadata map[string]string) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return apperr.Storage("failed to marshal event metadata", err)
	}

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM notifications WHERE notification_id = $1)`, notificationID); err != nil {
			return apperr.Storage("failed to check notification record", err)
		}
		if !exists {
			return apperr.NotFound("notification", nil)
		}

		_, err := tx.ExecContext(ctx, `
            INSERT INTO notification_events (id, notification_id, event_type, description, metadata, created_at)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, uuid.New(), notificationID, eventType, description, meta, time.Now().UTC())
		if err != nil {
			return apperr.Storage("failed to append event", err)
		}
		return nil
	})
}

func (r *notificationRepository) MarkSent(ctx context.Context, notificationID, destination, subject string, result model.SendResult) error {
	query := `
        UPDATE notifications SET
            status = $2,
            destination = $3,
            subject = $4,
            provider_message_id = $5,
            provider_status_code = $6,
            provider_raw_response = $7,
            attempts = attempts + 1,
            sent_at = $8
        WHERE notification_id = $1
    `
	res, err := r.GetDB().ExecContext(ctx, query,
		notificationID, model.StatusSent, destination, subject,
		result.ProviderMessageID, result.StatusCode, result.RawResponse, time.Now().UTC())
	if err != nil {
		return apperr.Storage("failed to mark notification sent", err)
	}
	return checkFound(res)
}

func (r *notificationRepository) MarkDelivered(ctx context.Context, notificationID string) error {
	res, err := r.GetDB().ExecContext(ctx, `
        UPDATE notifications SET status = $2, delivered_at = $3
        WHERE notification_id = $1
    `, notificationID, model.StatusDelivered, time.Now().UTC())
	if err != nil {
		return apperr.Storage("failed to mark notification delivered", err)
	}
	return checkFound(res)
}

func (r *notificationRepository) MarkFailed(ctx context.Context, notificationID, errorMessage string) error {
	res, err := r.GetDB().ExecContext(ctx, `
        UPDATE notifications SET status = $2, error_message = $3, attempts = attempts + 1
        WHERE notification_id = $1
    `, notificationID, model.StatusFailed, errorMessage)
	if err != nil {
		return apperr.Storage("failed to mark notification failed", err)
	}
	return checkFound(res)
}

func (r *notificationRepository) Get(ctx context.Context, notificationID string) (*model.NotificationRecord, error) {
	var record model.NotificationRecord
	err := r.GetDB().GetContext(ctx, &record, `
        SELECT notification_id, user_id, template_id, status, destination, subject,
               provider_message_id, provider_status_code, provider_raw_response,
               attempts, error_message, created_at, sent_at, delivered_at
        FROM notifications WHERE notification_id = $1
    `, notificationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("notification", err)
	}
	if err != nil {
		return nil, apperr.Storage("failed to get notification record", err)
	}
	return &record, nil
}

func (r *notificationRepository) Events(ctx context.Context, notificationID string) ([]*model.NotificationEvent, error) {
	rows, err := r.GetDB().QueryxContext(ctx, `
        SELECT id, notification_id, event_type, description, metadata, created_at
        FROM notification_events
        WHERE notification_id = $1
        ORDER BY created_at ASC, id ASC
    `, notificationID)
	if err != nil {
		return nil, apperr.Storage("failed to list events", err)
	}
	defer rows.Close()

	var events []*model.NotificationEvent
	for rows.Next() {
		var (
			ev   model.NotificationEvent
			meta []byte
		)
		if err := rows.Scan(&ev.ID, &ev.NotificationID, &ev.EventType, &ev.Description, &meta, &ev.CreatedAt); err != nil {
			return nil, apperr.Storage("failed to scan event", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, apperr.Storage("failed to decode event metadata", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*model.NotificationRecord
	err := r.GetDB().SelectContext(ctx, &records, `
        SELECT notification_id, user_id, template_id, status, destination, subject,
               provider_message_id, provider_status_code, provider_raw_response,
               attempts, error_message, created_at, sent_at, delivered_at
        FROM notifications
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, userID, limit)
	if err != nil {
		return nil, apperr.Storage("failed to list notifications", err)
	}
	return records, nil
}

func (r *notificationRepository) Stats(ctx context.Context, window time.Duration) (model.StatusCounts, error) {
	since := time.Now().UTC().Add(-window)
	rows, err := r.GetDB().QueryxContext(ctx, `
        SELECT status, COUNT(*) FROM notifications
        WHERE created_at >= $1
        GROUP BY status
    `, since)
	if err != nil {
		return model.StatusCounts{}, apperr.Storage("failed to aggregate stats", err)
	}
	defer rows.Close()

	var counts model.StatusCounts
	for rows.Next() {
		var (
			status model.Status
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return model.StatusCounts{}, apperr.Storage("failed to scan stats row", err)
		}
		switch status {
		case model.StatusProcessing:
			counts.Processing = n
		case model.StatusSent:
			counts.Sent = n
		case model.StatusDelivered:
			counts.Delivered = n
		case model.StatusFailed:
			counts.Failed = n
		}
		counts.Total += n
	}
	return counts, rows.Err()
}

func checkFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("failed to read affected rows", err)
	}
	if n == 0 {
		return apperr.NotFound("notification", nil)
	}
	return nil
}
