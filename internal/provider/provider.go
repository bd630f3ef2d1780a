// Package provider abstracts the delivery channels (mail transfer agent,
// push gateway) behind a single Send contract.
package provider

import (
	"context"

	"github.com/jwalitptl/notifier/internal/model"
)

// Provider dispatches rendered content to a destination. Implementations
// map transport failures to dependency-unavailable errors and explicit
// provider rejections (invalid address, rejected content) to
// provider-rejected errors.
type Provider interface {
	Send(ctx context.Context, destination, subject, body, notificationID string) (*model.SendResult, error)
}
