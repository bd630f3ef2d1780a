// Package enrichment holds the clients for the external user and template
// collaborators. Both are plain request/response HTTP services; the
// pipeline treats them as black boxes behind these interfaces.
package enrichment

import (
	"context"
)

// User is the profile returned by the user collaborator.
type User struct {
	ID           string      `json:"id"`
	Email        string      `json:"email,omitempty"`
	DeviceTokens []string    `json:"device_tokens,omitempty"`
	Preferences  Preferences `json:"preferences"`
}

// Preferences carries per-channel opt-in flags and the user's language.
type Preferences struct {
	EmailEnabled bool   `json:"email_enabled"`
	PushEnabled  bool   `json:"push_enabled"`
	Language     string `json:"language"`
	QuietHours   string `json:"quiet_hours,omitempty"`
}

// Eligibility is the user collaborator's delivery-eligibility verdict.
type Eligibility struct {
	CanReceive bool   `json:"can_receive"`
	Reason     string `json:"reason,omitempty"`
}

// Template is a channel template in a concrete language.
type Template struct {
	TemplateID        string   `json:"template_id"`
	Language          string   `json:"language"`
	Subject           string   `json:"subject"`
	Body              string   `json:"body"`
	DeclaredVariables []string `json:"declared_variables"`
}

// VariableCheck is the template collaborator's variable validation result.
type VariableCheck struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing,omitempty"`
	Extra   []string `json:"extra,omitempty"`
}

// UserClient looks up user profiles and delivery eligibility.
type UserClient interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	ValidateCanReceive(ctx context.Context, userID string, channel string) (*Eligibility, error)
}

// TemplateClient looks up templates, falling back to fallbackLanguage when
// the requested language is unavailable, and validates variable sets.
type TemplateClient interface {
	GetTemplate(ctx context.Context, templateID, language, fallbackLanguage string) (*Template, error)
	ValidateVariables(ctx context.Context, templateID string, variables map[string]string, language string) (*VariableCheck, error)
}
