package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure and drives the retry/dead-letter
// decision. Kinds are inspected by value, never by runtime type name.
type Kind int

const (
	// KindValidation covers malformed requests, missing required template
	// variables, and ineligible recipients. Retrying cannot fix these, so
	// they bypass the retry path and go straight to the dead-letter queue.
	KindValidation Kind = iota + 1

	// KindDependencyUnavailable covers timeouts and unreachable
	// collaborators (user service, template service, delivery provider).
	// Retried with exponential backoff.
	KindDependencyUnavailable

	// KindProviderRejected covers explicit content rejection by the
	// delivery provider (e.g. invalid address). Not retried.
	KindProviderRejected

	// KindStorage covers lifecycle store write failures. The message is
	// neither acknowledged nor re-published; the broker redelivers it
	// after the visibility timeout.
	KindStorage

	// KindNotFound covers lookups against a record that does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDependencyUnavailable:
		return "dependency_unavailable"
	case KindProviderRejected:
		return "provider_rejected"
	case KindStorage:
		return "storage"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// AppError is a tagged application error carrying its Kind.
type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err, unwrapping as needed. Errors that are
// not AppErrors are classified as dependency failures: an unclassified
// error from an I/O call is more likely transient than permanent.
func KindOf(err error) Kind {
	var app *AppError
	if errors.As(err, &app) {
		return app.Kind
	}
	return KindDependencyUnavailable
}

// Retryable reports whether the broker-retry mechanism applies to err.
func Retryable(err error) bool {
	return KindOf(err) == KindDependencyUnavailable
}

func Validation(message string, err error) *AppError {
	return &AppError{Kind: KindValidation, Message: message, Err: err}
}

func DependencyUnavailable(message string, err error) *AppError {
	return &AppError{Kind: KindDependencyUnavailable, Message: message, Err: err}
}

func ProviderRejected(message string, err error) *AppError {
	return &AppError{Kind: KindProviderRejected, Message: message, Err: err}
}

func Storage(message string, err error) *AppError {
	return &AppError{Kind: KindStorage, Message: message, Err: err}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", resource), Err: err}
}
