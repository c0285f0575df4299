package errdefs

import (
	"context"
	"errors"
	"fmt"
)

// Category sentinel errors. Every error that crosses a component boundary
// wraps exactly one of these so callers can branch on errors.Is without
// knowing the concrete cause.
var (
	// ErrValidation indicates malformed input or configuration: unknown
	// environment, invalid domain name, missing required flag.
	ErrValidation = errors.New("validation failed")

	// ErrPermission indicates the API token lacks a required scope.
	ErrPermission = errors.New("permission denied")

	// ErrQuota indicates a rate limit was exhausted after the retry budget.
	ErrQuota = errors.New("quota exhausted")

	// ErrTransient indicates a retriable network, DNS, or timeout failure.
	ErrTransient = errors.New("transient failure")

	// ErrInvariant indicates an internal state violation. Never retried.
	ErrInvariant = errors.New("invariant violated")

	// ErrRollback indicates a failure during a reverse operation. It never
	// blocks further rollback actions.
	ErrRollback = errors.New("rollback failed")

	// ErrCancelled indicates cooperative cancellation at a suspension point.
	ErrCancelled = errors.New("cancelled by user")

	// ErrNotFound indicates a missing record (token, deployment, domain).
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates a token past its expiry. Treated as absent.
	ErrExpired = errors.New("expired")
)

// Validation wraps err (or formats args) as a validation error.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrValidation, args)...)
}

// Permission wraps a missing-scope failure with the scope name.
func Permission(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrPermission, args)...)
}

// Quota wraps a rate-limit exhaustion with the API class.
func Quota(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrQuota, args)...)
}

// Transient wraps a retriable failure.
func Transient(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrTransient, args)...)
}

// Invariant wraps an internal state violation.
func Invariant(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrInvariant, args)...)
}

// Rollback wraps a reverse-operation failure.
func Rollback(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrRollback, args)...)
}

// NotFound wraps a missing-record failure.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, args)...)
}

func prepend(err error, args []any) []any {
	return append([]any{err}, args...)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsPermission reports whether err is a permission error.
func IsPermission(err error) bool { return errors.Is(err, ErrPermission) }

// IsQuota reports whether err is a quota error.
func IsQuota(err error) bool { return errors.Is(err, ErrQuota) }

// IsTransient reports whether err is retriable.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsInvariant reports whether err is an internal invariant violation.
func IsInvariant(err error) bool { return errors.Is(err, ErrInvariant) }

// IsRollback reports whether err occurred during a reverse operation.
func IsRollback(err error) bool { return errors.Is(err, ErrRollback) }

// IsCancelled reports whether err is a user cancellation, including a
// plain context.Canceled surfacing from a suspension point.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsNotFound reports whether err is a missing-record failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsExpired reports whether err is an expired-token failure.
func IsExpired(err error) bool { return errors.Is(err, ErrExpired) }

// Categorize maps an arbitrary error to its category name for audit
// records and user-visible summaries. Unrecognized errors are "generic".
func Categorize(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation"
	case IsPermission(err):
		return "permission"
	case IsQuota(err):
		return "quota"
	case IsTransient(err):
		return "transient"
	case IsInvariant(err):
		return "invariant"
	case IsRollback(err):
		return "rollback"
	case IsCancelled(err):
		return "cancelled"
	case IsNotFound(err):
		return "not-found"
	case IsExpired(err):
		return "expired"
	default:
		return "generic"
	}
}
