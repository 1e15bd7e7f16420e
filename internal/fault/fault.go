// Package fault defines the structured error taxonomy shared by every
// ledger operation.
//
// Each failure carries a stable Kind so callers (and the CLI envelope) can
// branch on category without parsing messages:
//   - Validation: malformed/missing/out-of-range input, rejected before any write
//   - Integrity: stored content hash does not match the recomputed hash
//   - ContentionDenied: lease acquire/release refused; retryable after backoff or expiry
//   - Conflict: an operation explicitly refused because of an open/closed conflict record
//   - NotFound: referenced id/scope/key does not exist
//   - StorageUnavailable: the ledger cannot be appended to at all
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes ledger operation failures.
type Kind string

const (
	// KindValidation indicates malformed or out-of-range input.
	// Safe to retry after fixing the input.
	KindValidation Kind = "validation"

	// KindIntegrity indicates a stored record whose content hash no longer
	// matches its recomputed hash. Never auto-repaired.
	KindIntegrity Kind = "integrity"

	// KindContentionDenied indicates a lease operation refused because
	// another owner holds the key, or the caller is not the holder.
	// Retryable after backoff or natural expiry.
	KindContentionDenied Kind = "contention-denied"

	// KindConflict indicates an operation refused because of the state of a
	// conflict record (e.g. resolving an already-closed conflict).
	KindConflict Kind = "conflict"

	// KindNotFound indicates a referenced id, scope, or key does not exist.
	KindNotFound Kind = "not-found"

	// KindStorageUnavailable indicates the ledger could not be read or
	// appended at the filesystem level. Aborts the operation without
	// partial effect.
	KindStorageUnavailable Kind = "storage-unavailable"
)

// Error is a structured operation failure.
//
// Error includes enough context to diagnose the failure without re-running
// the operation: the operation name, the path or key involved, and free-form
// details.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Op names the operation that failed (e.g. "lease.acquire").
	Op string

	// Path is the ledger file involved, when relevant.
	Path string

	// Key is the record id or (scope, key) identity involved, when relevant.
	Key string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	switch {
	case e.Op != "" && e.Key != "":
		return fmt.Sprintf("%s: %s (op=%s, key=%s)", e.Kind, msg, e.Op, e.Key)
	case e.Op != "":
		return fmt.Sprintf("%s: %s (op=%s)", e.Kind, msg, e.Op)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from an error chain.
// Returns KindStorageUnavailable for errors that are not *fault.Error,
// since an unclassified failure at this layer is by definition a failure
// to read or write the ledger.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindStorageUnavailable
}

// IsKind reports whether the error chain contains a *fault.Error of kind k.
func IsKind(err error, k Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsIntegrity reports whether err is an integrity error.
func IsIntegrity(err error) bool { return IsKind(err, KindIntegrity) }

// IsDenied reports whether err is a contention-denied error.
func IsDenied(err error) bool { return IsKind(err, KindContentionDenied) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// Validationf builds a validation error with a formatted message.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Integrityf builds an integrity error with a formatted message.
func Integrityf(op, key, format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Key: key, Message: fmt.Sprintf(format, args...)}
}

// Deniedf builds a contention-denied error with a formatted message.
func Deniedf(op, key, format string, args ...any) *Error {
	return &Error{Kind: KindContentionDenied, Op: op, Key: key, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error with a formatted message.
func Conflictf(op, key, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Key: key, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error with a formatted message.
func NotFoundf(op, key, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Key: key, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps an underlying filesystem error as storage-unavailable.
func Storage(op, path string, err error) *Error {
	return &Error{
		Kind:    KindStorageUnavailable,
		Op:      op,
		Path:    path,
		Message: "ledger storage unavailable",
		Err:     err,
	}
}
