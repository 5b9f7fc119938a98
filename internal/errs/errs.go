// Package errs defines the error kinds surfaced by exposurelog operations.
//
// Storage and transport adapters wrap these with eris for context; callers
// classify them with errors.As so the transport layer can map each kind to a
// status code.
package errs

import "fmt"

// ValidationError reports malformed caller input: an unknown order_by
// column, an invalid tag, an out-of-range enum value, or an unusable
// search pattern. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an operation against an entity that does not
// exist: a message id, or an exposure obs_id unknown to every registry.
type NotFoundError struct {
	Kind string
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref)
}

// NotFound builds a NotFoundError for the named entity kind.
func NotFound(kind string, ref any) *NotFoundError {
	return &NotFoundError{Kind: kind, Ref: fmt.Sprintf("%v", ref)}
}

// ConflictError reports a lost edit race: the target message was
// invalidated by a concurrent edit or delete between read and write.
// Callers may re-fetch the current version and retry.
type ConflictError struct {
	ID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("message id=%d already invalidated by a concurrent edit or delete", e.ID)
}

// SchemaMismatchError reports that the persisted schema version does not
// match what the running code requires. Fatal: the process must not serve
// traffic until the schema is migrated.
type SchemaMismatchError struct {
	Have int
	Want int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema version mismatch: store has %d, code requires %d (run migrate)", e.Have, e.Want)
}

// RegistryError reports that an exposure registry is unreachable or
// returned an inconsistent response. Surfaced per request; not retried
// beyond the storage adapter's transparent retry of idempotent reads.
type RegistryError struct {
	Registry int
	Err      error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("exposure registry %d: %v", e.Registry, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}
