package errors

import "errors"

// Configuration errors. Fatal to any sync pass; never retried.
var (
	ErrMissingEndpoint = errors.New("knowledge base endpoint not configured")
	ErrMissingAPIKey   = errors.New("knowledge base API key not configured")
)

// Remote store errors.
var (
	// ErrNotFound means the remote object no longer exists. Detach and
	// delete call sites treat this as already-satisfied.
	ErrNotFound = errors.New("not found on remote")

	// ErrAlreadyExists is returned by collection creation when another
	// client created the collection first. Resolved by re-listing.
	ErrAlreadyExists = errors.New("collection already exists")

	// ErrDuplicateContent means the remote deduplicated an upload against
	// an existing document with identical content. Convergence, not failure.
	ErrDuplicateContent = errors.New("duplicate content on remote")
)

// Local read errors.
var (
	// ErrDocumentVanished means a document disappeared between listing
	// and reading. The document is skipped for the pass.
	ErrDocumentVanished = errors.New("document vanished before read")

	// ErrDocumentTooLarge means a document exceeds the per-document byte
	// cap for the current network class. Skipped, not fatal.
	ErrDocumentTooLarge = errors.New("document exceeds size limit")
)

// TransientError wraps an error that is likely temporary and safe to retry
// on the next scheduled pass.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry on a later pass.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// NonCriticalError wraps a failure from a best-effort cleanup call.
// It is logged but never propagated as a pass failure.
type NonCriticalError struct {
	Err error
}

func (e *NonCriticalError) Error() string { return e.Err.Error() }
func (e *NonCriticalError) Unwrap() error { return e.Err }

// NonCritical wraps err as a NonCriticalError. Returns nil for nil.
func NonCritical(err error) error {
	if err == nil {
		return nil
	}

	return &NonCriticalError{Err: err}
}

// IsNonCritical reports whether err carries the non-critical severity tag.
func IsNonCritical(err error) bool {
	var nc *NonCriticalError
	return errors.As(err, &nc)
}

// Is, As and New re-export the standard library helpers so callers only
// import one errors package.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)
