package vital

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means the credential was missing, invalid or
	// expired, or did not resolve to an active user. Not retried.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotEntitled means the user's tier does not include cloud sync.
	ErrNotEntitled = errors.New("not entitled: sync requires a premium subscription")

	// ErrValidationFailed marks a malformed sample. It is reported per item
	// and never aborts a batch.
	ErrValidationFailed = errors.New("validation failed")

	// ErrTransportFailure covers network errors, timeouts and unexpected
	// server responses. The batch stays buffered for the next sync.
	ErrTransportFailure = errors.New("transport failure")

	// ErrStorageFailure means the central store was unavailable. The whole
	// batch fails and nothing is deleted locally.
	ErrStorageFailure = errors.New("storage failure")

	// ErrSyncInProgress is returned when a sync is requested while another
	// one is running against the same buffer.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrUnconfirmedBatch is returned when a success response does not
	// account for every sample that was sent.
	ErrUnconfirmedBatch = errors.New("server response does not confirm the batch")
)

// ValidationError describes why one item of a batch was rejected.
type ValidationError struct {
	Index  int
	Key    SampleKey
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("item %d (id=%d): %s", e.Index, e.Key.ID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }
