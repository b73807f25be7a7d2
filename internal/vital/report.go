package vital

import "time"

// SyncStatus is the outcome of one sync attempt.
type SyncStatus string

const (
	SyncSynced      SyncStatus = "synced"
	SyncNothing     SyncStatus = "nothing"
	SyncFailed      SyncStatus = "failed"
	SyncNotEntitled SyncStatus = "not_entitled"
	SyncBusy        SyncStatus = "busy"
)

// SyncReport summarises a sync attempt.
type SyncReport struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Status     SyncStatus
	Sent       int
	Accepted   int
	Duplicates int
	Rejected   int
	Removed    int64
	Error      string
}

// IngestResult is the server-side outcome of a batch.
type IngestResult struct {
	Accepted   int
	Duplicates int
	Rejected   []ValidationError
}

// Response converts the result to its wire form.
func (r *IngestResult) Response() *IngestResponse {
	resp := &IngestResponse{
		Count:      r.Accepted,
		Duplicates: r.Duplicates,
		Errors:     []string{},
		Rejected:   []RejectedItem{},
	}
	for _, v := range r.Rejected {
		resp.Errors = append(resp.Errors, v.Error())
		resp.Rejected = append(resp.Rejected, RejectedItem{
			Index:     v.Index,
			ID:        v.Key.ID,
			Timestamp: v.Key.Timestamp,
			Reason:    v.Reason,
		})
	}
	return resp
}

// IngestResponse is the body of a successful POST /sync.
type IngestResponse struct {
	Count      int            `json:"count"`
	Duplicates int            `json:"duplicates"`
	Errors     []string       `json:"errors"`
	Rejected   []RejectedItem `json:"rejected"`
}

// RejectedItem identifies one rejected sample by its index in the batch.
type RejectedItem struct {
	Index     int       `json:"index"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// ErrorResponse is the body of every non-2xx gateway response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Error codes carried in ErrorResponse.Error.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeNotEntitled     = "not_entitled"
	CodeStorageFailure  = "storage_failure"
	CodeBadRequest      = "bad_request"
	CodeBatchTooLarge   = "batch_too_large"
)

// Profile is the body of GET /v1/me.
type Profile struct {
	Username      string `json:"username"`
	Tier          Tier   `json:"tier"`
	RetentionDays int    `json:"retention_days"`
	Active        bool   `json:"active"`
}
