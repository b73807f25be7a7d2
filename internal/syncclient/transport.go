// Package syncclient moves buffered samples from the device to the
// ingestion gateway. Samples leave the buffer only after the server has
// confirmed them, so delivery is at-least-once.
package syncclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"vitalsync/internal/vital"
)

// DefaultRequestTimeout bounds every request to the gateway.
const DefaultRequestTimeout = 30 * time.Second

// ErrBatchTooLarge means the gateway refused the batch for its size. It is
// a transport failure: nothing was stored.
var ErrBatchTooLarge = fmt.Errorf("%w: batch too large for server", vital.ErrTransportFailure)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Transport carries batches to the gateway.
type Transport interface {
	PostBatch(ctx context.Context, batch []vital.Sample) (*vital.IngestResponse, error)
	FetchProfile(ctx context.Context) (*vital.Profile, error)
}

// StatusError is a non-2xx response from the gateway.
type StatusError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("server returned %d", e.StatusCode)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap maps the status to the error taxonomy.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return vital.ErrUnauthenticated
	case http.StatusForbidden:
		return vital.ErrNotEntitled
	case http.StatusServiceUnavailable:
		return vital.ErrStorageFailure
	case http.StatusRequestEntityTooLarge:
		return ErrBatchTooLarge
	default:
		return vital.ErrTransportFailure
	}
}

// HTTPTransport talks JSON to the gateway with a bearer token.
type HTTPTransport struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPTransport(serverURL, token string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(serverURL, "/"),
		token:   token,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// PostBatch sends batch to POST /sync and decodes the confirmation.
func (t *HTTPTransport) PostBatch(ctx context.Context, batch []vital.Sample) (*vital.IngestResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	var resp vital.IngestResponse
	if err := t.do(ctx, http.MethodPost, "/sync", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchProfile reads the caller's profile from GET /v1/me.
func (t *HTTPTransport) FetchProfile(ctx context.Context) (*vital.Profile, error) {
	var p vital.Profile
	if err := t.do(ctx, http.MethodGet, "/v1/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", vital.ErrTransportFailure, err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", vital.ErrTransportFailure, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", vital.ErrTransportFailure, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var er vital.ErrorResponse
		if json.Unmarshal(data, &er) == nil {
			se.Code = er.Error
			se.Detail = er.Detail
		}
		return se
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", vital.ErrTransportFailure, err)
	}
	return nil
}

// IsRetryable reports whether a failed sync should simply be retried on
// the next tick.
func IsRetryable(err error) bool {
	return errors.Is(err, vital.ErrTransportFailure) ||
		errors.Is(err, vital.ErrStorageFailure) ||
		errors.Is(err, vital.ErrUnconfirmedBatch)
}

var _ Transport = (*HTTPTransport)(nil)
