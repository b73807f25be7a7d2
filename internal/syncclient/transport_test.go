package syncclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsync/internal/testutil"
	"vitalsync/internal/vital"
)

func TestHTTPTransport_PostBatch(t *testing.T) {
	var got []vital.Sample
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sync", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":2,"duplicates":0,"errors":[],"rejected":[]}`))
	}))
	defer srv.Close()

	ts := time.Date(2024, 6, 15, 11, 59, 0, 123456000, time.UTC)
	batch := []vital.Sample{
		testutil.NewSample(1, 7, 3, ts),
		testutil.NewSample(2, 7, 3, ts.Add(time.Second)),
	}

	tr := NewHTTPTransport(srv.URL+"/", "secret", time.Second)
	resp, err := tr.PostBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)

	require.Len(t, got, 2)
	assert.Equal(t, batch[0].Key(), got[0].Key())
	assert.Equal(t, *batch[0].HeartRate, *got[0].HeartRate)
	assert.Nil(t, got[0].HRVSDNN)
}

func TestHTTPTransport_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   error
	}{
		{http.StatusUnauthorized, vital.CodeUnauthenticated, vital.ErrUnauthenticated},
		{http.StatusForbidden, vital.CodeNotEntitled, vital.ErrNotEntitled},
		{http.StatusServiceUnavailable, vital.CodeStorageFailure, vital.ErrStorageFailure},
		{http.StatusRequestEntityTooLarge, vital.CodeBatchTooLarge, vital.ErrTransportFailure},
		{http.StatusInternalServerError, "", vital.ErrTransportFailure},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.code != "" {
					_, _ = w.Write([]byte(`{"error":"` + tt.code + `","detail":"nope"}`))
				}
			}))
			defer srv.Close()

			_, err := NewHTTPTransport(srv.URL, "t", time.Second).PostBatch(context.Background(), nil)
			assert.ErrorIs(t, err, tt.want)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.code, se.Code)
		})
	}
}

func TestHTTPTransport_TransportFailures(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>proxy error</html>"))
	}))
	defer garbage.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name    string
		url     string
		timeout time.Duration
	}{
		{"timeout", slow.URL, 50 * time.Millisecond},
		{"malformed body", garbage.URL, time.Second},
		{"unreachable", closedURL, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPTransport(tt.url, "t", tt.timeout).PostBatch(context.Background(), nil)
			assert.ErrorIs(t, err, vital.ErrTransportFailure)
			assert.True(t, IsRetryable(err))
		})
	}
}

func TestHTTPTransport_FetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/me", r.URL.Path)
		_, _ = w.Write([]byte(`{"username":"alice","tier":"premium","retention_days":365,"active":true}`))
	}))
	defer srv.Close()

	p, err := NewHTTPTransport(srv.URL, "t", time.Second).FetchProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &vital.Profile{Username: "alice", Tier: vital.TierPremium, RetentionDays: 365, Active: true}, p)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&StatusError{StatusCode: http.StatusServiceUnavailable}))
	assert.True(t, IsRetryable(vital.ErrUnconfirmedBatch))
	assert.True(t, IsRetryable(&StatusError{StatusCode: http.StatusRequestEntityTooLarge}))
	assert.ErrorIs(t, &StatusError{StatusCode: http.StatusRequestEntityTooLarge}, ErrBatchTooLarge)
	assert.False(t, IsRetryable(&StatusError{StatusCode: http.StatusUnauthorized}))
	assert.False(t, IsRetryable(vital.ErrNotEntitled))
}
