package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tiny-model", req.Model)
		require.Len(t, req.Messages, 2)
		require.Equal(t, "user", req.Messages[1].Role)
		require.Equal(t, "hello", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"SUMMARY: hi"},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{Endpoint: srv.URL, Model: "tiny-model", APIKey: "secret"}, nil)
	text, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "SUMMARY: hi", text)
	require.Equal(t, "tiny-model", c.Model())
}

func TestClientRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(ClientConfig{Endpoint: srv.URL}, nil).Complete(context.Background(), "x")
	require.ErrorIs(t, err, ErrRateLimited)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	require.Equal(t, 17*time.Second, rle.RetryAfter)
	require.Equal(t, "slow down", rle.Message)
	require.Contains(t, err.Error(), "retry after 17s")
}

func TestClientGenericErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, "boom", "completion error 500"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"bad json", http.StatusOK, `{`, "decode completion response"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			_, err := NewClient(ClientConfig{Endpoint: srv.URL}, nil).Complete(context.Background(), "x")
			require.ErrorContains(t, err, tc.wantErr)
			require.NotErrorIs(t, err, ErrRateLimited)
		})
	}
}

func TestClientCancellationAbortsRequest(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	_, err := NewClient(ClientConfig{Endpoint: srv.URL, Timeout: time.Minute}, nil).Complete(ctx, "x")
	require.ErrorIs(t, err, ErrCanceled)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Zero(t, parseRetryAfter("", now))
	require.Zero(t, parseRetryAfter("-3", now))
	require.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	require.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	require.Zero(t, parseRetryAfter("soon", now))
}
