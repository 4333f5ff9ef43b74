package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kotori-ai/internal/domain"
	"kotori-ai/internal/infra/config"
)

func TestMapHTTPError(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"429 is rate limit", http.StatusTooManyRequests, domain.ErrRateLimit},
		{"401 is auth", http.StatusUnauthorized, domain.ErrAuthInvalid},
		{"403 is auth", http.StatusForbidden, domain.ErrAuthInvalid},
		{"500 is server error", http.StatusInternalServerError, domain.ErrServerError},
		{"503 is server error", http.StatusServiceUnavailable, domain.ErrServerError},
		{"400 is rejection", http.StatusBadRequest, domain.ErrRejected},
		{"404 is rejection", http.StatusNotFound, domain.ErrRejected},
		{"413 is rejection", http.StatusRequestEntityTooLarge, domain.ErrRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapHTTPError(tc.status, []byte(`{"error":"x"}`), http.Header{})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRetryAfterHintHeaderSeconds(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "42")
	assert.Equal(t, 42*time.Second, retryAfterHint(h, nil))
}

func TestRetryAfterHintBodyRetryDelay(t *testing.T) {
	body := []byte(`{"error":{"code":429,"details":[{"retryDelay":"27s"}]}}`)
	assert.Equal(t, 27*time.Second, retryAfterHint(http.Header{}, body))
}

func TestRetryAfterHintAbsent(t *testing.T) {
	assert.Zero(t, retryAfterHint(http.Header{}, []byte(`{}`)))
}

func TestRetryAfterSurfacesInRateLimitError(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "10")
	err := mapHTTPError(http.StatusTooManyRequests, nil, h)

	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 10*time.Second, rle.RetryAfter)
}

func TestDoJSONRequestSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := doJSONRequest(context.Background(), srv.Client(), srv.URL, []byte(`{}`),
		map[string]string{"Authorization": "Bearer sk-test"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestDoJSONRequestMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	_, err := doJSONRequest(context.Background(), srv.Client(), srv.URL, []byte(`{}`), nil)
	require.Error(t, err)

	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 7*time.Second, rle.RetryAfter)
}

func TestDoJSONRequestTransportErrorIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	_, err := doJSONRequest(context.Background(), http.DefaultClient, srv.URL, []byte(`{}`), nil)
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestNewHTTPClientDefaults(t *testing.T) {
	client := NewHTTPClient(config.ProviderConfig{})
	assert.Equal(t, defaultConnTimeout+defaultRespTimeout, client.Timeout)
}
