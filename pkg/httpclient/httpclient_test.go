package httpclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authority/pkg/errors"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 2 * time.Millisecond
	return cfg
}

func TestClient_RetriesServerErrorsAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	var lastBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lastBody = string(b)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	resp, err := PostJSON(context.Background(), New(fastConfig()), srv.URL, []byte(`{"to":"a@b.c"}`), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, `{"to":"a@b.c"}`, lastBody)
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := PostJSON(context.Background(), New(fastConfig()), srv.URL, []byte("{}"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostJSON_SetsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := PostJSON(context.Background(), New(fastConfig()), srv.URL, []byte("{}"),
		http.Header{"Authorization": []string{"Bearer k"}})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "Bearer k", got.Get("Authorization"))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := PostJSON(context.Background(), New(fastConfig()), srv.URL, []byte("{}"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ContextCanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RetryWaitMin = time.Hour
	cfg.RetryWaitMax = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := PostJSON(ctx, New(cfg), srv.URL, []byte("{}"), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCircuitBreaker_TripsOnRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxRetries = 0
	cbCfg := DefaultCircuitBreakerConfig("test-webhook")
	cbCfg.MinRequests = 2
	cb := NewCircuitBreakerClient(New(cfg), cbCfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 2; i++ {
		_, err := PostJSON(context.Background(), cb, srv.URL, []byte("{}"), nil)
		var upstream *UpstreamError
		require.ErrorAs(t, err, &upstream)
		assert.Equal(t, http.StatusInternalServerError, upstream.Status)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := PostJSON(context.Background(), cb, srv.URL, []byte("{}"), nil)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

func TestParseResponseError(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		sentinel error
		code     string
	}{
		{http.StatusBadRequest, `{"error":{"code":"BAD_EMAIL","message":"bad address"}}`, apperrors.ErrInvalidInput, "INVALID_INPUT"},
		{http.StatusUnauthorized, `nope`, apperrors.ErrUnauthorized, "UNAUTHORIZED"},
		{http.StatusTooManyRequests, ``, apperrors.ErrRateLimited, "RATE_LIMITED"},
		{http.StatusServiceUnavailable, `down`, apperrors.ErrServiceUnavail, "UPSTREAM_ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Body: io.NopCloser(strings.NewReader(tt.body))}
			err := ParseResponseError(resp, "mailer")

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Contains(t, appErr.Message, "mailer")
		})
	}
}

func TestParseResponseError_KeepsEnvelopeMessage(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusBadRequest,
		Body:       io.NopCloser(strings.NewReader(`{"error":{"code":"BAD_EMAIL","message":"bad address"}}`)),
	}
	err := ParseResponseError(resp, "mailer")
	assert.Contains(t, err.Error(), "bad address")
}
