package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, "rl:", limit, window), mr
}

func TestRedisLimiter_AllowsUpToLimit(t *testing.T) {
	l, _ := newRedisLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 2; i >= 0; i-- {
		res, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Remaining)
		assert.Equal(t, 3, res.Limit)
	}

	res, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.True(t, res.ResetAt.After(time.Now()))
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()

	res, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiter_WindowSlides(t *testing.T) {
	l, _ := newRedisLimiter(t, 1, time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }
	ctx := context.Background()

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	l.now = func() time.Time { return base.Add(61 * time.Second) }
	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	l, mr := newRedisLimiter(t, 1, time.Minute)
	mr.Close()

	_, err := l.Allow(context.Background(), "k")
	require.Error(t, err)
}

func TestLocalLimiter_Burst(t *testing.T) {
	l := NewLocalLimiter(2, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		res, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.ResetAt.After(now))
}

func TestLocalLimiter_Sweep(t *testing.T) {
	l := NewLocalLimiter(5, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	_, _ = l.Allow(context.Background(), "old")
	l.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, _ = l.Allow(context.Background(), "new")

	l.Sweep()
	assert.Equal(t, 1, l.size())
}

type stubLimiter struct {
	res Result
	err error
}

func (s stubLimiter) Allow(context.Context, string) (Result, error) { return s.res, s.err }

func serve(l Limiter) *httptest.ResponseRecorder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Middleware(l, ByClientIPAndPath, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	return rec
}

func TestMiddleware_Allowed(t *testing.T) {
	rec := serve(stubLimiter{res: Result{Allowed: true, Limit: 10, Remaining: 9}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddleware_Rejected(t *testing.T) {
	rec := serve(stubLimiter{res: Result{Allowed: false, Limit: 10, ResetAt: time.Now().Add(30 * time.Second)}})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestMiddleware_FailsOpen(t *testing.T) {
	rec := serve(stubLimiter{err: errors.New("redis down")})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestByClientIPAndPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", nil)
	req.RemoteAddr = "10.1.1.1:5000"
	assert.Equal(t, "10.1.1.1|/auth/signup", ByClientIPAndPath(req))
}
