package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeExpirer struct {
	n     int64
	err   error
	calls atomic.Int32
	got   time.Time
}

func (f *fakeExpirer) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.calls.Add(1)
	f.got = now
	return f.n, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweeper_Sweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := &fakeExpirer{n: 3}
	ephemeral := &fakeExpirer{err: errors.New("connection refused")}

	s := NewSweeper(map[string]Expirer{"sessions": sessions, "ephemeral": ephemeral},
		time.Minute, time.Second, func() time.Time { return now }, discardLogger())

	removed := s.Sweep(context.Background())

	assert.Equal(t, map[string]int64{"sessions": 3}, removed)
	assert.Equal(t, now, sessions.got)
	assert.Equal(t, int32(1), ephemeral.calls.Load())
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	store := &fakeExpirer{}
	s := NewSweeper(map[string]Expirer{"sessions": store}, 5*time.Millisecond, time.Second, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
