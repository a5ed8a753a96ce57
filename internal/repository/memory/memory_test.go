package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authority/internal/domain"
	"github.com/utafrali/authority/internal/repository"
	apperrors "github.com/utafrali/authority/pkg/errors"
)

var (
	_ repository.PrincipalRepository      = (*PrincipalStore)(nil)
	_ repository.EphemeralTokenRepository = (*EphemeralStore)(nil)
	_ repository.SessionTokenRepository   = (*SessionStore)(nil)
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func principal(id, username, email string) *domain.Principal {
	return &domain.Principal{ID: id, Username: username, Email: email, PasswordHash: "h", CreatedAt: now, UpdatedAt: now}
}

// ---------------------------------------------------------------------------
// PrincipalStore
// ---------------------------------------------------------------------------

func TestPrincipalStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := NewPrincipalStore()

	require.NoError(t, s.Create(ctx, principal("p-1", "alice", "Alice@Example.com")))

	got, err := s.GetByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)

	got, err = s.GetByEmail(ctx, "ALICE@example.COM")
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.ID)

	got, err = s.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.ID)

	_, err = s.GetByUsername(ctx, "Alice")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPrincipalStore_GetByUsernameOrEmail(t *testing.T) {
	ctx := context.Background()
	s := NewPrincipalStore()
	require.NoError(t, s.Create(ctx, principal("p-1", "alice", "alice@example.com")))

	for _, id := range []string{"alice", "alice@example.com", "Alice@Example.com"} {
		got, err := s.GetByUsernameOrEmail(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, "p-1", got.ID)
	}

	_, err := s.GetByUsernameOrEmail(ctx, "bob")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPrincipalStore_Uniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewPrincipalStore()
	require.NoError(t, s.Create(ctx, principal("p-1", "alice", "alice@example.com")))

	err := s.Create(ctx, principal("p-2", "alice", "other@example.com"))
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)

	err = s.Create(ctx, principal("p-3", "bob", "ALICE@example.com"))
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestPrincipalStore_ConcurrentCreateSameUsername(t *testing.T) {
	ctx := context.Background()
	s := NewPrincipalStore()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Create(ctx, principal(fmt.Sprintf("p-%d", i), "alice", fmt.Sprintf("a%d@example.com", i)))
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrUsernameTaken)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestPrincipalStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewPrincipalStore()
	require.NoError(t, s.Create(ctx, principal("p-1", "alice", "alice@example.com")))

	got, err := s.GetByID(ctx, "p-1")
	require.NoError(t, err)
	got.Verified = true

	again, err := s.GetByID(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, again.Verified)
}

func TestPrincipalStore_MarkVerifiedAndUpdatePassword(t *testing.T) {
	ctx := context.Background()
	s := NewPrincipalStore()
	require.NoError(t, s.Create(ctx, principal("p-1", "alice", "alice@example.com")))

	require.NoError(t, s.MarkVerified(ctx, "p-1"))
	require.NoError(t, s.MarkVerified(ctx, "p-1"))
	require.NoError(t, s.UpdatePassword(ctx, "p-1", "h2", now.Add(time.Hour)))

	got, err := s.GetByID(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.Equal(t, "h2", got.PasswordHash)

	assert.ErrorIs(t, s.MarkVerified(ctx, "missing"), apperrors.ErrNotFound)
	assert.ErrorIs(t, s.UpdatePassword(ctx, "missing", "h", now), apperrors.ErrNotFound)
}

// ---------------------------------------------------------------------------
// EphemeralStore
// ---------------------------------------------------------------------------

func TestEphemeralStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewEphemeralStore()

	verify := domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "ABC123", now, 15*time.Minute)
	reset := domain.NewEphemeralToken("p-1", domain.KindPasswordReset, "ABC123", now, time.Hour)
	require.NoError(t, s.Create(ctx, verify))
	require.NoError(t, s.Create(ctx, reset))

	got, err := s.GetByHash(ctx, domain.KindEmailVerify, domain.HashToken("ABC123"))
	require.NoError(t, err)
	assert.Equal(t, verify.ID, got.ID)

	removed, err := s.Delete(ctx, verify)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Delete(ctx, verify)
	require.NoError(t, err)
	assert.False(t, removed)
	_, err = s.GetByHash(ctx, domain.KindEmailVerify, verify.TokenHash)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = s.GetByHash(ctx, domain.KindPasswordReset, reset.TokenHash)
	assert.NoError(t, err)
}

func TestEphemeralStore_CreateRejectsDuplicateDigest(t *testing.T) {
	ctx := context.Background()
	s := NewEphemeralStore()

	require.NoError(t, s.Create(ctx, domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "ABC123", now, time.Minute)))
	err := s.Create(ctx, domain.NewEphemeralToken("p-2", domain.KindEmailVerify, "ABC123", now, time.Minute))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	got, err := s.GetByHash(ctx, domain.KindEmailVerify, domain.HashToken("ABC123"))
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.PrincipalID)
}

func TestEphemeralStore_ConcurrentDeleteClaimsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewEphemeralStore()
	tok := domain.NewEphemeralToken("p-1", domain.KindPasswordReset, "cafe", now, time.Hour)
	require.NoError(t, s.Create(ctx, tok))

	const workers = 16
	var wg sync.WaitGroup
	var claimed atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.Delete(ctx, tok); err == nil && ok {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), claimed.Load())
}

func TestEphemeralStore_DeleteByPrincipalScopedToKind(t *testing.T) {
	ctx := context.Background()
	s := NewEphemeralStore()

	require.NoError(t, s.Create(ctx, domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "AAAAAA", now, time.Minute)))
	require.NoError(t, s.Create(ctx, domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "BBBBBB", now, time.Minute)))
	require.NoError(t, s.Create(ctx, domain.NewEphemeralToken("p-1", domain.KindPasswordReset, "cccc", now, time.Minute)))
	require.NoError(t, s.Create(ctx, domain.NewEphemeralToken("p-2", domain.KindEmailVerify, "DDDDDD", now, time.Minute)))

	n, err := s.DeleteByPrincipal(ctx, "p-1", domain.KindEmailVerify)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.GetByHash(ctx, domain.KindPasswordReset, domain.HashToken("cccc"))
	assert.NoError(t, err)
	_, err = s.GetByHash(ctx, domain.KindEmailVerify, domain.HashToken("DDDDDD"))
	assert.NoError(t, err)
}

func TestEphemeralStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := NewEphemeralStore()
	require.NoError(t, s.Create(ctx, domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "OLD000", now, time.Minute)))
	require.NoError(t, s.Create(ctx, domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "NEW000", now, time.Hour)))

	n, err := s.DeleteExpired(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ---------------------------------------------------------------------------
// SessionStore
// ---------------------------------------------------------------------------

func TestSessionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()

	a := domain.NewSessionToken("p-1", "refresh-a", now.Add(time.Hour), now)
	b := domain.NewSessionToken("p-1", "refresh-b", now.Add(time.Hour), now)
	c := domain.NewSessionToken("p-2", "refresh-c", now.Add(time.Minute), now)
	for _, st := range []*domain.SessionToken{a, b, c} {
		require.NoError(t, s.Create(ctx, st))
	}
	assert.ErrorIs(t, s.Create(ctx, a), apperrors.ErrAlreadyExists)
	assert.Equal(t, 2, s.Count("p-1"))

	got, err := s.GetByHash(ctx, a.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.PrincipalID)

	require.NoError(t, s.DeleteByHash(ctx, a.TokenHash))
	require.NoError(t, s.DeleteByHash(ctx, a.TokenHash))
	_, err = s.GetByHash(ctx, a.TokenHash)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	n, err := s.DeleteExpired(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteByPrincipal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, s.Count("p-1"))
}
