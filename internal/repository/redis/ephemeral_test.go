package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authority/internal/domain"
	"github.com/utafrali/authority/internal/repository"
	apperrors "github.com/utafrali/authority/pkg/errors"
)

var _ repository.EphemeralTokenRepository = (*EphemeralStore)(nil)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) (*EphemeralStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewEphemeralStore(client, func() time.Time { return now }), mr
}

func TestEphemeralStore_CreateAndGet(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	tok := domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "ABC123", now, 15*time.Minute)
	require.NoError(t, store.Create(ctx, tok))

	key := "ephemeral:email_verify:" + tok.TokenHash
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 15*time.Minute, mr.TTL(key))

	members, err := mr.Members("ephemeral:idx:p-1:email_verify")
	require.NoError(t, err)
	assert.Equal(t, []string{tok.TokenHash}, members)

	got, err := store.GetByHash(ctx, domain.KindEmailVerify, tok.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)
	assert.Equal(t, tok.PrincipalID, got.PrincipalID)
	assert.True(t, tok.ExpiresAt.Equal(got.ExpiresAt))
}

func TestEphemeralStore_NativeExpiry(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	tok := domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "ABC123", now, time.Minute)
	require.NoError(t, store.Create(ctx, tok))

	mr.FastForward(time.Minute)

	_, err := store.GetByHash(ctx, domain.KindEmailVerify, tok.TokenHash)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEphemeralStore_SkipsAlreadyExpired(t *testing.T) {
	store, mr := setupStore(t)

	tok := domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "ABC123", now.Add(-time.Hour), time.Minute)
	require.NoError(t, store.Create(context.Background(), tok))

	assert.Empty(t, mr.Keys())
}

func TestEphemeralStore_KindsAreSeparate(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	tok := domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "ABC123", now, time.Minute)
	require.NoError(t, store.Create(ctx, tok))

	_, err := store.GetByHash(ctx, domain.KindPasswordReset, tok.TokenHash)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEphemeralStore_Delete(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	tok := domain.NewEphemeralToken("p-1", domain.KindPasswordReset, "deadbeef", now, time.Hour)
	require.NoError(t, store.Create(ctx, tok))

	removed, err := store.Delete(ctx, tok)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Delete(ctx, tok)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = store.GetByHash(ctx, domain.KindPasswordReset, tok.TokenHash)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, mr.Exists("ephemeral:idx:p-1:password_reset"))
}

func TestEphemeralStore_CreateRejectsLiveDigest(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	first := domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "ABC123", now, time.Minute)
	clash := domain.NewEphemeralToken("p-2", domain.KindEmailVerify, "ABC123", now, time.Minute)
	require.NoError(t, store.Create(ctx, first))

	err := store.Create(ctx, clash)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.False(t, mr.Exists("ephemeral:idx:p-2:email_verify"))

	got, err := store.GetByHash(ctx, domain.KindEmailVerify, first.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.PrincipalID)
}

func TestEphemeralStore_DeleteByPrincipal(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	a := domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "AAAAAA", now, time.Minute)
	b := domain.NewEphemeralToken("p-1", domain.KindEmailVerify, "BBBBBB", now, time.Minute)
	reset := domain.NewEphemeralToken("p-1", domain.KindPasswordReset, "cafe", now, time.Hour)
	other := domain.NewEphemeralToken("p-2", domain.KindEmailVerify, "CCCCCC", now, time.Minute)
	for _, tok := range []*domain.EphemeralToken{a, b, reset, other} {
		require.NoError(t, store.Create(ctx, tok))
	}

	n, err := store.DeleteByPrincipal(ctx, "p-1", domain.KindEmailVerify)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.GetByHash(ctx, domain.KindEmailVerify, a.TokenHash)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = store.GetByHash(ctx, domain.KindPasswordReset, reset.TokenHash)
	assert.NoError(t, err)
	_, err = store.GetByHash(ctx, domain.KindEmailVerify, other.TokenHash)
	assert.NoError(t, err)

	n, err = store.DeleteByPrincipal(ctx, "p-1", domain.KindEmailVerify)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEphemeralStore_ConnectionError(t *testing.T) {
	store, mr := setupStore(t)
	mr.Close()

	_, err := store.GetByHash(context.Background(), domain.KindEmailVerify, "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
	assert.Error(t, store.Ping(context.Background()))
}
