// Package redis stores ephemeral tokens in Redis with native key expiry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/authority/internal/domain"
	"github.com/utafrali/authority/pkg/database"
	apperrors "github.com/utafrali/authority/pkg/errors"
)

const keyPrefix = "ephemeral"

// EphemeralStore implements repository.EphemeralTokenRepository on Redis.
// Each token lives at ephemeral:<kind>:<digest> with a TTL equal to its
// remaining lifetime; ephemeral:idx:<principal>:<kind> indexes the digests
// so a principal's tokens can be superseded.
type EphemeralStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewEphemeralStore creates a Redis-backed ephemeral token store.
func NewEphemeralStore(client redis.Cmdable, now func() time.Time) *EphemeralStore {
	if now == nil {
		now = time.Now
	}
	return &EphemeralStore{client: client, now: now}
}

func tokenKey(kind domain.EphemeralKind, hash string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, kind, hash)
}

func indexKey(principalID string, kind domain.EphemeralKind) string {
	return fmt.Sprintf("%s:idx:%s:%s", keyPrefix, principalID, kind)
}

// Create stores t until its expiry. A token that is already expired is not
// stored. SET NX rejects a digest that is already live.
func (s *EphemeralStore) Create(ctx context.Context, t *domain.EphemeralToken) (err error) {
	ctx, end := database.TraceCommand(ctx, "CreateEphemeralToken")
	defer func() { end(err) }()

	ttl := t.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ephemeral token: %w", err)
	}

	key := tokenKey(t.Kind, t.TokenHash)
	stored, err := s.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("store ephemeral token: %w", err)
	}
	if !stored {
		return fmt.Errorf("store ephemeral token: %w", apperrors.ErrAlreadyExists)
	}

	idx := indexKey(t.PrincipalID, t.Kind)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, idx, t.TokenHash)
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		// Unindexed tokens would escape supersession.
		_ = s.client.Del(ctx, key).Err()
		return fmt.Errorf("index ephemeral token: %w", err)
	}
	return nil
}

// GetByHash retrieves a token by kind and digest.
func (s *EphemeralStore) GetByHash(ctx context.Context, kind domain.EphemeralKind, tokenHash string) (_ *domain.EphemeralToken, err error) {
	ctx, end := database.TraceCommand(ctx, "GetEphemeralToken")
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	data, err := s.client.Get(ctx, tokenKey(kind, tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get ephemeral token: %w", err)
	}

	var t domain.EphemeralToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal ephemeral token: %w", err)
	}
	return &t, nil
}

// Delete removes t and its index entry. DEL reports the removed key count,
// so only one of several concurrent callers sees true.
func (s *EphemeralStore) Delete(ctx context.Context, t *domain.EphemeralToken) (_ bool, err error) {
	ctx, end := database.TraceCommand(ctx, "DeleteEphemeralToken")
	defer func() { end(err) }()

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, tokenKey(t.Kind, t.TokenHash))
		pipe.SRem(ctx, indexKey(t.PrincipalID, t.Kind), t.TokenHash)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete ephemeral token: %w", err)
	}
	return del.Val() == 1, nil
}

// DeleteByPrincipal removes every token of kind for the principal and
// returns how many were still live.
func (s *EphemeralStore) DeleteByPrincipal(ctx context.Context, principalID string, kind domain.EphemeralKind) (_ int64, err error) {
	ctx, end := database.TraceCommand(ctx, "DeleteEphemeralTokensByPrincipal")
	defer func() { end(err) }()

	idx := indexKey(principalID, kind)
	hashes, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("list ephemeral tokens: %w", err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = tokenKey(kind, h)
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, idx, toAny(hashes)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete ephemeral tokens: %w", err)
	}
	return del.Val(), nil
}

// DeleteExpired is a no-op: Redis expires keys itself.
func (s *EphemeralStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping checks connectivity for the readiness check.
func (s *EphemeralStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
