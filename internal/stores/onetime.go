package stores

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTokenNotFound means the token is unknown, expired, or already used.
	ErrTokenNotFound = errors.New("one-time token not found")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("one-time token redis unavailable")
)

// Purpose names a token family and its lifetime.
type Purpose struct {
	Prefix string
	TTL    time.Duration
}

// Built-in purposes.
var (
	EmailVerification = Purpose{Prefix: "verifyemail", TTL: 24 * time.Hour}
	PasswordReset     = Purpose{Prefix: "resetpassword", TTL: 15 * time.Minute}
)

const tokenBytes = 32

// TokenStore issues and redeems single-use tokens of one purpose.
type TokenStore struct {
	redis   redis.UniversalClient
	purpose Purpose
}

// NewTokenStore returns a store for purpose.
func NewTokenStore(redisClient redis.UniversalClient, purpose Purpose) *TokenStore {
	return &TokenStore{redis: redisClient, purpose: purpose}
}

// TTL reports the token lifetime.
func (s *TokenStore) TTL() time.Duration { return s.purpose.TTL }

func (s *TokenStore) tokenKey(hash string) string {
	return s.purpose.Prefix + ":" + hash
}

func (s *TokenStore) userKey(userID string) string {
	return s.purpose.Prefix + ":user:" + userID
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Issue creates a token for userID, replacing any token previously issued to the
// same user for this purpose, and returns the raw token.
func (s *TokenStore) Issue(ctx context.Context, userID string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)
	hash := hashToken(raw)
	ptr := s.userKey(userID)

	const maxRetries = 4
	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			prev, err := tx.Get(ctx, ptr).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if prev != "" {
					pipe.Del(ctx, s.tokenKey(prev))
				}
				pipe.Set(ctx, s.tokenKey(hash), userID, s.purpose.TTL)
				pipe.Set(ctx, ptr, hash, s.purpose.TTL)
				return nil
			})
			return err
		}, ptr)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return raw, nil
	}
	return "", fmt.Errorf("%w: contention on %s", ErrRedisUnavailable, ptr)
}

// Peek resolves raw to its user without consuming it.
func (s *TokenStore) Peek(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", ErrTokenNotFound
	}
	userID, err := s.redis.Get(ctx, s.tokenKey(hashToken(raw))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return userID, nil
}

// Consume atomically redeems raw and returns its user.
func (s *TokenStore) Consume(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", ErrTokenNotFound
	}
	hash := hashToken(raw)
	userID, err := s.redis.GetDel(ctx, s.tokenKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// The pointer only matters while it names this token; a stale pointer expires on its own.
	ptr := s.userKey(userID)
	if cur, err := s.redis.Get(ctx, ptr).Result(); err == nil && cur == hash {
		_ = s.redis.Del(ctx, ptr).Err()
	}
	return userID, nil
}

// Invalidate removes the live token of userID, if any.
func (s *TokenStore) Invalidate(ctx context.Context, userID string) error {
	ptr := s.userKey(userID)
	prev, err := s.redis.Get(ctx, ptr).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if err := s.redis.Del(ctx, s.tokenKey(prev), ptr).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
