package stores

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTokenStoreTest(t *testing.T, purpose Purpose) (*TokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewTokenStore(rdb, purpose), mr
}

func TestIssueStoresOnlyHash(t *testing.T) {
	s, mr := newTokenStoreTest(t, EmailVerification)
	raw, err := s.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	key := "verifyemail:" + hashToken(raw)
	if got, err := mr.Get(key); err != nil || got != "u1" {
		t.Fatalf("expected %s -> u1, got %q err=%v", key, got, err)
	}
	if mr.TTL(key) != 24*time.Hour {
		t.Fatalf("unexpected ttl %v", mr.TTL(key))
	}
	for _, k := range mr.Keys() {
		if strings.Contains(k, raw) {
			t.Fatal("raw token must not appear in any key")
		}
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	s, mr := newTokenStoreTest(t, PasswordReset)
	ctx := context.Background()
	raw, _ := s.Issue(ctx, "u1")

	userID, err := s.Peek(ctx, raw)
	if err != nil || userID != "u1" {
		t.Fatalf("peek: %q %v", userID, err)
	}
	userID, err = s.Consume(ctx, raw)
	if err != nil || userID != "u1" {
		t.Fatalf("consume: %q %v", userID, err)
	}
	if _, err := s.Consume(ctx, raw); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected second consume to fail, got %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no keys left, got %v", mr.Keys())
	}
}

func TestReissueInvalidatesPrevious(t *testing.T) {
	s, _ := newTokenStoreTest(t, EmailVerification)
	ctx := context.Background()
	first, _ := s.Issue(ctx, "u1")
	second, _ := s.Issue(ctx, "u1")

	if _, err := s.Peek(ctx, first); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected first token invalidated, got %v", err)
	}
	if userID, err := s.Peek(ctx, second); err != nil || userID != "u1" {
		t.Fatalf("expected second token live: %q %v", userID, err)
	}
}

func TestTokenExpires(t *testing.T) {
	s, mr := newTokenStoreTest(t, PasswordReset)
	ctx := context.Background()
	raw, _ := s.Issue(ctx, "u1")
	mr.FastForward(16 * time.Minute)

	if _, err := s.Consume(ctx, raw); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	s, _ := newTokenStoreTest(t, PasswordReset)
	ctx := context.Background()
	raw, _ := s.Issue(ctx, "u1")

	if err := s.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := s.Peek(ctx, raw); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected token removed, got %v", err)
	}
	if err := s.Invalidate(ctx, "nobody"); err != nil {
		t.Fatalf("invalidate without token: %v", err)
	}
}

func TestEmptyTokenRejected(t *testing.T) {
	s, _ := newTokenStoreTest(t, PasswordReset)
	if _, err := s.Consume(context.Background(), ""); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestUnavailableIsWrapped(t *testing.T) {
	s, mr := newTokenStoreTest(t, PasswordReset)
	mr.Close()
	if _, err := s.Peek(context.Background(), "x"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
