package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-1", "usr_123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	user, err := store.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "usr_123" {
		t.Errorf("expected user ID usr_123, got %s", user.ID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "short", "usr_456", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := store.LookupRefreshSession(ctx, "short"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for expired token, got %v", err)
	}
}

func TestSaveAlreadyExpiredSessionIsNoop(t *testing.T) {
	store, s := setupTestRedis(t)
	if err := store.SaveRefreshSession(context.Background(), "past", "usr_1", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if len(s.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", s.Keys())
	}
}

func TestRevokeRefreshSessionIsolatesTokens(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	for _, tc := range []struct{ hash, user string }{{"token-1", "user-1"}, {"token-2", "user-2"}} {
		if err := store.SaveRefreshSession(ctx, tc.hash, tc.user, expiresAt); err != nil {
			t.Fatalf("SaveRefreshSession %s failed: %v", tc.hash, err)
		}
	}
	if err := store.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Fatalf("Revoke token-1 failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "token-1"); err == nil {
		t.Error("expected error for revoked token-1, got nil")
	}
	user2, err := store.LookupRefreshSession(ctx, "token-2")
	if err != nil || user2.ID != "user-2" {
		t.Fatalf("expected token-2 to survive, got %+v err=%v", user2, err)
	}
	if err := store.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Errorf("revoking unknown token should not fail: %v", err)
	}
}

func TestRevokedAccessTokens(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.RevokeAccessToken(ctx, "jti-1", "usr_1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	revoked, err := store.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected jti-1 revoked, got %v err=%v", revoked, err)
	}
	if revoked, _ := store.IsAccessTokenRevoked(ctx, "jti-2"); revoked {
		t.Fatal("expected jti-2 not revoked")
	}

	s.FastForward(2 * time.Minute)
	if revoked, _ := store.IsAccessTokenRevoked(ctx, "jti-1"); revoked {
		t.Fatal("expected revocation marker to expire with the token")
	}
}

func TestCountAttemptWindow(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := store.CountAttempt(ctx, "login:1.2.3.4", time.Minute)
		if err != nil {
			t.Fatalf("CountAttempt failed: %v", err)
		}
		if n != i {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}
	s.FastForward(61 * time.Second)
	n, err := store.CountAttempt(ctx, "login:1.2.3.4", time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected window reset, got %d err=%v", n, err)
	}
}
