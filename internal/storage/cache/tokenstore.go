// Package cache decorates a token store with a read-aside Redis cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-streetart-push/pkg/dispatch"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

// ErrCacheMiss is returned by CacheClient.Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the keys.
	Del(ctx context.Context, keys ...string) error
}

// ownerEntry indexes a token to the cached list it appears in.
type ownerEntry struct {
	UserID   string `json:"user_id"`
	Platform string `json:"platform"`
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any TokenStore.
//
// Lists are cached per user and platform. Because deactivation is keyed by token
// alone, every cached token is also indexed to its owner so the right list can be
// invalidated.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedTokenStore creates the decorator.
func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedTokenStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) ListActiveTokens(ctx context.Context, user urn.URN, platform string) ([]push.DeviceToken, error) {
	key := listKey(user.String(), platform)

	var cached []push.DeviceToken
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Cache read failed; falling back to store", "key", key, "err", err)
	}

	fresh, err := s.realStore.ListActiveTokens(ctx, user, platform)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down, we just serve from DB.
	for _, t := range fresh {
		_ = s.cache.Set(ctx, ownerKey(t.Token), ownerEntry{UserID: user.String(), Platform: platform}, s.ttl)
	}
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) RegisterToken(ctx context.Context, token push.DeviceToken) error {
	previous, hadPrevious := s.owner(ctx, token.Token)

	if err := s.realStore.RegisterToken(ctx, token); err != nil {
		return err
	}

	keys := []string{listKey(token.UserID, token.Platform)}
	if hadPrevious {
		keys = append(keys, listKey(previous.UserID, previous.Platform))
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate token cache: %w", err)
	}
	_ = s.cache.Set(ctx, ownerKey(token.Token), ownerEntry{UserID: token.UserID, Platform: token.Platform}, s.ttl)
	return nil
}

// Deactivate must clear the owner's cached list so the token is not selected again.
func (s *CachedTokenStore) Deactivate(ctx context.Context, token string) error {
	if err := s.realStore.Deactivate(ctx, token); err != nil {
		return err
	}

	entry, ok := s.owner(ctx, token)
	if !ok {
		return nil
	}
	// The store already holds the truth; a stale list expires with its TTL.
	if err := s.cache.Del(ctx, listKey(entry.UserID, entry.Platform), ownerKey(token)); err != nil {
		s.logger.Warn("Failed to invalidate token cache after deactivation", "user", entry.UserID, "platform", entry.Platform, "err", err)
	}
	return nil
}

// --- Helpers ---

func (s *CachedTokenStore) owner(ctx context.Context, token string) (ownerEntry, bool) {
	var entry ownerEntry
	if err := s.cache.Get(ctx, ownerKey(token), &entry); err != nil {
		return ownerEntry{}, false
	}
	return entry, true
}

func listKey(user, platform string) string {
	return fmt.Sprintf("notify:tokens:%s:%s", user, platform)
}

func ownerKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "notify:owner:" + hex.EncodeToString(sum[:])
}
