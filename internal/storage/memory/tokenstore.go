// Package memory provides an in-process token store for local runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

// TokenStore keeps device tokens in registration order.
type TokenStore struct {
	mu     sync.RWMutex
	order  []string
	tokens map[string]push.DeviceToken
	now    func() time.Time
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]push.DeviceToken),
		now:    time.Now,
	}
}

// RegisterToken upserts the token and marks it active. A token registered by a
// different user moves to that user.
func (s *TokenStore) RegisterToken(_ context.Context, token push.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.Token]; !exists {
		s.order = append(s.order, token.Token)
	}
	token.Active = true
	token.UpdatedAt = s.now()
	s.tokens[token.Token] = token
	return nil
}

// Put stores a token as given, including its active flag.
func (s *TokenStore) Put(token push.DeviceToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.Token]; !exists {
		s.order = append(s.order, token.Token)
	}
	s.tokens[token.Token] = token
}

func (s *TokenStore) ListActiveTokens(_ context.Context, user urn.URN, platform string) ([]push.DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner := user.String()
	out := make([]push.DeviceToken, 0)
	for _, key := range s.order {
		t := s.tokens[key]
		if t.UserID == owner && t.Platform == platform && t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *TokenStore) Deactivate(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok || !t.Active {
		return nil
	}
	t.Active = false
	t.UpdatedAt = s.now()
	s.tokens[token] = t
	return nil
}

// Get returns a copy of the stored token.
func (s *TokenStore) Get(token string) (push.DeviceToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	return t, ok
}
