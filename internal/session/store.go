package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Tokens is an access/refresh credential pair. The zero value means
// logged out.
type Tokens struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
}

// RefreshFunc exchanges a refresh token for a new token pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (Tokens, error)

// Store owns the session credential pair for the process: initialized
// at startup, mutated by login/refresh/logout, read by every
// transport call. Refreshes are deduplicated, so concurrent callers
// hitting a 401 share a single in-flight refresh and its result.
type Store struct {
	mu       sync.RWMutex
	tokens   Tokens
	refresh  RefreshFunc
	group    singleflight.Group
	onChange []func(Tokens)
	logger   *zap.Logger
}

// NewStore builds a Store around a refresh operation.
func NewStore(refresh RefreshFunc, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{refresh: refresh, logger: logger}
}

// AccessToken returns the current access credential, possibly empty.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Access
}

// SetTokens installs a credential pair and notifies observers.
func (s *Store) SetTokens(tokens Tokens) {
	s.mu.Lock()
	s.tokens = tokens
	observers := append([](func(Tokens))(nil), s.onChange...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(tokens)
	}
}

// Clear drops the credentials (logout) and notifies observers.
func (s *Store) Clear() {
	s.SetTokens(Tokens{})
}

// OnChange registers an observer called whenever the credential pair
// changes, including on Clear.
func (s *Store) OnChange(fn func(Tokens)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Refresh obtains a fresh access token. Concurrent calls collapse
// into one refresh request; every caller gets its result.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		s.mu.RLock()
		refreshToken := s.tokens.Refresh
		s.mu.RUnlock()
		if refreshToken == "" {
			return nil, errors.New("no refresh token")
		}
		tokens, err := s.refresh(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		if tokens.Refresh == "" {
			tokens.Refresh = refreshToken
		}
		s.SetTokens(tokens)
		s.logger.Debug("session credentials refreshed")
		return tokens.Access, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
