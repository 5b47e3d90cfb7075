package garmin

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenStore holds the current OAuth2 bearer token in memory. Nothing is
// persisted: a new process starts unauthenticated.
//
// TokenStore is not safe for concurrent use. A Session is a single logical
// login; callers that share one across goroutines must serialize access.
type TokenStore struct {
	tok *oauth2.Token
	now func() time.Time
}

// NewTokenStore creates an empty store. now defaults to time.Now.
func NewTokenStore(now func() time.Time) *TokenStore {
	if now == nil {
		now = time.Now
	}

	return &TokenStore{now: now}
}

// Set replaces the stored token. The store keeps its own copy, so later
// changes to tok are not observed. A nil token clears the store.
func (s *TokenStore) Set(tok *oauth2.Token) {
	if tok == nil {
		s.tok = nil
		return
	}

	cp := *tok
	s.tok = &cp
}

// Clear drops the stored token.
func (s *TokenStore) Clear() {
	s.tok = nil
}

// Valid reports whether a token with a non-empty access token is stored and
// the current time is strictly before its expiry.
func (s *TokenStore) Valid() bool {
	if s.tok == nil || s.tok.AccessToken == "" {
		return false
	}

	return s.now().Before(s.tok.Expiry)
}

// Current returns a copy of the stored token, expired or not.
// Returns ErrNoToken if the store is empty.
func (s *TokenStore) Current() (*oauth2.Token, error) {
	if s.tok == nil {
		return nil, ErrNoToken
	}

	cp := *s.tok

	return &cp, nil
}
