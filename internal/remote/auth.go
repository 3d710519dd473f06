package remote

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"
)

// CredentialValidator checks a username/password pair when a client
// asks for a token. Deployments plug in their own directory here.
type CredentialValidator func(username, password string) bool

// StaticPasswordValidator accepts any username presenting the given
// password. Used for single-secret deployments and tests.
func StaticPasswordValidator(password string) CredentialValidator {
	return func(_, presented string) bool {
		if password == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(password), []byte(presented)) == 1
	}
}

type tokenEntry struct {
	username  string
	expiresAt time.Time
}

// TokenStore issues and checks bearer tokens. Tokens live in memory;
// a server restart invalidates them and clients re-authenticate.
type TokenStore struct {
	mu       sync.Mutex
	tokens   map[string]tokenEntry
	lifetime time.Duration
	now      func() time.Time
}

// NewTokenStore builds a token store with the given token lifetime.
func NewTokenStore(lifetime time.Duration) *TokenStore {
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	return &TokenStore{
		tokens:   make(map[string]tokenEntry),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Issue creates a token for username.
func (ts *TokenStore) Issue(username string) (string, time.Time) {
	buf := make([]byte, 24)
	rand.Read(buf)
	token := hex.EncodeToString(buf)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	expires := ts.now().Add(ts.lifetime)
	ts.tokens[token] = tokenEntry{username: username, expiresAt: expires}
	return token, expires
}

// Check returns the username behind a live token.
func (ts *TokenStore) Check(token string) (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	entry, ok := ts.tokens[token]
	if !ok {
		return "", false
	}
	if ts.now().After(entry.expiresAt) {
		delete(ts.tokens, token)
		return "", false
	}
	return entry.username, true
}
