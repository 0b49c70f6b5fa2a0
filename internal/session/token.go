package session

import (
	"os"
	"strings"
)

// TokenStore reads and writes the session token file. An absent file means
// the user is logged out; that is not an error.
type TokenStore struct {
	path string
}

// NewTokenStore creates a token store for the given session.
func NewTokenStore(sessionName string) *TokenStore {
	return &TokenStore{path: TokenPath(sessionName)}
}

// Token returns the stored token, empty when logged out.
func (s *TokenStore) Token() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the token with owner-only permissions.
func (s *TokenStore) Save(token string) error {
	return os.WriteFile(s.path, []byte(token+"\n"), 0600)
}

// Clear removes the stored token. Missing file is fine.
func (s *TokenStore) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
