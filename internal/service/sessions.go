package service

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnauthorized covers missing or expired session tokens.
var ErrUnauthorized = errors.New("未登录或会话已过期")

// Sessions is the in-memory token table. Tokens are opaque UUIDs handed out
// at login; they die with the process, which is acceptable for a
// single-node deployment.
type Sessions struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> username
}

func NewSessions() *Sessions {
	return &Sessions{tokens: make(map[string]string)}
}

func (s *Sessions) Create(username string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = username
	s.mu.Unlock()
	return token
}

func (s *Sessions) Lookup(token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	username, ok := s.tokens[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return username, nil
}

func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Rekey points every session of a renamed user at the new username.
func (s *Sessions) Rekey(oldUsername, newUsername string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, name := range s.tokens {
		if name == oldUsername {
			s.tokens[token] = newUsername
		}
	}
}
