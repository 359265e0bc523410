package authclient

import (
	"encoding/json"
	"fmt"

	"github.com/jrsteele09/scholarhub-auth/session"
)

// SavePendingSignup keeps an unfinished signup form between runs. The password is never stored.
func (s *Service) SavePendingSignup(req SignupRequest) error {
	req.Password = ""
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode pending signup: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Set(session.KeyPendingSignup, string(b))
}

// PendingSignup returns the saved form, or false when there is none or it cannot be read.
func (s *Service) PendingSignup() (SignupRequest, bool) {
	s.mu.RLock()
	raw, ok := s.store.Get(session.KeyPendingSignup)
	s.mu.RUnlock()
	if !ok || raw == "" {
		return SignupRequest{}, false
	}
	var req SignupRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return SignupRequest{}, false
	}
	return req, true
}

func (s *Service) ClearPendingSignup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Clear(session.KeyPendingSignup)
}
