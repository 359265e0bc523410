package refresh

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	apperrors "github.com/jrsteele09/scholarhub-auth/internal/errors"
	"github.com/pkg/errors"
)

// Manager handles refresh token creation, validation and rotation.
// Each user holds a single live refresh token; issuing a new one retires the old.
type Manager struct {
	repo        Repo
	expiry      time.Duration
	tokenLength int
	nowFunc     func() time.Time
}

type ManagerOption func(*Manager)

func WithExpiry(expiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.expiry = expiry
	}
}

// WithTokenLength sets the number of random bytes behind each token.
func WithTokenLength(length int) ManagerOption {
	return func(m *Manager) {
		m.tokenLength = length
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func NewManager(repo Repo, options ...ManagerOption) *Manager {
	m := &Manager{
		repo:        repo,
		expiry:      7 * 24 * time.Hour,
		tokenLength: 32, // 32 bytes = 256 bits
		nowFunc:     time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Create generates a new refresh token for the user and stores it
func (m *Manager) Create(userID string) (*StoredRefreshToken, error) {
	if err := m.DeleteForUser(userID); err != nil {
		return nil, errors.Wrap(err, "[Manager.Create] DeleteForUser")
	}

	tokenBytes := make([]byte, m.tokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, errors.Wrap(err, "[Manager.Create] failed to generate random bytes")
	}

	now := m.nowFunc()
	rt := &StoredRefreshToken{
		Token:     hex.EncodeToString(tokenBytes),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.expiry),
	}
	if err := m.repo.Upsert(rt); err != nil {
		return nil, errors.Wrap(err, "[Manager.Create] failed to store refresh token")
	}
	return rt, nil
}

// Rotate validates a presented refresh token, retires it and issues a replacement for the same user.
func (m *Manager) Rotate(token string) (*StoredRefreshToken, error) {
	existing, err := m.Validate(token)
	if err != nil {
		return nil, err
	}
	if err := m.repo.Delete(existing.Token); err != nil {
		return nil, errors.Wrap(err, "[Manager.Rotate] Delete")
	}
	return m.Create(existing.UserID)
}

// Validate returns the stored token if it exists and has not expired. Expired tokens are removed.
func (m *Manager) Validate(token string) (*StoredRefreshToken, error) {
	if token == "" {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	rt, err := m.repo.Get(token)
	if err != nil {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if m.IsExpired(rt) {
		_ = m.repo.Delete(rt.Token)
		return nil, apperrors.ErrRefreshTokenExpired
	}
	return rt, nil
}

// Get retrieves a refresh token from storage
func (m *Manager) Get(token string) (*StoredRefreshToken, error) {
	return m.repo.Get(token)
}

// Delete removes a refresh token from storage. Unknown tokens are not an error.
func (m *Manager) Delete(token string) error {
	if err := m.repo.Delete(token); err != nil && !errors.Is(err, apperrors.ErrInvalidRefreshToken) {
		return err
	}
	return nil
}

// DeleteForUser removes whatever refresh token the user currently holds.
func (m *Manager) DeleteForUser(userID string) error {
	existing, err := m.repo.GetByUserID(userID)
	if err != nil || existing == nil {
		return nil
	}
	return m.Delete(existing.Token)
}

func (m *Manager) IsExpired(rt *StoredRefreshToken) bool {
	return !m.nowFunc().Before(rt.ExpiresAt)
}
