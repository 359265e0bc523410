package auth

import "time"

// ResetToken is a pending password reset. Only the hash of the emailed token is stored.
type ResetToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
}

// ResetTokenRepo stores password reset tokens keyed by their hash, one per user.
type ResetTokenRepo interface {
	Upsert(resetToken *ResetToken) error
	Get(tokenHash string) (*ResetToken, error)
	Delete(tokenHash string) error
	DeleteForUser(userID string) error
}
