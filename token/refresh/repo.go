package refresh

import (
	"time"
)

// StoredRefreshToken is the server side record behind an opaque refresh token.
// The client only ever sees Token.
type StoredRefreshToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Repo stores refresh tokens keyed by the token string, with at most one token per user.
// Get and GetByUserID return apperrors.ErrInvalidRefreshToken when nothing matches.
type Repo interface {
	Upsert(refreshToken *StoredRefreshToken) error
	Delete(token string) error
	Get(token string) (*StoredRefreshToken, error)
	GetByUserID(userID string) (*StoredRefreshToken, error)
}
