package fakeresetrepo

import (
	"sync"

	"github.com/jrsteele09/scholarhub-auth/auth"
	apperrors "github.com/jrsteele09/scholarhub-auth/internal/errors"
)

var _ auth.ResetTokenRepo = (*FakeResetTokenRepo)(nil)

type FakeResetTokenRepo struct {
	tokens map[string]auth.ResetToken
	lock   sync.RWMutex
}

func NewFakeResetTokenRepo() auth.ResetTokenRepo {
	return &FakeResetTokenRepo{
		tokens: make(map[string]auth.ResetToken),
	}
}

func (rr *FakeResetTokenRepo) Upsert(resetToken *auth.ResetToken) error {
	rr.lock.Lock()
	defer rr.lock.Unlock()
	for hash, rt := range rr.tokens {
		if rt.UserID == resetToken.UserID {
			delete(rr.tokens, hash)
		}
	}
	rr.tokens[resetToken.TokenHash] = *resetToken
	return nil
}

func (rr *FakeResetTokenRepo) Get(tokenHash string) (*auth.ResetToken, error) {
	rr.lock.RLock()
	defer rr.lock.RUnlock()
	rt, ok := rr.tokens[tokenHash]
	if !ok {
		return nil, apperrors.ErrInvalidResetToken
	}
	return &rt, nil
}

func (rr *FakeResetTokenRepo) Delete(tokenHash string) error {
	rr.lock.Lock()
	defer rr.lock.Unlock()
	delete(rr.tokens, tokenHash)
	return nil
}

func (rr *FakeResetTokenRepo) DeleteForUser(userID string) error {
	rr.lock.Lock()
	defer rr.lock.Unlock()
	for hash, rt := range rr.tokens {
		if rt.UserID == userID {
			delete(rr.tokens, hash)
		}
	}
	return nil
}
