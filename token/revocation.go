package token

import (
	"sync"
	"time"
)

// RevocationList holds the jti of every access token ended by a logout. An entry only matters until
// the token's own exp, after which Verify rejects the token anyway.
type RevocationList interface {
	Revoke(jti string, until time.Time) error
	IsRevoked(jti string, now time.Time) bool
	Prune(now time.Time) int
}

// MemoryRevocationList keeps revocations in process; a restart forgets them along with the signing state.
type MemoryRevocationList struct {
	mu    sync.Mutex
	until map[string]time.Time
}

var _ RevocationList = (*MemoryRevocationList)(nil)

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{until: map[string]time.Time{}}
}

func (l *MemoryRevocationList) Revoke(jti string, until time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.until[jti]; ok && prev.After(until) {
		return nil
	}
	l.until[jti] = until
	return nil
}

func (l *MemoryRevocationList) IsRevoked(jti string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.until[jti]
	return ok && !now.After(until)
}

// Prune drops entries past their token's expiry and reports how many went.
func (l *MemoryRevocationList) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for jti, until := range l.until {
		if now.After(until) {
			delete(l.until, jti)
			n++
		}
	}
	return n
}
