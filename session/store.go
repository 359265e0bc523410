// Package session persists the client's bearer tokens and pending signup data.
//
// Stores are dumb string maps: they never interpret or expire what they hold.
package session

import (
	"sync"
)

// Key names one persisted value. The strings are stable: changing them logs every client out.
type Key string

const (
	KeyAccessToken   Key = "scholarhub.access_token"
	KeyRefreshToken  Key = "scholarhub.refresh_token"
	KeyPendingSignup Key = "scholarhub.pending_signup"
)

// Keys lists every key a Store may hold.
var Keys = []Key{KeyAccessToken, KeyRefreshToken, KeyPendingSignup}

// Store is durable key/value persistence for a single client instance.
type Store interface {
	// Get returns the value and whether it was present.
	Get(key Key) (string, bool)
	Set(key Key, value string) error
	// SetAll writes several keys so that readers see either none or all of them.
	SetAll(values map[Key]string) error
	Clear(key Key) error
	// ClearAll removes every key in one step.
	ClearAll() error
}

// MemoryStore keeps values for the life of the process.
type MemoryStore struct {
	values map[Key]string
	mu     sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[Key]string)}
}

func (m *MemoryStore) Get(key Key) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key Key, value string) error {
	return m.SetAll(map[Key]string{key: value})
}

func (m *MemoryStore) SetAll(values map[Key]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *MemoryStore) Clear(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[Key]string)
	return nil
}
