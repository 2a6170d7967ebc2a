package otp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	hash      string
	expiresAt time.Time
}

// MemoryVerifier is the process-local verifier used without Redis.
type MemoryVerifier struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryVerifier constructs an in-memory verifier.
func NewMemoryVerifier(ttl time.Duration) *MemoryVerifier {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryVerifier{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (v *MemoryVerifier) Issue(_ context.Context, subject string) (Challenge, error) {
	code, err := randomCode()
	if err != nil {
		return Challenge{}, err
	}
	hash, err := hashCode(code)
	if err != nil {
		return Challenge{}, err
	}
	ch := Challenge{
		ID:        uuid.New().String(),
		Subject:   subject,
		Code:      code,
		ExpiresAt: v.now().Add(v.ttl).UTC(),
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	for id, e := range v.entries {
		if now.After(e.expiresAt) {
			delete(v.entries, id)
		}
	}
	v.entries[ch.ID] = memoryEntry{hash: hash, expiresAt: ch.ExpiresAt}
	return ch, nil
}

func (v *MemoryVerifier) Verify(_ context.Context, challengeID, code string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[challengeID]
	if !ok {
		return false, nil
	}
	if v.now().After(e.expiresAt) {
		delete(v.entries, challengeID)
		return false, nil
	}
	if !matches(e.hash, code) {
		return false, nil
	}
	delete(v.entries, challengeID)
	return true, nil
}
