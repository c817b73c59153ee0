package ledger

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Memory is a process-local Ledger.
type Memory struct {
	claims *xsync.MapOf[string, time.Time]
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		claims: xsync.NewMapOf[string, time.Time](),
		now:    time.Now,
	}
}

func (m *Memory) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.now()
	claimed := false
	m.claims.Compute(key, func(expiresAt time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Before(expiresAt) {
			return expiresAt, false
		}
		claimed = true
		return now.Add(ttl), false
	})
	return claimed, nil
}

func (m *Memory) IsClaimed(_ context.Context, key string) (bool, error) {
	expiresAt, ok := m.claims.Load(key)
	return ok && m.now().Before(expiresAt), nil
}

// Purge drops expired claims.
func (m *Memory) Purge() {
	now := m.now()
	m.claims.Range(func(key string, expiresAt time.Time) bool {
		if !now.Before(expiresAt) {
			m.claims.Compute(key, func(cur time.Time, loaded bool) (time.Time, bool) {
				return cur, loaded && !now.Before(cur)
			})
		}
		return true
	})
}
