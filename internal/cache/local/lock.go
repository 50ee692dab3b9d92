package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// LockManager is a process-local domain.LockManager. Locks expire after
// their TTL even if never released.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	now   func() time.Time
	token uint64
}

type lease struct {
	token   uint64
	expires time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), now: time.Now}
}

// Acquire takes key for ttl. It returns domain.ErrLockHeld while another
// unexpired lease exists.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if cur, ok := lm.held[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}

	lm.token++
	l := lease{token: lm.token, expires: now.Add(ttl)}
	lm.held[key] = l

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if cur, ok := lm.held[key]; ok && cur.token == l.token {
				delete(lm.held, key)
			}
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
