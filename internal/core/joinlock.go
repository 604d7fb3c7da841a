package core

import (
	"sync"
	"time"
)

// JoinLock gives a single client at most one in-flight join attempt
// and a cooldown after each completed attempt, so double-taps and
// reconnect storms never turn into duplicate joins. It is process-local
// on purpose: races between different clients are resolved by the
// store's atomic append, not here.
type JoinLock struct {
	mu            sync.Mutex
	inFlight      bool
	cooldownUntil time.Time
	cooldown      time.Duration
	now           func() time.Time
}

func NewJoinLock(cooldown time.Duration) *JoinLock {
	return &JoinLock{cooldown: cooldown, now: time.Now}
}

// TryAcquire is non-blocking: false while a join is in flight or the
// cooldown from the previous attempt has not elapsed.
func (l *JoinLock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight {
		return false
	}
	if l.now().Before(l.cooldownUntil) {
		return false
	}
	l.inFlight = true
	return true
}

// Release completes the in-flight attempt, success or failure, and
// starts the cooldown window.
func (l *JoinLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inFlight {
		return
	}
	l.inFlight = false
	l.cooldownUntil = l.now().Add(l.cooldown)
}

// RemainingCooldown is for display only; the gate is TryAcquire.
func (l *JoinLock) RemainingCooldown() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	rem := l.cooldownUntil.Sub(l.now())
	if rem < 0 {
		return 0
	}
	return rem
}

// ForceReset clears a stuck lock and any pending cooldown. Idempotent.
func (l *JoinLock) ForceReset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight = false
	l.cooldownUntil = time.Time{}
}
