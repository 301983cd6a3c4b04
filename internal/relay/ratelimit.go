package relay

import (
	"sync"
	"time"
)

// RateLimiter is a per-user cooldown gate. State is process-local: a restart
// resets every cooldown.
type RateLimiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
}

// NewRateLimiter creates a limiter. A non-positive cooldown admits everything.
func NewRateLimiter(cooldown time.Duration) *RateLimiter {
	return &RateLimiter{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
	}
}

func (rl *RateLimiter) Cooldown() time.Duration { return rl.cooldown }

// Allow reports whether userID is past its cooldown at now.
func (rl *RateLimiter) Allow(userID string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.allowLocked(userID, now)
}

// Record marks now as the user's last admitted activity.
func (rl *RateLimiter) Record(userID string, now time.Time) {
	rl.mu.Lock()
	rl.last[userID] = now
	rl.mu.Unlock()
}

// Admit is Allow and Record as one critical section: of two concurrent calls
// for the same user inside the cooldown, exactly one returns true.
func (rl *RateLimiter) Admit(userID string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.allowLocked(userID, now) {
		return false
	}
	rl.last[userID] = now
	return true
}

func (rl *RateLimiter) allowLocked(userID string, now time.Time) bool {
	if rl.cooldown <= 0 {
		return true
	}
	last, ok := rl.last[userID]
	if !ok {
		return true
	}
	return now.Sub(last) >= rl.cooldown
}

// LastActivity returns the last admitted time for userID.
func (rl *RateLimiter) LastActivity(userID string) (time.Time, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	t, ok := rl.last[userID]
	return t, ok
}

// Prune drops users whose last activity is before cutoff and returns how many
// were removed.
func (rl *RateLimiter) Prune(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for id, t := range rl.last {
		if t.Before(cutoff) {
			delete(rl.last, id)
			n++
		}
	}
	return n
}

func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.last)
}
