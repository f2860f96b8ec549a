package signal

import (
	"sync"
	"time"

	"github.com/dkeye/VoiceHub/internal/domain"
)

// SendLimiter is a sliding-window limit of actions per user.
type SendLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewSendLimiter(limit int, interval time.Duration) *SendLimiter {
	return &SendLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt and reports whether it fits the window.
// A non-positive limit disables limiting.
func (rl *SendLimiter) Allow(uid domain.UserID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}
	rl.history[uid] = append(fresh, now)
	return true
}

func (rl *SendLimiter) Forget(uid domain.UserID) {
	rl.mu.Lock()
	delete(rl.history, uid)
	rl.mu.Unlock()
}
