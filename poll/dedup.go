package poll

import (
	"chaptersniffer/pkg/notifier"
	"sync"
	"time"
)

// DefaultCooldown is the maximum age of a release worth notifying about.
const DefaultCooldown = 10 * time.Minute

// Tracker remembers which releases were already emitted. The set only grows;
// it resets when the process restarts.
type Tracker struct {
	seen     map[string]struct{}
	cooldown time.Duration
	mu       sync.Mutex
}

// NewTracker creates a tracker. A non-positive cooldown selects DefaultCooldown.
func NewTracker(cooldown time.Duration) *Tracker {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Tracker{
		seen:     make(map[string]struct{}),
		cooldown: cooldown,
	}
}

// Cooldown returns the configured window.
func (t *Tracker) Cooldown() time.Duration {
	return t.cooldown
}

// Candidate reports whether r would be accepted by IsNew, without recording it.
func (t *Tracker) Candidate(r notifier.Release, now time.Time) bool {
	if now.Sub(r.UploadedAt) > t.cooldown {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, dup := t.seen[r.Key()]
	return !dup
}

// IsNew accepts r if it was uploaded within the cooldown window and its key
// has not been accepted before. Accepted keys are recorded immediately, so a
// release is emitted at most once whether or not its delivery succeeds.
// Releases outside the window are not recorded.
func (t *Tracker) IsNew(r notifier.Release, now time.Time) bool {
	if now.Sub(r.UploadedAt) > t.cooldown {
		return false
	}
	key := r.Key()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.seen[key]; dup {
		return false
	}
	t.seen[key] = struct{}{}
	return true
}

// Seen reports whether key was accepted before.
func (t *Tracker) Seen(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[key]
	return ok
}

// Len returns the number of recorded keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
