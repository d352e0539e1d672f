package lolo

import (
	"fmt"
	"sync"
	"time"
)

// Quota windows are in-memory only; limits reset on restart. Staff
// (owner/admin) bypass every window.

// SharedWindow is a sliding-window counter shared across all non-staff
// users. Used for the global image and video generation quotas.
type SharedWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewSharedWindow creates a window allowing limit events per window.
func NewSharedWindow(limit int, window time.Duration) *SharedWindow {
	return &SharedWindow{limit: limit, window: window, now: time.Now}
}

// Allow reports whether another event fits in the window. It does not
// record anything: tools check before running and record only after a
// successful generation, so failures never consume quota.
func (w *SharedWindow) Allow(level PermissionLevel) bool {
	if level.IsStaff() {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.stamps) < w.limit
}

// Record adds one event to the window. Staff events are not recorded.
func (w *SharedWindow) Record(level PermissionLevel) {
	if level.IsStaff() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.prune(now)
	w.stamps = append(w.stamps, now)
}

// Count returns the current number of events in the window.
func (w *SharedWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.stamps)
}

func (w *SharedWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	w.stamps = w.stamps[i:]
}

// UserWindow is a per-user sliding-window counter. Used for the deep-mode
// quota: 3 requests per user per rolling 24 hours, staff exempt, recorded
// only after a successful completion.
type UserWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps map[string][]time.Time
	now    func() time.Time
}

// NewUserWindow creates a per-user window allowing limit events per window.
func NewUserWindow(limit int, window time.Duration) *UserWindow {
	return &UserWindow{
		limit:  limit,
		window: window,
		stamps: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether nick has quota left. When denied, msg describes
// the wait until the oldest event falls out of the window.
func (w *UserWindow) Allow(nick string, level PermissionLevel) (ok bool, msg string) {
	if level.IsStaff() {
		return true, ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	stamps := w.pruneLocked(nick, now)
	if len(stamps) < w.limit {
		return true, ""
	}
	wait := stamps[0].Add(w.window).Sub(now).Round(time.Minute)
	if wait < time.Minute {
		wait = time.Minute
	}
	return false, fmt.Sprintf("Deep mode limit reached (%d per %s). Try again in %s.",
		w.limit, w.window, wait)
}

// Record adds one event for nick. Staff events are not recorded.
func (w *UserWindow) Record(nick string, level PermissionLevel) {
	if level.IsStaff() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.stamps[nick] = append(w.pruneLocked(nick, now), now)
}

func (w *UserWindow) pruneLocked(nick string, now time.Time) []time.Time {
	stamps := w.stamps[nick]
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	stamps = stamps[i:]
	if len(stamps) == 0 {
		delete(w.stamps, nick)
	} else {
		w.stamps[nick] = stamps
	}
	return stamps
}
