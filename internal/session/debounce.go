package session

import (
	"sync"
	"time"
)

// debouncer owns the pending save timers, one per key. Arming a key that
// already has a timer replaces it, which is what resets the debounce window
// on every new edit.
type debouncer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newDebouncer() *debouncer {
	return &debouncer{timers: make(map[string]*time.Timer)}
}

// arm schedules fn to run after delay, replacing any pending timer for the
// same key. fn runs on the timer goroutine. A timer that was replaced after
// it fired but before its callback ran does not invoke fn.
func (d *debouncer) arm(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tm, ok := d.timers[key]; ok {
		tm.Stop()
	}
	var tm *time.Timer
	tm = time.AfterFunc(delay, func() {
		d.mu.Lock()
		owner := d.timers[key] == tm
		if owner {
			delete(d.timers, key)
		}
		d.mu.Unlock()
		if owner {
			fn()
		}
	})
	d.timers[key] = tm
}

// cancel drops the pending timer for key, if any.
func (d *debouncer) cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tm, ok := d.timers[key]; ok {
		tm.Stop()
		delete(d.timers, key)
	}
}

// pending reports whether a timer is armed for key.
func (d *debouncer) pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

func (d *debouncer) cancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, tm := range d.timers {
		tm.Stop()
		delete(d.timers, key)
	}
}
