// Package dedup suppresses redelivered messages. QoS 1 subscriptions may see
// the same publish more than once after a reconnect.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Window remembers message keys for a fixed time.
type Window struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
	now  func() time.Time
}

func New(ttl time.Duration, max int) *Window {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Window{ttl: ttl, max: max, seen: make(map[string]time.Time), now: time.Now}
}

// Key identifies a message by topic and payload content.
func Key(topic string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// First reports whether key has not been seen within the window, and marks it.
// The empty key is never suppressed.
func (w *Window) First(key string) bool {
	if key == "" {
		return true
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if exp, ok := w.seen[key]; ok && now.Before(exp) {
		return false
	}
	w.seen[key] = now.Add(w.ttl)
	if len(w.seen) > w.max {
		w.evictLocked(now)
	}
	return true
}

// Forget drops key, e.g. after the message failed to process.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	delete(w.seen, key)
	w.mu.Unlock()
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// evictLocked drops expired keys, then the oldest ones until under max.
func (w *Window) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, exp := range w.seen {
		if !now.Before(exp) {
			delete(w.seen, k)
			continue
		}
		if oldestKey == "" || exp.Before(oldest) {
			oldestKey, oldest = k, exp
		}
	}
	if len(w.seen) > w.max && oldestKey != "" {
		delete(w.seen, oldestKey)
	}
}
