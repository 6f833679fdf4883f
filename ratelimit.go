package realtime

import (
	"sync"
	"time"
)

type rateSample struct {
	at    time.Time
	bytes int
}

// RateLimiter is a sliding-window admission control over request count and
// byte volume. Prune, check and record happen under one mutex hold, so
// concurrent senders cannot interleave the critical section.
type RateLimiter struct {
	now      func() time.Time
	window   time.Duration
	maxReqs  int
	maxBytes int

	mu      sync.Mutex
	samples []rateSample
	bytes   int
}

func NewRateLimiter(window time.Duration, maxRequests, maxBytes int) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		now:      time.Now,
		window:   window,
		maxReqs:  maxRequests,
		maxBytes: maxBytes,
	}
}

// Allow reports whether one more request carrying extraBytes would stay within
// the window budget. Expired samples are pruned first. Nothing is recorded.
func (r *RateLimiter) Allow(extraBytes int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	return r.fits(extraBytes)
}

// Record appends a sample for a request that was actually sent.
func (r *RateLimiter) Record(extraBytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	r.append(extraBytes)
}

// Admit is prune+check+record as one exclusive operation. It records only on
// success; a refused request leaves the window untouched.
func (r *RateLimiter) Admit(extraBytes int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	if !r.fits(extraBytes) {
		return false
	}
	r.append(extraBytes)
	return true
}

// Pending returns the current request count and byte volume in the window.
func (r *RateLimiter) Pending() (requests, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	return len(r.samples), r.bytes
}

func (r *RateLimiter) fits(extraBytes int) bool {
	if r.maxReqs > 0 && len(r.samples) >= r.maxReqs {
		return false
	}
	if r.maxBytes > 0 && r.bytes+extraBytes > r.maxBytes {
		return false
	}
	return true
}

func (r *RateLimiter) append(extraBytes int) {
	r.samples = append(r.samples, rateSample{at: r.now(), bytes: extraBytes})
	r.bytes += extraBytes
}

func (r *RateLimiter) prune() {
	cutoff := r.now().Add(-r.window)
	i := 0
	for ; i < len(r.samples); i++ {
		if r.samples[i].at.After(cutoff) {
			break
		}
		r.bytes -= r.samples[i].bytes
	}
	if i > 0 {
		r.samples = append(r.samples[:0], r.samples[i:]...)
	}
}
