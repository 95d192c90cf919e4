package xmodem

import (
	"sync"
	"time"
)

// rateWeight is the share of the newest sample in the smoothed rate.
const rateWeight = 0.3

// ProgressTracker throttles OnProgress calls for one transfer and keeps a
// smoothed byte rate across them.
type ProgressTracker struct {
	mu sync.Mutex

	notify   func(int64, int64, float64)
	interval time.Duration

	total   int64
	done    int64
	began   time.Time
	mark    time.Time
	markPos int64
	rate    float64
}

// Stats is a point-in-time view of a transfer.
type Stats struct {
	Transferred int64
	Total       int64
	Rate        float64
	Elapsed     time.Duration
}

// NewProgressTracker reports through notify at most once per interval.
func NewProgressTracker(notify func(int64, int64, float64), interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ProgressTracker{notify: notify, interval: interval}
}

// Start resets the tracker for a transfer of total bytes.
func (pt *ProgressTracker) Start(total int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := time.Now()
	pt.total, pt.done, pt.rate = total, 0, 0
	pt.began, pt.mark, pt.markPos = now, now, 0
}

// Update records done bytes and reports if the interval has elapsed.
func (pt *ProgressTracker) Update(done int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.done = done
	now := time.Now()
	span := now.Sub(pt.mark)
	if span < pt.interval {
		return
	}

	sample := float64(done-pt.markPos) / span.Seconds()
	if pt.rate == 0 {
		pt.rate = sample
	} else {
		pt.rate = rateWeight*sample + (1-rateWeight)*pt.rate
	}
	pt.mark, pt.markPos = now, done

	if pt.notify != nil {
		pt.notify(done, pt.total, pt.rate)
	}
}

// Complete sends a final report and returns the transfer duration.
func (pt *ProgressTracker) Complete() time.Duration {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.notify != nil {
		pt.notify(pt.done, pt.total, 0)
	}
	return time.Since(pt.began)
}

// Stats returns the current totals with the average rate since Start.
func (pt *ProgressTracker) Stats() Stats {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	st := Stats{Transferred: pt.done, Total: pt.total, Elapsed: time.Since(pt.began)}
	if secs := st.Elapsed.Seconds(); secs > 0 {
		st.Rate = float64(pt.done) / secs
	}
	return st
}
