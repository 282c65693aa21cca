// Package tracker implements the progress/ETA estimator described in
// spec §4.2: a sliding-window moving-average speed estimate with a
// rate-limited callback.
package tracker

import (
	"sync"
	"time"
)

const maxSamples = 10

// Sample is one progress emission.
type Sample struct {
	Downloaded int64
	Total      int64 // 0 if unknown
	SpeedBPS   float64
	ETASeconds float64 // -1 if undefined
	Elapsed    time.Duration
}

// Callback receives emitted samples. It must not block for long: the
// tracker calls it while holding its internal lock, so callers that need
// to do real work should forward to a queue.
type Callback func(Sample)

// Tracker accumulates byte counts from possibly many concurrent
// contributors and emits at most one Sample per UpdateInterval.
type Tracker struct {
	mu             sync.Mutex
	total          int64
	updateInterval time.Duration
	callback       Callback

	downloaded   int64
	startTime    time.Time
	lastEmit     time.Time
	lastEmitDL   int64
	speedSamples []float64
}

// New creates a Tracker for a (possibly unknown, i.e. 0) total size.
func New(total int64, interval time.Duration, cb Callback) *Tracker {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Tracker{
		total:          total,
		updateInterval: interval,
		callback:       cb,
	}
}

// Start records the origin instant. Call once before the first Update.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.startTime = now
	t.lastEmit = now
	t.lastEmitDL = 0
}

// Update reports the new cumulative downloaded byte count. downloaded must
// be monotonically non-decreasing. It may trigger a callback emission if
// at least updateInterval has elapsed since the last one.
func (t *Tracker) Update(downloaded int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if downloaded < t.downloaded {
		downloaded = t.downloaded // enforce monotonicity
	}
	t.downloaded = downloaded

	now := time.Now()
	sinceLastEmit := now.Sub(t.lastEmit)
	if sinceLastEmit < t.updateInterval {
		return
	}
	t.emitLocked(now)
}

// SetTotal updates the known total size (e.g. once discovered after a HEAD
// that followed a segmented-vs-streaming decision).
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
}

func (t *Tracker) emitLocked(now time.Time) {
	elapsedSinceEmit := now.Sub(t.lastEmit).Seconds()
	bytesSinceEmit := t.downloaded - t.lastEmitDL

	if elapsedSinceEmit > 0 {
		instant := float64(bytesSinceEmit) / elapsedSinceEmit
		t.speedSamples = append(t.speedSamples, instant)
		if len(t.speedSamples) > maxSamples {
			t.speedSamples = t.speedSamples[1:]
		}
	}

	var speed float64
	if len(t.speedSamples) > 0 {
		var sum float64
		for _, s := range t.speedSamples {
			sum += s
		}
		speed = sum / float64(len(t.speedSamples))
	}

	eta := -1.0
	if speed > 0 && t.total > 0 {
		remaining := t.total - t.downloaded
		if remaining < 0 {
			remaining = 0
		}
		eta = float64(remaining) / speed
	}

	sample := Sample{
		Downloaded: t.downloaded,
		Total:      t.total,
		SpeedBPS:   speed,
		ETASeconds: eta,
		Elapsed:    now.Sub(t.startTime),
	}

	t.lastEmit = now
	t.lastEmitDL = t.downloaded

	if t.callback != nil {
		t.callback(sample)
	}
}

// Finish returns a final sample computed from the average speed over the
// total elapsed time, regardless of the update-interval throttle.
func (t *Tracker) Finish() Sample {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.startTime)
	var speed float64
	if elapsed.Seconds() > 0 {
		speed = float64(t.downloaded) / elapsed.Seconds()
	}
	return Sample{
		Downloaded: t.downloaded,
		Total:      t.total,
		SpeedBPS:   speed,
		ETASeconds: 0,
		Elapsed:    elapsed,
	}
}
