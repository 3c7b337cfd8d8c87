package storage

import (
	"sync"
	"sync/atomic"
	"time"
)

// Backpressure tracks recent transfer failures against object storage and
// adjusts how many transfers may run at once. Above the failure threshold
// concurrency halves; a clean window doubles it again, up to the maximum.
type Backpressure struct {
	maxConcurrency int32
	minConcurrency int32
	threshold      float64

	current atomic.Int32

	mu       sync.Mutex
	attempts []attempt
	window   time.Duration
}

type attempt struct {
	at      time.Time
	success bool
}

// BackpressureConfig holds configuration for Backpressure.
type BackpressureConfig struct {
	// MaxConcurrency is the upper bound of parallel transfers (default: 8).
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// MinConcurrency is the lower bound (default: 1).
	MinConcurrency int `json:"min_concurrency" yaml:"min_concurrency"`

	// FailureThreshold is the failure rate above which concurrency backs
	// off (default: 0.05).
	FailureThreshold float64 `json:"failure_threshold" yaml:"failure_threshold"`

	// WindowDuration is the sliding window of tracked transfers (default: 10m).
	WindowDuration time.Duration `json:"window_duration" yaml:"window_duration"`
}

// NewBackpressure creates a controller starting at full concurrency.
func NewBackpressure(cfg BackpressureConfig) *Backpressure {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.MinConcurrency <= 0 {
		cfg.MinConcurrency = 1
	}
	if cfg.MinConcurrency > cfg.MaxConcurrency {
		cfg.MinConcurrency = cfg.MaxConcurrency
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.05
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = 10 * time.Minute
	}

	bp := &Backpressure{
		maxConcurrency: int32(cfg.MaxConcurrency),
		minConcurrency: int32(cfg.MinConcurrency),
		threshold:      cfg.FailureThreshold,
		window:         cfg.WindowDuration,
	}
	bp.current.Store(int32(cfg.MaxConcurrency))
	return bp
}

// Record records the outcome of one transfer.
func (bp *Backpressure) Record(success bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.attempts = append(bp.attempts, attempt{at: time.Now(), success: success})
}

// FailureRate returns the failure rate within the sliding window.
func (bp *Backpressure) FailureRate() float64 {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	rate, _ := bp.rateLocked()
	return rate
}

// rateLocked returns the failure rate and the number of attempts in the
// window. Caller must hold bp.mu.
func (bp *Backpressure) rateLocked() (float64, int) {
	cutoff := time.Now().Add(-bp.window)
	i := 0
	for i < len(bp.attempts) && bp.attempts[i].at.Before(cutoff) {
		i++
	}
	bp.attempts = bp.attempts[i:]

	if len(bp.attempts) == 0 {
		return 0, 0
	}
	failures := 0
	for _, a := range bp.attempts {
		if !a.success {
			failures++
		}
	}
	return float64(failures) / float64(len(bp.attempts)), len(bp.attempts)
}

// Adjust recalculates the concurrency from the recent failure rate. Call it
// before each batch of transfers.
//
//   - rate above threshold: halve
//   - no failures in a non-empty window: double
//   - rate below threshold/2: grow by half, at least one
//   - otherwise: grow by one
func (bp *Backpressure) Adjust() {
	bp.mu.Lock()
	rate, n := bp.rateLocked()
	bp.mu.Unlock()

	current := bp.current.Load()
	var next int32
	switch {
	case rate > bp.threshold:
		next = current / 2
	case n == 0:
		next = current
	case rate == 0:
		next = current * 2
	case rate < bp.threshold/2:
		delta := current / 2
		if delta < 1 {
			delta = 1
		}
		next = current + delta
	default:
		next = current + 1
	}
	if next < bp.minConcurrency {
		next = bp.minConcurrency
	}
	if next > bp.maxConcurrency {
		next = bp.maxConcurrency
	}
	bp.current.Store(next)
}

// Concurrency returns the current number of allowed parallel transfers.
func (bp *Backpressure) Concurrency() int {
	return int(bp.current.Load())
}

// BackpressureStats is a snapshot of the controller's state.
type BackpressureStats struct {
	CurrentConcurrency int     `json:"current_concurrency"`
	FailureRate        float64 `json:"failure_rate"`
	AttemptsInWindow   int     `json:"attempts_in_window"`
}

// Stats returns the controller's current state.
func (bp *Backpressure) Stats() BackpressureStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	rate, n := bp.rateLocked()
	return BackpressureStats{
		CurrentConcurrency: int(bp.current.Load()),
		FailureRate:        rate,
		AttemptsInWindow:   n,
	}
}
