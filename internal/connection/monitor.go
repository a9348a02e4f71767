// Package connection tracks transport health and drives reconnection
// backoff for the streaming transcription channel.
package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Tier is a coarse classification of link health.
type Tier string

const (
	TierUnknown   Tier = "unknown"
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierFair      Tier = "fair"
	TierPoor      Tier = "poor"
	TierCritical  Tier = "critical"
)

// Config contains quality classification and backoff parameters.
type Config struct {
	BackoffBase    time.Duration // initial reconnect delay
	BackoffCap     time.Duration // maximum reconnect delay
	JitterFraction float64       // random jitter applied to each delay (0.0-1.0)
	MaxRetries     int           // attempts before Exhausted, 0 = unlimited

	FailureFloor int // consecutive failures at which quality is critical

	ExcellentMax time.Duration
	GoodMax      time.Duration
	FairMax      time.Duration
	PoorMax      time.Duration
}

// DefaultConfig returns the standard thresholds: excellent <150ms,
// good <400ms, fair <800ms, poor <2000ms, critical above, backoff
// 500ms doubling to a 10s cap.
func DefaultConfig() Config {
	return Config{
		BackoffBase:    500 * time.Millisecond,
		BackoffCap:     10 * time.Second,
		JitterFraction: 0.2,
		MaxRetries:     5,
		FailureFloor:   3,
		ExcellentMax:   150 * time.Millisecond,
		GoodMax:        400 * time.Millisecond,
		FairMax:        800 * time.Millisecond,
		PoorMax:        2 * time.Second,
	}
}

// Metrics is a snapshot of the monitor's state.
type Metrics struct {
	Latency      time.Duration `json:"latency_ms"`
	Failures     int           `json:"consecutive_failures"`
	Quality      Tier          `json:"quality"`
	Disconnected bool          `json:"disconnected"`
}

// Monitor derives a quality tier from sampled latency and failure history
// and produces capped exponential reconnect delays with jitter. Nothing is
// persisted across restarts.
type Monitor struct {
	cfg Config
	rng *rand.Rand

	mu           sync.Mutex
	latency      time.Duration
	haveLatency  bool
	failures     int
	attempts     int
	disconnected bool
}

// NewMonitor creates a connection monitor.
func NewMonitor(cfg Config) *Monitor {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = cfg.BackoffBase
	}
	if cfg.FailureFloor <= 0 {
		cfg.FailureFloor = 3
	}
	return &Monitor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RecordRoundTrip records one successful round trip. A full success resets
// the failure count and the backoff sequence to base.
func (m *Monitor) RecordRoundTrip(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
	m.haveLatency = true
	m.failures = 0
	m.attempts = 0
	m.disconnected = false
}

// RecordSuccess records a successful operation without a latency sample,
// clearing the failure count and the backoff sequence.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
	m.attempts = 0
	m.disconnected = false
}

// RecordFailure records one failed send or receive.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

// SetDisconnected marks the link down or up.
func (m *Monitor) SetDisconnected(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = down
}

// Quality classifies link health from the latest latency sample and the
// rolling failure count.
func (m *Monitor) Quality() Tier {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disconnected || m.failures >= m.cfg.FailureFloor {
		return TierCritical
	}
	if !m.haveLatency {
		return TierUnknown
	}
	switch {
	case m.latency < m.cfg.ExcellentMax:
		return TierExcellent
	case m.latency < m.cfg.GoodMax:
		return TierGood
	case m.latency < m.cfg.FairMax:
		return TierFair
	case m.latency < m.cfg.PoorMax:
		return TierPoor
	default:
		return TierCritical
	}
}

// NextReconnectDelay returns the delay before the next reconnect attempt:
// min(cap, base * 2^n) with jitter, where n is the attempt count since the
// last successful round trip.
func (m *Monitor) NextReconnectDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	shift := m.attempts
	if shift > 20 {
		shift = 20 // avoid overflow, cap applies anyway
	}
	delay := m.cfg.BackoffBase << uint(shift)
	if delay > m.cfg.BackoffCap || delay <= 0 {
		delay = m.cfg.BackoffCap
	}
	m.attempts++

	if m.cfg.JitterFraction > 0 {
		span := float64(delay) * m.cfg.JitterFraction
		delay += time.Duration((m.rng.Float64()*2 - 1) * span)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// Exhausted reports whether the reconnection budget is spent.
func (m *Monitor) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.MaxRetries > 0 && m.attempts >= m.cfg.MaxRetries
}

// Snapshot returns current metrics for status reporting.
func (m *Monitor) Snapshot() Metrics {
	quality := m.Quality()
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		Latency:      m.latency,
		Failures:     m.failures,
		Quality:      quality,
		Disconnected: m.disconnected,
	}
}

// Reset clears all state for a new session.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = 0
	m.haveLatency = false
	m.failures = 0
	m.attempts = 0
	m.disconnected = false
}
