package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/moviemate/moviemate/channel"
)

// Metrics collects counters and latencies for asks
type Metrics struct {
	mu sync.RWMutex

	// Counters
	asks              int64
	answered          int64
	attempts          int64
	persistenceErrors int64
	fallbacks         map[channel.FallbackReason]int64

	// Latency tracking
	latency []time.Duration
}

// LatencyPercentiles represents latency percentiles
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// MetricsSnapshot is a point-in-time copy of the collected metrics
type MetricsSnapshot struct {
	Asks              int64              `json:"asks"`
	Answered          int64              `json:"answered"`
	Attempts          int64              `json:"attempts"`
	PersistenceErrors int64              `json:"persistence_errors"`
	Fallbacks         map[string]int64   `json:"fallbacks"`
	Latency           LatencyPercentiles `json:"latency"`
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		fallbacks: make(map[channel.FallbackReason]int64),
		latency:   make([]time.Duration, 0, 128),
	}
}

// RecordAsk records one finished exchange
func (m *Metrics) RecordAsk(e Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.asks++
	m.attempts += int64(e.Attempts)
	m.latency = append(m.latency, e.Elapsed)
	if e.Fallback() {
		m.fallbacks[e.Reason]++
	} else {
		m.answered++
	}
	if e.PersistErr != nil {
		m.persistenceErrors++
	}
}

// Snapshot returns a summary of collected metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fallbacks := make(map[string]int64, len(m.fallbacks))
	for reason, n := range m.fallbacks {
		fallbacks[reason.String()] = n
	}

	return MetricsSnapshot{
		Asks:              m.asks,
		Answered:          m.answered,
		Attempts:          m.attempts,
		PersistenceErrors: m.persistenceErrors,
		Fallbacks:         fallbacks,
		Latency:           percentiles(m.latency),
	}
}

// Reset clears all collected metrics
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.asks = 0
	m.answered = 0
	m.attempts = 0
	m.persistenceErrors = 0
	m.fallbacks = make(map[channel.FallbackReason]int64)
	m.latency = m.latency[:0]
}

func percentiles(latencies []time.Duration) LatencyPercentiles {
	if len(latencies) == 0 {
		return LatencyPercentiles{}
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: sorted[len(sorted)*50/100],
		P95: sorted[len(sorted)*95/100],
		P99: sorted[len(sorted)*99/100],
	}
}
