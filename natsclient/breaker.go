package natsclient

import (
	"sync/atomic"
	"time"
)

// breaker counts consecutive failures and opens after threshold of them,
// doubling its backoff on every round that fails again.
type breaker struct {
	failures    atomic.Int32 // since the last success
	round       atomic.Int32 // in the current circuit round
	lastFailure atomic.Int64 // unix nanos
	backoff     atomic.Int64 // time.Duration
	threshold   int32
	maxBackoff  time.Duration
}

func (b *breaker) init(threshold int32, maxBackoff time.Duration) {
	b.threshold = threshold
	b.maxBackoff = maxBackoff
	b.backoff.Store(int64(time.Second))
}

func (b *breaker) currentBackoff() time.Duration {
	return time.Duration(b.backoff.Load())
}

func (b *breaker) lastFailureTime() time.Time {
	n := b.lastFailure.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// grow doubles the backoff up to maxBackoff and returns the previous value
func (b *breaker) grow() time.Duration {
	current := b.currentBackoff()
	next := current * 2
	if next > b.maxBackoff {
		next = b.maxBackoff
	}
	b.backoff.Store(int64(next))
	return current
}

func (b *breaker) reset() {
	b.failures.Store(0)
	b.round.Store(0)
	b.lastFailure.Store(0)
	b.backoff.Store(int64(time.Second))
}

// recordFailure counts a failure and reports whether the circuit is open afterwards
func (m *Client) recordFailure() bool {
	total := m.breaker.failures.Add(1)
	m.breaker.lastFailure.Store(time.Now().UnixNano())
	round := m.breaker.round.Add(1)

	m.logger.Debugf("Recorded failure %d (circuit round: %d)", total, round)

	if round < m.breaker.threshold {
		return m.Status() == StatusCircuitOpen
	}
	m.breaker.round.Store(0)

	current := m.Status()
	if current == StatusCircuitOpen {
		m.logger.Printf("Circuit breaker still open, backoff now %v", m.breaker.grow())
		return true
	}

	if m.status.CompareAndSwap(current, StatusCircuitOpen) {
		wait := m.breaker.grow()
		m.metrics.RecordNATSStatus(false)
		m.metrics.RecordCircuitBreakerState(1)
		m.logger.Printf("Circuit breaker opened after %d failures, backing off for %v", round, wait)
		time.AfterFunc(wait, m.testCircuit)
	}
	return true
}

func (m *Client) resetCircuit() {
	m.breaker.reset()
	m.metrics.RecordCircuitBreakerState(0)
	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the breaker so the next Connect may try again
func (m *Client) testCircuit() {
	if m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		m.metrics.RecordNATSStatus(false)
		m.metrics.RecordCircuitBreakerState(0)
		m.logger.Debugf("Circuit breaker half-open, next connect attempt allowed")
	}
}
