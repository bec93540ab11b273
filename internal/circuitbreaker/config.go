// Package circuitbreaker guards backend dispatch with a per-service circuit
// breaker built on sony/gobreaker.
package circuitbreaker

import (
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures within the
	// sampling window that opens the circuit.
	FailureThreshold uint32

	// OpenDuration is how long the circuit stays open before allowing
	// half-open trial calls.
	OpenDuration time.Duration

	// HalfOpenTrials is the number of consecutive trial successes required
	// to close the circuit from half-open. It also bounds how many calls
	// may be in flight while half-open.
	HalfOpenTrials uint32

	// SamplingInterval is the rolling window over which failures are
	// counted while the circuit is closed. Counters reset when it elapses.
	SamplingInterval time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
		HalfOpenTrials:   2,
		SamplingInterval: time.Minute,
	}
}

// Normalize replaces zero values with defaults.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = def.OpenDuration
	}
	if c.HalfOpenTrials == 0 {
		c.HalfOpenTrials = def.HalfOpenTrials
	}
	if c.SamplingInterval <= 0 {
		c.SamplingInterval = def.SamplingInterval
	}
	return c
}
