// Package retry implements the failure policy for background runs: transient
// failures are re-attempted up to a fixed budget with exponentially growing
// delays, permanent failures fail the run immediately.
package retry

import (
	"strings"
	"time"
)

const (
	// DefaultMaxAttempts is the number of retries after the first failure.
	DefaultMaxAttempts = 3
	// DefaultInitialDelay is the wait before the first retry.
	DefaultInitialDelay = 1 * time.Minute
	// DefaultMultiplier doubles the delay on each subsequent retry.
	DefaultMultiplier = 2.0
)

// Config tunes the retry policy. The defaults give three retries with
// delays of 1m, 2m, 4m; the failure after the last retry is final.
type Config struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// DefaultConfig returns the standard 3-retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	return c
}

// Delay returns the wait before the retry following the given attempt
// (attempt is 1-based: after attempt 1 the delay is InitialDelay).
func (c Config) Delay(attempt int) time.Duration {
	c = c.normalized()
	d := c.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
	}
	return d
}

// State tracks retry progress for one logical run across attempts. It is
// persisted alongside the agent so retries survive a process restart.
type State struct {
	Attempt     int   `json:"attempt"`
	NextRetryAt int64 `json:"next_retry_at,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// NewState returns the state before the first attempt.
func NewState() State {
	return State{Attempt: 0}
}

// RecordFailure advances the state after a failed attempt. It returns true
// when another attempt is allowed, with NextRetryAt set to the scheduled
// retry time. Permanent errors never get another attempt.
func (s *State) RecordFailure(cfg Config, now int64, err error) bool {
	cfg = cfg.normalized()
	s.Attempt++
	if err != nil {
		s.LastError = err.Error()
	}
	if s.Attempt > cfg.MaxAttempts || !IsRetryable(err) {
		s.NextRetryAt = 0
		return false
	}
	s.NextRetryAt = now + cfg.Delay(s.Attempt).Milliseconds()
	return true
}

// Exhausted reports whether the retry budget is spent.
func (s State) Exhausted(cfg Config) bool {
	return s.Attempt > cfg.normalized().MaxAttempts
}

// Due reports whether a scheduled retry should fire at now.
func (s State) Due(now int64) bool {
	return s.NextRetryAt > 0 && s.NextRetryAt <= now
}

// IsRetryable classifies an error as transient (worth retrying) or permanent.
// Classification is by message content: provider errors arrive as opaque
// strings, not typed values. Auth and configuration errors are permanent; a
// run that hit its execution timeout is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	permanent := []string{
		"401",
		"403",
		"400",
		"404",
		"invalid api key",
		"authentication",
		"approval denied",
		"approval timed out",
		"blocked by policy",
		"configuration",
		"context canceled",
	}
	for _, p := range permanent {
		if strings.Contains(msg, p) {
			return false
		}
	}

	transient := []string{
		"context deadline exceeded",
		"deadline exceeded",
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"temporary",
		"eof",
		"429",
		"too many requests",
		"rate limit",
		"500",
		"502",
		"503",
		"504",
		"overloaded",
		"connection",
		"network",
		"unavailable",
	}
	for _, p := range transient {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
