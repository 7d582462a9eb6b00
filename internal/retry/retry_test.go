package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_DoublesEachRetry(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1*time.Minute, cfg.Delay(1))
	assert.Equal(t, 2*time.Minute, cfg.Delay(2))
	assert.Equal(t, 4*time.Minute, cfg.Delay(3))
}

func TestRecordFailure_SchedulesRetriesThenGivesUp(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now().UnixMilli()
	transient := errors.New("connection refused")

	s := NewState()

	assert.True(t, s.RecordFailure(cfg, now, transient))
	assert.Equal(t, 1, s.Attempt)
	assert.Equal(t, now+time.Minute.Milliseconds(), s.NextRetryAt)

	assert.True(t, s.RecordFailure(cfg, now, transient))
	assert.Equal(t, now+(2*time.Minute).Milliseconds(), s.NextRetryAt)

	assert.True(t, s.RecordFailure(cfg, now, transient))
	assert.Equal(t, now+(4*time.Minute).Milliseconds(), s.NextRetryAt)
	assert.False(t, s.Exhausted(cfg))

	// The fourth consecutive failure is final.
	assert.False(t, s.RecordFailure(cfg, now, transient))
	assert.Equal(t, int64(0), s.NextRetryAt)
	assert.True(t, s.Exhausted(cfg))
}

func TestRecordFailure_PermanentErrorStopsImmediately(t *testing.T) {
	cfg := DefaultConfig()
	s := NewState()

	ok := s.RecordFailure(cfg, time.Now().UnixMilli(), errors.New("401 unauthorized"))
	assert.False(t, ok)
	assert.Equal(t, 1, s.Attempt)
	assert.Equal(t, int64(0), s.NextRetryAt)
}

func TestState_Due(t *testing.T) {
	now := time.Now().UnixMilli()
	s := State{NextRetryAt: now + 1000}

	assert.False(t, s.Due(now))
	assert.True(t, s.Due(now+1000))
	assert.False(t, State{}.Due(now))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", errors.New("request timeout"), true},
		{"execution deadline", errors.New("context deadline exceeded"), true},
		{"rate limit", errors.New("429 too many requests"), true},
		{"server error", errors.New("503 service unavailable"), true},
		{"overloaded", errors.New("provider overloaded"), true},
		{"network", errors.New("network is unreachable"), true},
		{"unauthorized", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("400 bad request"), false},
		{"cancelled", errors.New("context canceled"), false},
		{"approval denied", errors.New("approval denied by operator"), false},
		{"approval timeout is not transient", errors.New("approval timed out after 5m"), false},
		{"policy block", errors.New("command blocked by policy"), false},
		{"config error", errors.New("configuration error: bad cron"), false},
		{"unknown", errors.New("something odd happened"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
