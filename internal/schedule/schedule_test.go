package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnce_NextFutureAndPast(t *testing.T) {
	now := time.Now().UnixMilli()

	s := Once(now + 60_000)
	assert.Equal(t, now+60_000, s.Next(now))

	// A once schedule whose time has passed never fires again.
	past := Once(now - 1)
	assert.Equal(t, int64(0), past.Next(now))
	assert.Equal(t, int64(0), Once(now).Next(now))
}

func TestInterval_AlignsOnGrid(t *testing.T) {
	start := int64(1_000_000)
	s := Interval(300_000) // 5 minutes
	s.StartAt = &start

	// 12 minutes after the anchor: two intervals passed, next is at +15m.
	from := start + 12*60_000
	assert.Equal(t, start+15*60_000, s.Next(from))

	// Exactly on a grid point still advances to the next one.
	assert.Equal(t, start+300_000, s.Next(start))
}

func TestInterval_StartInFuture(t *testing.T) {
	now := time.Now().UnixMilli()
	start := now + 90_000
	s := Interval(60_000)
	s.StartAt = &start

	assert.Equal(t, start, s.Next(now))
}

func TestInterval_NoAnchorUsesFrom(t *testing.T) {
	now := int64(5_000_000)
	s := Interval(3_600_000)
	assert.Equal(t, now+3_600_000, s.Next(now))
}

func TestCron_FiveFieldDaily(t *testing.T) {
	s := Cron("0 9 * * *", "")
	require.NoError(t, s.Validate())

	from := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC).UnixMilli()
	next := s.Next(from)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC).UnixMilli(), next)

	// After 09:00 the next fire is tomorrow.
	after := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC).UnixMilli(), s.Next(after))
}

func TestCron_SixFieldWithSeconds(t *testing.T) {
	s := Cron("30 0 9 * * *", "")
	require.NoError(t, s.Validate())

	from := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 30, 0, time.UTC).UnixMilli(), s.Next(from))
}

func TestCron_Timezone(t *testing.T) {
	s := Cron("0 9 * * *", "America/New_York")
	require.NoError(t, s.Validate())

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	from := time.Date(2026, 6, 1, 8, 0, 0, 0, loc).UnixMilli()
	assert.Equal(t, time.Date(2026, 6, 1, 9, 0, 0, 0, loc).UnixMilli(), s.Next(from))
}

func TestCron_Deterministic(t *testing.T) {
	s := Cron("*/15 * * * *", "")
	from := time.Date(2026, 1, 1, 12, 7, 0, 0, time.UTC).UnixMilli()

	first := s.Next(from)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Next(from))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sched   Schedule
		wantErr bool
	}{
		{"valid once", Once(time.Now().UnixMilli() + 1000), false},
		{"once zero run_at", Once(0), true},
		{"valid interval", Interval(60_000), false},
		{"interval zero", Interval(0), true},
		{"interval negative", Interval(-5), true},
		{"valid cron", Cron("0 9 * * *", ""), false},
		{"valid cron with seconds", Cron("0 0 9 * * *", ""), false},
		{"bad cron expression", Cron("not a cron", ""), true},
		{"bad cron field count", Cron("0 9 * *", ""), true},
		{"bad timezone", Cron("0 9 * * *", "Mars/Olympus"), true},
		{"unknown type", Schedule{Type: "hourly"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sched.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	start := int64(42)
	tests := []Schedule{
		Once(1234567890),
		{Type: KindInterval, IntervalMs: 300_000, StartAt: &start},
		Cron("0 9 * * 1-5", "Europe/Berlin"),
	}

	for _, in := range tests {
		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out Schedule
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, in, out)
	}
}

func TestUnmarshal_RejectsUnknownType(t *testing.T) {
	var s Schedule
	err := json.Unmarshal([]byte(`{"type":"weekly","run_at":1}`), &s)
	assert.Error(t, err)
}
