package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshift-run/nightshift/internal/schedule"
)

func resetScheduleFlags() {
	createAt = ""
	createEvery = 0
	createCron = ""
	createTZ = ""
}

func TestBuildSchedule(t *testing.T) {
	t.Cleanup(resetScheduleFlags)

	resetScheduleFlags()
	_, err := buildSchedule()
	assert.ErrorContains(t, err, "exactly one")

	resetScheduleFlags()
	createAt = "2026-09-01T09:00:00Z"
	s, err := buildSchedule()
	require.NoError(t, err)
	assert.Equal(t, schedule.KindOnce, s.Type)
	assert.Equal(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC).UnixMilli(), s.RunAt)

	resetScheduleFlags()
	createAt = "not-a-time"
	_, err = buildSchedule()
	assert.ErrorContains(t, err, "invalid --at")

	resetScheduleFlags()
	createEvery = 15 * time.Minute
	s, err = buildSchedule()
	require.NoError(t, err)
	assert.Equal(t, schedule.KindInterval, s.Type)
	assert.Equal(t, int64(15*60*1000), s.IntervalMs)

	resetScheduleFlags()
	createCron = "0 9 * * 1-5"
	createTZ = "Europe/Berlin"
	s, err = buildSchedule()
	require.NoError(t, err)
	assert.Equal(t, schedule.KindCron, s.Type)
	assert.Equal(t, "Europe/Berlin", s.Timezone)

	resetScheduleFlags()
	createAt = "2026-09-01T09:00:00Z"
	createCron = "* * * * *"
	_, err = buildSchedule()
	assert.ErrorContains(t, err, "exactly one")
}

func TestDescribeSchedule(t *testing.T) {
	assert.Contains(t, describeSchedule(schedule.Interval(time.Hour.Milliseconds())), "every 1h")
	assert.Contains(t, describeSchedule(schedule.Cron("0 9 * * *", "UTC")), "cron 0 9 * * *")
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "-", formatMillis(0))
	assert.Equal(t, "2026-01-02T03:04:05Z", formatMillis(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()))
}
