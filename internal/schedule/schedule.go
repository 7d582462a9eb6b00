// Package schedule implements the timing configuration for background agents.
// A Schedule is a closed tagged variant: run once at a timestamp, run on a
// fixed interval, or run on a cron expression. It uses robfig/cron/v3 for
// cron parsing so 5-field and 6-field (with seconds) expressions are both
// accepted.
package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind discriminates the schedule variants.
type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
)

// Schedule is the tagged timing variant for a background agent.
// Exactly one of the variant field groups is meaningful, selected by Type.
// Timestamps are milliseconds since the Unix epoch, matching the wire form
// {"type":"once","run_at":<ms>}.
type Schedule struct {
	Type Kind `json:"type"`

	// Once
	RunAt int64 `json:"run_at,omitempty"`

	// Interval
	IntervalMs int64  `json:"interval_ms,omitempty"`
	StartAt    *int64 `json:"start_at,omitempty"`

	// Cron
	Expression string `json:"expression,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// cronParser accepts both 5-field and 6-field expressions; when the seconds
// field is omitted it defaults to 0.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Once returns a one-shot schedule firing at the given epoch-millisecond time.
func Once(runAt int64) Schedule {
	return Schedule{Type: KindOnce, RunAt: runAt}
}

// Interval returns a recurring schedule with the given period in milliseconds.
func Interval(intervalMs int64) Schedule {
	return Schedule{Type: KindInterval, IntervalMs: intervalMs}
}

// Cron returns a cron schedule. The timezone may be empty (UTC).
func Cron(expression, timezone string) Schedule {
	return Schedule{Type: KindCron, Expression: expression, Timezone: timezone}
}

// Recurring reports whether the schedule fires more than once.
func (s Schedule) Recurring() bool {
	return s.Type == KindInterval || s.Type == KindCron
}

// Validate checks the schedule configuration. Cron expressions and timezones
// are parsed here so a bad expression is rejected at create/update time and
// never reaches the scheduler.
func (s Schedule) Validate() error {
	switch s.Type {
	case KindOnce:
		if s.RunAt <= 0 {
			return fmt.Errorf("once schedule requires a positive run_at timestamp")
		}
	case KindInterval:
		if s.IntervalMs <= 0 {
			return fmt.Errorf("interval schedule requires a positive interval_ms")
		}
	case KindCron:
		if _, err := cronParser.Parse(s.Expression); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Expression, err)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
			}
		}
	default:
		return fmt.Errorf("unknown schedule type: %q", s.Type)
	}
	return nil
}

// Next computes the next fire time strictly after from (epoch milliseconds).
// Returns 0 when the schedule has no future fire time (a Once schedule whose
// run_at has passed). Next is a pure function of (schedule, from), so
// recomputing from the same inputs always yields the same result.
func (s Schedule) Next(from int64) int64 {
	switch s.Type {
	case KindOnce:
		if s.RunAt > from {
			return s.RunAt
		}
		return 0
	case KindInterval:
		return s.nextInterval(from)
	case KindCron:
		return s.nextCron(from)
	default:
		return 0
	}
}

// nextInterval aligns the next fire on the interval grid anchored at start_at
// (or from, when unset). Overflow saturates to "no next run" rather than
// wrapping into the past.
func (s Schedule) nextInterval(from int64) int64 {
	if s.IntervalMs <= 0 {
		return 0
	}
	start := from
	if s.StartAt != nil {
		start = *s.StartAt
	}
	if start > from {
		return start
	}

	elapsed := from - start
	intervalsPassed := elapsed / s.IntervalMs
	next := start + (intervalsPassed+1)*s.IntervalMs
	if next <= from {
		return 0
	}
	return next
}

func (s Schedule) nextCron(from int64) int64 {
	sched, err := cronParser.Parse(s.Expression)
	if err != nil {
		return 0
	}

	loc := time.UTC
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}

	fromTime := time.UnixMilli(from).In(loc)
	next := sched.Next(fromTime)
	if next.IsZero() {
		return 0
	}
	return next.UnixMilli()
}

// UnmarshalJSON validates the type tag so a malformed schedule is rejected at
// decode time rather than surfacing later as a zero Next().
func (s *Schedule) UnmarshalJSON(data []byte) error {
	type plain Schedule
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	switch p.Type {
	case KindOnce, KindInterval, KindCron:
	default:
		return fmt.Errorf("unknown schedule type: %q", p.Type)
	}
	*s = Schedule(p)
	return nil
}
