package types

import "time"

// Schedule kinds
const (
	ScheduleHourly   ScheduleKind = "hourly"
	ScheduleDaily    ScheduleKind = "daily"
	ScheduleWeekly   ScheduleKind = "weekly"
	ScheduleMonthly  ScheduleKind = "monthly"
	ScheduleInterval ScheduleKind = "interval"
)

// ScheduleKind selects the recurrence rule of a Schedule.
type ScheduleKind string

// Schedule defines when a workflow is due to run again. A workflow with a nil
// schedule runs on demand only.
type Schedule struct {
	Kind        ScheduleKind `json:"kind"`
	Hour        int          `json:"hour,omitempty"`
	Minute      int          `json:"minute,omitempty"`
	DayOfWeek   time.Weekday `json:"day_of_week,omitempty"`
	DayOfMonth  int          `json:"day_of_month,omitempty"`
	IntervalSec int64        `json:"interval_sec,omitempty"`
	LastRun     int64        `json:"last_run,omitempty"`
}

// ShouldRun reports whether the schedule is due at the given time. A schedule
// that has never run is always due.
func (s *Schedule) ShouldRun(now time.Time) bool {
	if s.LastRun == 0 {
		return true
	}
	last := time.UnixMilli(s.LastRun)

	switch s.Kind {
	case ScheduleHourly:
		return !now.Before(last.Add(time.Hour))
	case ScheduleDaily:
		next := atTime(last.AddDate(0, 0, 1), s.Hour, s.Minute)
		return !now.Before(next)
	case ScheduleWeekly:
		daysAhead := int(s.DayOfWeek-last.Weekday()+7) % 7
		if daysAhead == 0 {
			daysAhead = 7
		}
		next := atTime(last.AddDate(0, 0, daysAhead), s.Hour, s.Minute)
		return !now.Before(next)
	case ScheduleMonthly:
		day := s.DayOfMonth
		if day < 1 {
			day = 1
		}
		// Cap at 28 so the rule is valid in every month.
		if day > 28 {
			day = 28
		}
		first := time.Date(last.Year(), last.Month(), 1, 0, 0, 0, 0, last.Location()).AddDate(0, 1, 0)
		next := atTime(first.AddDate(0, 0, day-1), s.Hour, s.Minute)
		return !now.Before(next)
	case ScheduleInterval:
		if s.IntervalSec <= 0 {
			return false
		}
		return !now.Before(last.Add(time.Duration(s.IntervalSec) * time.Second))
	}
	return false
}

// MarkRun records the time of the latest run.
func (s *Schedule) MarkRun(now time.Time) {
	s.LastRun = now.UnixMilli()
}

func atTime(d time.Time, hour, minute int) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, d.Location())
}
