package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedule(t *testing.T) {
	base := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

	t.Run("NeverRunIsAlwaysDue", func(t *testing.T) {
		s := &Schedule{Kind: ScheduleDaily, Hour: 2}
		assert.True(t, s.ShouldRun(base))
	})

	t.Run("Hourly", func(t *testing.T) {
		s := &Schedule{Kind: ScheduleHourly}
		s.MarkRun(base)
		assert.False(t, s.ShouldRun(base.Add(59*time.Minute)))
		assert.True(t, s.ShouldRun(base.Add(time.Hour)))
	})

	t.Run("Daily", func(t *testing.T) {
		s := &Schedule{Kind: ScheduleDaily, Hour: 6, Minute: 15}
		s.MarkRun(base)
		assert.False(t, s.ShouldRun(time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC)))
		assert.True(t, s.ShouldRun(time.Date(2024, 3, 11, 6, 15, 0, 0, time.UTC)))
	})

	t.Run("Weekly", func(t *testing.T) {
		// base is a Sunday; next Wednesday is March 13.
		s := &Schedule{Kind: ScheduleWeekly, DayOfWeek: time.Wednesday, Hour: 8}
		s.MarkRun(base)
		assert.False(t, s.ShouldRun(time.Date(2024, 3, 13, 7, 59, 0, 0, time.UTC)))
		assert.True(t, s.ShouldRun(time.Date(2024, 3, 13, 8, 0, 0, 0, time.UTC)))
	})

	t.Run("WeeklySameDayWaitsAWeek", func(t *testing.T) {
		s := &Schedule{Kind: ScheduleWeekly, DayOfWeek: time.Sunday, Hour: 9}
		s.MarkRun(base)
		assert.False(t, s.ShouldRun(base.Add(time.Hour)))
		assert.True(t, s.ShouldRun(time.Date(2024, 3, 17, 9, 0, 0, 0, time.UTC)))
	})

	t.Run("MonthlyCapsDayAt28", func(t *testing.T) {
		s := &Schedule{Kind: ScheduleMonthly, DayOfMonth: 31, Hour: 0}
		s.MarkRun(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
		assert.False(t, s.ShouldRun(time.Date(2024, 2, 27, 23, 0, 0, 0, time.UTC)))
		assert.True(t, s.ShouldRun(time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("Interval", func(t *testing.T) {
		s := &Schedule{Kind: ScheduleInterval, IntervalSec: 300}
		s.MarkRun(base)
		assert.False(t, s.ShouldRun(base.Add(4*time.Minute)))
		assert.True(t, s.ShouldRun(base.Add(5*time.Minute)))
	})

	t.Run("IntervalWithoutDurationNeverDue", func(t *testing.T) {
		s := &Schedule{Kind: ScheduleInterval}
		s.MarkRun(base)
		assert.False(t, s.ShouldRun(base.Add(24*time.Hour)))
	})
}
