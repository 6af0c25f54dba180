package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/cadence/internal/model"
)

func datePtr(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func TestOccurrencesDaily(t *testing.T) {
	cfg := model.ScheduleConfig{
		Type:     model.ScheduleTypeRecurring,
		Pattern:  model.PatternDaily,
		Time:     "09:00",
		Timezone: "America/New_York",
	}

	t.Run("24h window yields exactly one occurrence", func(t *testing.T) {
		now := time.Date(2025, 10, 28, 0, 0, 0, 0, time.UTC)
		got, err := Occurrences(cfg, now, now.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)

		// 09:00 local is EDT (UTC-4) on this date.
		assert.Equal(t, time.Date(2025, 10, 28, 13, 0, 0, 0, time.UTC), got[0].UTC())
	})

	t.Run("one occurrence per date across a week", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		got, err := Occurrences(cfg, now, now.Add(7*24*time.Hour))
		require.NoError(t, err)
		assert.Len(t, got, 7)
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i-1].Before(got[i]), "occurrences must be ordered")
		}
	})

	t.Run("empty window yields nothing", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		got, err := Occurrences(cfg, now, now)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("deterministic across repeated calls", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		first, err := Occurrences(cfg, now, now.Add(72*time.Hour))
		require.NoError(t, err)
		second, err := Occurrences(cfg, now, now.Add(72*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestOccurrencesWeekly(t *testing.T) {
	cfg := model.ScheduleConfig{
		Type:       model.ScheduleTypeRecurring,
		Pattern:    model.PatternWeekly,
		Time:       "08:00",
		Timezone:   "UTC",
		DaysOfWeek: []int{1, 2, 3, 4, 5}, // Monday..Friday
	}

	// 2025-06-02 is a Monday.
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	got, err := Occurrences(cfg, now, now.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 5)

	for _, inst := range got {
		wd := inst.UTC().Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
	}
}

func TestOccurrencesValidityBounds(t *testing.T) {
	cfg := model.ScheduleConfig{
		Type:      model.ScheduleTypeRecurring,
		Pattern:   model.PatternDaily,
		Time:      "12:00",
		Timezone:  "UTC",
		StartDate: datePtr(2025, 6, 3),
		EndDate:   datePtr(2025, 6, 5),
	}

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	got, err := Occurrences(cfg, now, now.Add(10*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC), got[0].UTC())
	assert.Equal(t, time.Date(2025, 6, 5, 12, 0, 0, 0, time.UTC), got[2].UTC())
}

func TestOccurrencesMonthly(t *testing.T) {
	t.Run("fixed day of month", func(t *testing.T) {
		cfg := model.ScheduleConfig{
			Type:       model.ScheduleTypeRecurring,
			Pattern:    model.PatternMonthly,
			Time:       "10:00",
			Timezone:   "UTC",
			DayOfMonth: 15,
		}

		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		got, err := Occurrences(cfg, now, now.AddDate(0, 3, 0))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), got[0].UTC())
		assert.Equal(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC), got[2].UTC())
	})

	t.Run("day clamped to short months", func(t *testing.T) {
		cfg := model.ScheduleConfig{
			Type:       model.ScheduleTypeRecurring,
			Pattern:    model.PatternMonthly,
			Time:       "10:00",
			Timezone:   "UTC",
			DayOfMonth: 31,
		}

		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		got, err := Occurrences(cfg, now, now.AddDate(0, 4, 0))
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, 31, got[0].UTC().Day())               // January
		assert.Equal(t, 28, got[1].UTC().Day())               // February 2025
		assert.Equal(t, 31, got[2].UTC().Day())               // March
		assert.Equal(t, 30, got[3].UTC().Day())               // April
		assert.Equal(t, time.February, got[1].UTC().Month())
	})
}

func TestOccurrencesQuarterly(t *testing.T) {
	cfg := model.ScheduleConfig{
		Type:      model.ScheduleTypeRecurring,
		Pattern:   model.PatternQuarterly,
		Time:      "09:30",
		Timezone:  "UTC",
		StartDate: datePtr(2025, 1, 15),
	}

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := Occurrences(cfg, now, now.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.Len(t, got, 4)

	months := []time.Month{time.January, time.April, time.July, time.October}
	for i, inst := range got {
		assert.Equal(t, months[i], inst.UTC().Month())
		assert.Equal(t, 15, inst.UTC().Day())
	}
}

func TestOccurrencesCustomCron(t *testing.T) {
	cfg := model.ScheduleConfig{
		Type:     model.ScheduleTypeRecurring,
		Pattern:  model.PatternCustom,
		Timezone: "UTC",
		CronExpr: "0 9 * * 1", // Mondays at 09:00
	}

	// 2025-06-02 is a Monday.
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	got, err := Occurrences(cfg, now, now.Add(14*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), got[0].UTC())
	assert.Equal(t, time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC), got[1].UTC())
}

func TestOccurrencesDSTSpringForward(t *testing.T) {
	// 02:30 does not exist on 2025-03-09 in America/New_York; the occurrence
	// rolls forward across the gap to 03:30 EDT.
	cfg := model.ScheduleConfig{
		Type:     model.ScheduleTypeRecurring,
		Pattern:  model.PatternDaily,
		Time:     "02:30",
		Timezone: "America/New_York",
	}

	now := time.Date(2025, 3, 9, 5, 0, 0, 0, time.UTC)
	got, err := Occurrences(cfg, now, now.Add(6*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2025, 3, 9, 7, 30, 0, 0, time.UTC), got[0].UTC())
}

func TestOccurrencesOneTime(t *testing.T) {
	cfg := model.ScheduleConfig{
		Type:      model.ScheduleTypeOneTime,
		Time:      "14:00",
		Timezone:  "UTC",
		StartDate: datePtr(2025, 6, 10),
	}

	t.Run("inside window", func(t *testing.T) {
		now := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
		got, err := Occurrences(cfg, now, now.Add(72*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC), got[0].UTC())
	})

	t.Run("outside window", func(t *testing.T) {
		now := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
		got, err := Occurrences(cfg, now, now.Add(72*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestOccurrencesEventBased(t *testing.T) {
	cfg := model.ScheduleConfig{Type: model.ScheduleTypeEventBased}

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	got, err := Occurrences(cfg, now, now.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOccurrencesBadTimezone(t *testing.T) {
	cfg := model.ScheduleConfig{
		Type:     model.ScheduleTypeRecurring,
		Pattern:  model.PatternDaily,
		Time:     "09:00",
		Timezone: "Not/AZone",
	}

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := Occurrences(cfg, now, now.Add(24*time.Hour))
	require.Error(t, err)
}
