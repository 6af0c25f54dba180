package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleType describes how a cadence produces occurrences.
type ScheduleType string

const (
	ScheduleTypeRecurring  ScheduleType = "recurring"
	ScheduleTypeOneTime    ScheduleType = "one_time"
	ScheduleTypeEventBased ScheduleType = "event_based"
)

// SchedulePattern describes the recurrence shape of a recurring schedule.
type SchedulePattern string

const (
	PatternDaily     SchedulePattern = "daily"
	PatternWeekly    SchedulePattern = "weekly"
	PatternMonthly   SchedulePattern = "monthly"
	PatternQuarterly SchedulePattern = "quarterly"
	PatternCustom    SchedulePattern = "custom"
)

var (
	// ErrMissingPattern is returned when a recurring schedule has no pattern
	ErrMissingPattern = errors.New("schedule pattern is required")

	// ErrMissingTime is returned when a schedule has no time of day
	ErrMissingTime = errors.New("schedule time is required")

	// ErrMissingTimezone is returned when a schedule has no timezone
	ErrMissingTimezone = errors.New("schedule timezone is required")

	// ErrMissingDaysOfWeek is returned when a weekly schedule has no day set
	ErrMissingDaysOfWeek = errors.New("weekly schedule requires days_of_week")

	// ErrMissingStartDate is returned when a schedule type needs an anchor date
	ErrMissingStartDate = errors.New("schedule requires start_date")

	// ErrMissingCronExpr is returned when a custom schedule has no expression
	ErrMissingCronExpr = errors.New("custom schedule requires cron_expr")
)

// ScheduleConfig is the immutable recurrence definition owned by a Cadence.
// Time is a local wall-clock "HH:mm" and is always interpreted in Timezone,
// never in server-local time or UTC.
type ScheduleConfig struct {
	Type             ScheduleType    `json:"type"`
	Pattern          SchedulePattern `json:"pattern,omitempty"`
	Time             string          `json:"time,omitempty"`
	Timezone         string          `json:"timezone"`
	DaysOfWeek       []int           `json:"days_of_week,omitempty"` // 1..7, Monday=1
	DayOfMonth       int             `json:"day_of_month,omitempty"`
	CronExpr         string          `json:"cron_expr,omitempty"`
	StartDate        *time.Time      `json:"start_date,omitempty"`
	EndDate          *time.Time      `json:"end_date,omitempty"` // nil = open-ended
	CompletionWindow time.Duration   `json:"completion_window"`
}

// Validate rejects malformed configurations at cadence creation time so they
// never reach the generator.
func (c ScheduleConfig) Validate() error {
	switch c.Type {
	case ScheduleTypeRecurring, ScheduleTypeOneTime, ScheduleTypeEventBased:
	default:
		return fmt.Errorf("invalid schedule type %q", c.Type)
	}

	if c.Type == ScheduleTypeEventBased {
		// Event-based instances are materialized externally.
		return nil
	}

	if c.Timezone == "" {
		return ErrMissingTimezone
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	if c.Type == ScheduleTypeOneTime {
		if c.StartDate == nil {
			return ErrMissingStartDate
		}
		if c.Time == "" {
			return ErrMissingTime
		}
		_, _, err := ParseTimeOfDay(c.Time)
		return err
	}

	if c.Pattern == "" {
		return ErrMissingPattern
	}

	switch c.Pattern {
	case PatternDaily, PatternWeekly, PatternMonthly, PatternQuarterly:
		if c.Time == "" {
			return ErrMissingTime
		}
		if _, _, err := ParseTimeOfDay(c.Time); err != nil {
			return err
		}
	case PatternCustom:
		if c.CronExpr == "" {
			return ErrMissingCronExpr
		}
		if _, err := cron.ParseStandard(c.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", c.CronExpr, err)
		}
	default:
		return fmt.Errorf("invalid schedule pattern %q", c.Pattern)
	}

	switch c.Pattern {
	case PatternWeekly:
		if len(c.DaysOfWeek) == 0 {
			return ErrMissingDaysOfWeek
		}
		for _, d := range c.DaysOfWeek {
			if d < 1 || d > 7 {
				return fmt.Errorf("invalid day_of_week %d", d)
			}
		}
	case PatternMonthly:
		if c.DayOfMonth < 0 || c.DayOfMonth > 31 {
			return fmt.Errorf("invalid day_of_month %d", c.DayOfMonth)
		}
	case PatternQuarterly:
		if c.StartDate == nil {
			return ErrMissingStartDate
		}
	}

	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		return fmt.Errorf("end_date %s precedes start_date %s",
			c.EndDate.Format("2006-01-02"), c.StartDate.Format("2006-01-02"))
	}

	return nil
}

// ParseTimeOfDay parses an "HH:mm" local wall-clock time.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Location loads the schedule's IANA zone.
func (c ScheduleConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
