// Package schedule computes the concrete instants at which a recurrence
// definition is due. All functions are pure: same inputs, same outputs, no
// hidden state and no wall-clock reads.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opsdeck/cadence/internal/model"
)

// Occurrences returns the ordered instants at which cfg is due within
// [windowStart, windowEnd), restricted to the schedule's validity dates.
//
// The local "HH:mm" is evaluated in the schedule's zone on each candidate
// calendar date and converted to an absolute instant. A local time skipped by
// a spring-forward transition rolls forward across the gap; a time that is
// ambiguous under fall-back resolves to the earlier offset.
//
// An empty window or a schedule with no valid occurrence yields an empty
// result, not an error. Errors are reserved for unusable configuration
// (unknown zone, malformed time or cron expression).
func Occurrences(cfg model.ScheduleConfig, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if !windowEnd.After(windowStart) {
		return nil, nil
	}

	if cfg.Type == model.ScheduleTypeEventBased {
		// Materialized externally, never by the calculator.
		return nil, nil
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if cfg.Type == model.ScheduleTypeOneTime {
		return oneTime(cfg, loc, windowStart, windowEnd)
	}

	var instants []time.Time
	switch cfg.Pattern {
	case model.PatternDaily, model.PatternWeekly:
		instants, err = daily(cfg, loc, windowStart, windowEnd)
	case model.PatternMonthly:
		instants, err = monthly(cfg, loc, windowStart, windowEnd)
	case model.PatternQuarterly:
		instants, err = quarterly(cfg, loc, windowStart, windowEnd)
	case model.PatternCustom:
		instants, err = custom(cfg, loc, windowStart, windowEnd)
	default:
		return nil, fmt.Errorf("unsupported schedule pattern %q", cfg.Pattern)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })
	return instants, nil
}

func oneTime(cfg model.ScheduleConfig, loc *time.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if cfg.StartDate == nil {
		return nil, nil
	}
	hour, minute, err := model.ParseTimeOfDay(cfg.Time)
	if err != nil {
		return nil, err
	}
	d := *cfg.StartDate
	inst := localInstant(d.Year(), d.Month(), d.Day(), hour, minute, loc)
	if inst.Before(windowStart) || !inst.Before(windowEnd) {
		return nil, nil
	}
	return []time.Time{inst}, nil
}

func daily(cfg model.ScheduleConfig, loc *time.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	hour, minute, err := model.ParseTimeOfDay(cfg.Time)
	if err != nil {
		return nil, err
	}

	var out []time.Time
	ls := windowStart.In(loc)
	le := windowEnd.In(loc)
	lastDate := civilDate(le.Year(), le.Month(), le.Day())

	for d := time.Date(ls.Year(), ls.Month(), ls.Day(), 0, 0, 0, 0, loc); ; d = d.AddDate(0, 0, 1) {
		if civilDate(d.Year(), d.Month(), d.Day()).After(lastDate) {
			break
		}
		if cfg.Pattern == model.PatternWeekly && !containsWeekday(cfg.DaysOfWeek, d.Weekday()) {
			continue
		}
		if !withinDates(cfg, d.Year(), d.Month(), d.Day()) {
			continue
		}
		inst := localInstant(d.Year(), d.Month(), d.Day(), hour, minute, loc)
		if inst.Before(windowStart) || !inst.Before(windowEnd) {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func monthly(cfg model.ScheduleConfig, loc *time.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	hour, minute, err := model.ParseTimeOfDay(cfg.Time)
	if err != nil {
		return nil, err
	}

	dom := cfg.DayOfMonth
	if dom == 0 {
		if cfg.StartDate != nil {
			dom = cfg.StartDate.Day()
		} else {
			dom = 1
		}
	}

	var out []time.Time
	ls := windowStart.In(loc)
	for m := time.Date(ls.Year(), ls.Month(), 1, 0, 0, 0, 0, loc); m.Before(windowEnd); m = m.AddDate(0, 1, 0) {
		day := clampDay(m.Year(), m.Month(), dom)
		if !withinDates(cfg, m.Year(), m.Month(), day) {
			continue
		}
		inst := localInstant(m.Year(), m.Month(), day, hour, minute, loc)
		if inst.Before(windowStart) || !inst.Before(windowEnd) {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func quarterly(cfg model.ScheduleConfig, loc *time.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if cfg.StartDate == nil {
		return nil, nil
	}
	hour, minute, err := model.ParseTimeOfDay(cfg.Time)
	if err != nil {
		return nil, err
	}

	anchor := *cfg.StartDate
	dom := anchor.Day()

	var out []time.Time
	for m := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, loc); m.Before(windowEnd); m = m.AddDate(0, 3, 0) {
		day := clampDay(m.Year(), m.Month(), dom)
		if !withinDates(cfg, m.Year(), m.Month(), day) {
			continue
		}
		inst := localInstant(m.Year(), m.Month(), day, hour, minute, loc)
		if inst.Before(windowStart) || !inst.Before(windowEnd) {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func custom(cfg model.ScheduleConfig, loc *time.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	sched, err := cron.ParseStandard(cfg.CronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.CronExpr, err)
	}

	var out []time.Time
	for t := sched.Next(windowStart.In(loc).Add(-time.Second)); !t.IsZero() && t.Before(windowEnd); t = sched.Next(t) {
		if !withinDates(cfg, t.Year(), t.Month(), t.Day()) {
			continue
		}
		if t.Before(windowStart) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// localInstant builds the absolute instant for a local wall-clock time.
// time.Date already normalizes a nonexistent local time forward across a DST
// gap and resolves an ambiguous one to the earlier offset.
func localInstant(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

// withinDates checks the schedule's [start_date, end_date] validity by
// calendar date. A nil end date leaves the recurrence unbounded forward.
func withinDates(cfg model.ScheduleConfig, year int, month time.Month, day int) bool {
	d := civilDate(year, month, day)
	if cfg.StartDate != nil {
		s := *cfg.StartDate
		if d.Before(civilDate(s.Year(), s.Month(), s.Day())) {
			return false
		}
	}
	if cfg.EndDate != nil {
		e := *cfg.EndDate
		if d.After(civilDate(e.Year(), e.Month(), e.Day())) {
			return false
		}
	}
	return true
}

// civilDate gives a zone-free comparable representation of a calendar date.
func civilDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func containsWeekday(days []int, wd time.Weekday) bool {
	iso := int(wd)
	if iso == 0 { // Sunday
		iso = 7
	}
	for _, d := range days {
		if d == iso {
			return true
		}
	}
	return false
}

func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1).Day()
	if day > last {
		return last
	}
	return day
}
