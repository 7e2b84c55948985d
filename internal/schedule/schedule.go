// Package schedule defines the schedule types a task can carry and computes
// when a task should run next.
package schedule

import (
	"errors"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

type Type string

const (
	TypeOnce    Type = "once"
	TypeDaily   Type = "daily"
	TypeWeekly  Type = "weekly"
	TypeMonthly Type = "monthly"
	TypeCustom  Type = "custom"
)

var ErrNotRecurring = errors.New("schedule: not a recurring schedule")

// cronParser accepts standard 5-field expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the structured parameters for a schedule. Which fields are
// required depends on the Type; Validate enforces the pairing.
type Config struct {
	// Every multiplies the base interval (every 2 weeks, every 3 days).
	// Zero means 1.
	Every int `json:"every,omitempty"`
	// Weekday is required for weekly schedules (0 = Sunday).
	Weekday *int `json:"weekday,omitempty"`
	// DayOfMonth is required for monthly schedules (1..28 so every month qualifies).
	DayOfMonth int `json:"day_of_month,omitempty"`
	// Cron is required for custom schedules.
	Cron string `json:"cron,omitempty"`
}

func ValidType(t Type) bool {
	switch t {
	case TypeOnce, TypeDaily, TypeWeekly, TypeMonthly, TypeCustom:
		return true
	}
	return false
}

func Recurring(t Type) bool {
	return ValidType(t) && t != TypeOnce
}

// Validate checks that cfg matches t.
func Validate(t Type, cfg Config) error {
	if !ValidType(t) {
		return fmt.Errorf("unknown schedule type %q", t)
	}
	if cfg.Every < 0 {
		return errors.New("every must be >= 0")
	}
	switch t {
	case TypeWeekly:
		if cfg.Weekday == nil {
			return errors.New("weekly schedule requires a weekday")
		}
		if *cfg.Weekday < 0 || *cfg.Weekday > 6 {
			return fmt.Errorf("weekday must be 0..6, got %d", *cfg.Weekday)
		}
	case TypeMonthly:
		if cfg.DayOfMonth < 1 || cfg.DayOfMonth > 28 {
			return fmt.Errorf("day_of_month must be 1..28, got %d", cfg.DayOfMonth)
		}
	case TypeCustom:
		if cfg.Cron == "" {
			return errors.New("custom schedule requires a cron expression")
		}
		if _, err := cronParser.Parse(cfg.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
		}
	}
	return nil
}

func every(cfg Config) int {
	if cfg.Every < 1 {
		return 1
	}
	return cfg.Every
}

// Next returns the run time that follows `after` for a recurring schedule.
// For daily/weekly the result is exactly `after` plus the configured interval,
// so a weekly task completed at T comes due again at T+7d (times Every).
func Next(t Type, cfg Config, after time.Time) (time.Time, error) {
	switch t {
	case TypeOnce:
		return time.Time{}, ErrNotRecurring
	case TypeDaily:
		return after.AddDate(0, 0, every(cfg)), nil
	case TypeWeekly:
		return after.AddDate(0, 0, 7*every(cfg)), nil
	case TypeMonthly:
		return after.AddDate(0, every(cfg), 0), nil
	case TypeCustom:
		sched, err := cronParser.Parse(cfg.Cron)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(after), nil
	}
	return time.Time{}, fmt.Errorf("unknown schedule type %q", t)
}

// First returns the initial run time for a task created at `from`, aligning
// weekly schedules to the configured weekday and monthly ones to the
// configured day of month. Once schedules have no derivable run time; the
// caller must supply one explicitly.
func First(t Type, cfg Config, from time.Time) (time.Time, error) {
	switch t {
	case TypeOnce:
		return time.Time{}, ErrNotRecurring
	case TypeDaily:
		return from.AddDate(0, 0, every(cfg)), nil
	case TypeWeekly:
		target := time.Weekday(*cfg.Weekday)
		next := from
		for i := 0; i < 7; i++ {
			next = next.AddDate(0, 0, 1)
			if next.Weekday() == target {
				return next, nil
			}
		}
		return time.Time{}, fmt.Errorf("no weekday %d within a week of %s", *cfg.Weekday, from)
	case TypeMonthly:
		next := time.Date(from.Year(), from.Month(), cfg.DayOfMonth,
			from.Hour(), from.Minute(), 0, 0, from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 1, 0)
		}
		return next, nil
	case TypeCustom:
		sched, err := cronParser.Parse(cfg.Cron)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(from), nil
	}
	return time.Time{}, fmt.Errorf("unknown schedule type %q", t)
}
