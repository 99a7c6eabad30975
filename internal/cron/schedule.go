// Package cron schedules background agent turns: jobs persist to a
// JSON file and fire as synthetic inbound messages on the bus.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaylabs/relay/pkg/models"
)

// Standard 5-field expressions plus @hourly/@daily/@weekly/@monthly
// and friends.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule checks that a schedule has exactly one kind and
// that the kind-specific field is usable.
func ValidateSchedule(s models.CronSchedule) error {
	switch s.Kind {
	case models.ScheduleEvery:
		if s.EveryMs < 1000 {
			return fmt.Errorf("every schedule requires an interval of at least 1 second")
		}
		if s.Expr != "" || s.AtMs != 0 {
			return fmt.Errorf("every schedule must not carry a cron expression or timestamp")
		}
	case models.ScheduleCron:
		if strings.TrimSpace(s.Expr) == "" {
			return fmt.Errorf("cron schedule requires an expression")
		}
		if _, err := cronParser.Parse(s.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		if s.EveryMs != 0 || s.AtMs != 0 {
			return fmt.Errorf("cron schedule must not carry an interval or timestamp")
		}
	case models.ScheduleAt:
		if s.AtMs <= 0 {
			return fmt.Errorf("at schedule requires a timestamp")
		}
		if s.EveryMs != 0 || s.Expr != "" {
			return fmt.Errorf("at schedule must not carry an interval or cron expression")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// NextFire returns the next fire time strictly after now. ok is false
// when the schedule will never fire again (a past one-shot).
func NextFire(s models.CronSchedule, now time.Time) (time.Time, bool, error) {
	switch s.Kind {
	case models.ScheduleEvery:
		if s.EveryMs <= 0 {
			return time.Time{}, false, fmt.Errorf("every schedule missing interval")
		}
		return now.Add(time.Duration(s.EveryMs) * time.Millisecond), true, nil
	case models.ScheduleCron:
		schedule, err := cronParser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression: %w", err)
		}
		next := schedule.Next(now)
		return next, !next.IsZero(), nil
	case models.ScheduleAt:
		at := time.UnixMilli(s.AtMs)
		if !at.After(now) {
			return time.Time{}, false, nil
		}
		return at, true, nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}
