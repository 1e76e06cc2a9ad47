// Package schedule implements durable cron/interval/one-shot triggers:
// a background loop that wakes agent turns
// on a schedule, independent of the live inbound-message path.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaymesh/core/pkg/models"
)

// cronParser accepts the extended format: seconds are optional,
// @every/@daily-style descriptors are accepted.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// NextRun computes the next fire time strictly after afterMs for cfg's
// schedule variant. ok is false when the schedule has no further runs
// (a one-shot At in the past, or an invalid cron/timezone).
func NextRun(cfg models.ScheduleConfig, afterMs int64) (nextMs int64, ok bool, err error) {
	after := time.UnixMilli(afterMs)

	switch cfg.Kind {
	case models.ScheduleEvery:
		if cfg.IntervalMs <= 0 {
			return 0, false, fmt.Errorf("schedule: every schedule missing interval_ms")
		}
		anchor := cfg.AnchorMs
		// Smallest anchor + k*interval strictly greater than afterMs.
		if anchor > afterMs {
			return anchor, true, nil
		}
		k := (afterMs-anchor)/cfg.IntervalMs + 1
		return anchor + k*cfg.IntervalMs, true, nil

	case models.ScheduleCron:
		if cfg.CronExpr == "" {
			return 0, false, fmt.Errorf("schedule: cron schedule missing expr")
		}
		loc, err := loadLocation(cfg.Timezone)
		if err != nil {
			return 0, false, err
		}
		sched, err := cronParser.Parse(cfg.CronExpr)
		if err != nil {
			return 0, false, fmt.Errorf("schedule: parse cron expr %q: %w", cfg.CronExpr, err)
		}
		next := sched.Next(after.In(loc))
		if next.IsZero() {
			return 0, false, nil
		}
		return next.UnixMilli(), true, nil

	case models.ScheduleAt:
		at, err := time.Parse(time.RFC3339, cfg.AtISO8601)
		if err != nil {
			return 0, false, fmt.Errorf("schedule: parse at_iso8601 %q: %w", cfg.AtISO8601, err)
		}
		if !at.After(after) {
			return 0, false, nil
		}
		return at.UnixMilli(), true, nil

	case models.ScheduleDailyAt:
		loc, err := loadLocation(cfg.Timezone)
		if err != nil {
			return 0, false, err
		}
		var hh, mm int
		if _, err := fmt.Sscanf(cfg.DailyAtHHMM, "%d:%d", &hh, &mm); err != nil {
			return 0, false, fmt.Errorf("schedule: parse daily_at_hhmm %q: %w", cfg.DailyAtHHMM, err)
		}
		local := after.In(loc)
		candidate := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		if !candidate.After(local) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate.UnixMilli(), true, nil

	default:
		return 0, false, fmt.Errorf("schedule: unknown schedule kind %q", cfg.Kind)
	}
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule: load timezone %q: %w", tz, err)
	}
	return loc, nil
}

// MaxBackoffMs caps the error-backoff delay computed by Backoff.
const MaxBackoffMs int64 = 30 * 60 * 1000 // 30 minutes

// BaseBackoffMs is the first-failure backoff delay.
const BaseBackoffMs int64 = 30 * 1000 // 30 seconds

// Backoff returns 30s*2^(consecutiveErrors-1), capped at MaxBackoffMs.
// consecutiveErrors must be >= 1.
func Backoff(consecutiveErrors int) int64 {
	if consecutiveErrors < 1 {
		consecutiveErrors = 1
	}
	delay := BaseBackoffMs
	for i := 1; i < consecutiveErrors; i++ {
		delay *= 2
		if delay >= MaxBackoffMs {
			return MaxBackoffMs
		}
	}
	return delay
}
