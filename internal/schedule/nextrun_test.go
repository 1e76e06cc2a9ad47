package schedule

import (
	"testing"
	"time"

	"github.com/relaymesh/core/pkg/models"
)

func TestNextRunEvery(t *testing.T) {
	cfg := models.ScheduleConfig{Kind: models.ScheduleEvery, IntervalMs: 60_000, AnchorMs: 0}
	next, ok, err := NextRun(cfg, 125_000)
	if err != nil || !ok {
		t.Fatalf("NextRun: ok=%v err=%v", ok, err)
	}
	if next != 180_000 {
		t.Fatalf("next = %d, want 180000", next)
	}
}

func TestNextRunAt(t *testing.T) {
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	cfg := models.ScheduleConfig{Kind: models.ScheduleAt, AtISO8601: future}
	next, ok, err := NextRun(cfg, time.Now().UnixMilli())
	if err != nil || !ok {
		t.Fatalf("NextRun: ok=%v err=%v", ok, err)
	}
	if next <= time.Now().UnixMilli() {
		t.Fatalf("expected future next run")
	}

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	cfg.AtISO8601 = past
	_, ok, err = NextRun(cfg, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if ok {
		t.Fatal("expected no further runs for a past at-schedule")
	}
}

func TestNextRunDailyAt(t *testing.T) {
	cfg := models.ScheduleConfig{Kind: models.ScheduleDailyAt, DailyAtHHMM: "09:00", Timezone: "UTC"}
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	next, ok, err := NextRun(cfg, base)
	if err != nil || !ok {
		t.Fatalf("NextRun: ok=%v err=%v", ok, err)
	}
	got := time.UnixMilli(next).UTC()
	if got.Day() != 2 || got.Hour() != 9 {
		t.Fatalf("next = %v, want Jan 2 09:00 UTC", got)
	}
}

func TestNextRunCron(t *testing.T) {
	cfg := models.ScheduleConfig{Kind: models.ScheduleCron, CronExpr: "0 0 * * *", Timezone: "UTC"}
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	next, ok, err := NextRun(cfg, base)
	if err != nil || !ok {
		t.Fatalf("NextRun: ok=%v err=%v", ok, err)
	}
	got := time.UnixMilli(next).UTC()
	if got.Day() != 2 || got.Hour() != 0 {
		t.Fatalf("next = %v, want midnight Jan 2", got)
	}
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		n    int
		want int64
	}{
		{1, 30_000},
		{2, 60_000},
		{3, 120_000},
		{20, MaxBackoffMs},
	}
	for _, c := range cases {
		if got := Backoff(c.n); got != c.want {
			t.Errorf("Backoff(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}
