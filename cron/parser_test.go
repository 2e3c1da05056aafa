package cron

import (
	"testing"
	"time"
)

func TestNextCronTimeNextDayWhenHourAlreadyPassed(t *testing.T) {
	from := time.Date(2026, 2, 28, 9, 52, 48, 0, time.UTC)
	next, err := nextCronTime("0 8 * * *", from)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	expected := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Fatalf("expected %s, got %s", expected.Format(time.RFC3339), next.Format(time.RFC3339))
	}
}

func TestNextCronTimeEveryFifteenMinutes(t *testing.T) {
	from := time.Date(2026, 6, 1, 10, 7, 30, 0, time.UTC)
	next, err := nextCronTime("*/15 * * * *", from)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	expected := time.Date(2026, 6, 1, 10, 15, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Fatalf("expected %s, got %s", expected.Format(time.RFC3339), next.Format(time.RFC3339))
	}
}

func TestNextCronTimeWeekday(t *testing.T) {
	// 2026-06-01 is a Monday; next Friday 18:00 is 2026-06-05.
	from := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	next, err := nextCronTime("0 18 * * 5", from)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	expected := time.Date(2026, 6, 5, 18, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Fatalf("expected %s, got %s", expected.Format(time.RFC3339), next.Format(time.RFC3339))
	}
}

func TestNextCronTimeSixFieldsDropsSeconds(t *testing.T) {
	from := time.Date(2026, 6, 1, 10, 7, 30, 0, time.UTC)
	next, err := nextCronTime("0 */15 * * * *", from)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	expected := time.Date(2026, 6, 1, 10, 15, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Fatalf("expected %s, got %s", expected.Format(time.RFC3339), next.Format(time.RFC3339))
	}
}

func TestNextCronTimeRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{"", "* * *", "61 * * * *", "* 25 * * *", "x * * * *"} {
		if _, err := nextCronTime(expr, time.Now()); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}

func TestCalculateNextRunEveryRequiresPositiveDuration(t *testing.T) {
	job := &Job{
		Schedule: Schedule{Type: ScheduleTypeEvery, EveryDuration: 0},
	}
	if _, err := job.CalculateNextRun(time.Now()); err == nil {
		t.Fatalf("expected error for zero every duration")
	}
}

func TestCalculateNextRunCronRequiresExpression(t *testing.T) {
	job := &Job{
		Schedule: Schedule{Type: ScheduleTypeCron, CronExpression: ""},
	}
	if _, err := job.CalculateNextRun(time.Now()); err == nil {
		t.Fatalf("expected error for empty cron expression")
	}
}

func TestCalculateNextRunOneShot(t *testing.T) {
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	job := &Job{Schedule: Schedule{Type: ScheduleTypeAt, At: at}}

	next, err := job.CalculateNextRun(at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.Equal(at) {
		t.Fatalf("expected %s, got %s", at, next)
	}

	// After the time has passed, a one-shot never fires again.
	next, err = job.CalculateNextRun(at.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.IsZero() || job.State.NextRunAt != nil {
		t.Fatalf("one-shot rescheduled: %v", next)
	}
}

func TestParseHumanDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
		"15":  15 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseHumanDuration(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseHumanDuration("5x"); err == nil {
		t.Fatal("expected error for unknown unit")
	}
}

func TestBackoffDelayProgression(t *testing.T) {
	if d := backoffDelay(0); d != 0 {
		t.Fatalf("no errors should mean no backoff, got %v", d)
	}
	if d := backoffDelay(1); d != 30*time.Second {
		t.Fatalf("first backoff = %v", d)
	}
	if d := backoffDelay(100); d != 60*time.Minute {
		t.Fatalf("backoff not capped: %v", d)
	}
}
