package cron

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// cronSpec is a parsed 5-field cron expression: minute, hour, day of
// month, month, day of week.
type cronSpec struct {
	minutes map[int]bool
	hours   map[int]bool
	doms    map[int]bool
	months  map[int]bool
	dows    map[int]bool
	// anyDOM/anyDOW track whether the field was "*", which changes the
	// day-matching rule: a restricted dom OR a restricted dow matches.
	anyDOM bool
	anyDOW bool
}

// parseCronSpec parses a standard 5-field cron expression. A 6-field
// expression is accepted by dropping its leading seconds field, since
// the scheduler fires at minute resolution.
func parseCronSpec(expr string) (*cronSpec, error) {
	fields := strings.Fields(expr)
	if len(fields) == 6 {
		if _, err := parseCronField(fields[0], 0, 59); err != nil {
			return nil, fmt.Errorf("seconds: %w", err)
		}
		fields = fields[1:]
	}
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	spec := &cronSpec{
		anyDOM: fields[2] == "*",
		anyDOW: fields[4] == "*",
	}

	var err error
	if spec.minutes, err = parseCronField(fields[0], 0, 59); err != nil {
		return nil, fmt.Errorf("minutes: %w", err)
	}
	if spec.hours, err = parseCronField(fields[1], 0, 23); err != nil {
		return nil, fmt.Errorf("hours: %w", err)
	}
	if spec.doms, err = parseCronField(fields[2], 1, 31); err != nil {
		return nil, fmt.Errorf("day of month: %w", err)
	}
	if spec.months, err = parseCronField(fields[3], 1, 12); err != nil {
		return nil, fmt.Errorf("month: %w", err)
	}
	if spec.dows, err = parseCronField(fields[4], 0, 6); err != nil {
		return nil, fmt.Errorf("day of week: %w", err)
	}
	return spec, nil
}

// parseCronField expands one field into its matching set. Supports "*",
// "*/n", "a-b", "a-b/n", and comma lists of any of those.
func parseCronField(field string, min, max int) (map[int]bool, error) {
	set := make(map[int]bool)

	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1

		if idx := strings.Index(part, "/"); idx >= 0 {
			s, err := strconv.Atoi(part[idx+1:])
			if err != nil || s <= 0 {
				return nil, fmt.Errorf("invalid step in %q", part)
			}
			step = s
			part = part[:idx]
		}

		lo, hi := min, max
		switch {
		case part == "*" || part == "":
			// full range
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			a, err1 := strconv.Atoi(bounds[0])
			b, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("invalid range %q", part)
			}
			lo, hi = a, b
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", part)
			}
			lo, hi = v, v
		}

		if lo < min || hi > max || lo > hi {
			return nil, fmt.Errorf("value out of bounds in %q (allowed %d-%d)", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}
	return set, nil
}

// matchesDay applies the cron day rule: when both dom and dow are
// restricted, either matching suffices; otherwise both must match.
func (s *cronSpec) matchesDay(t time.Time) bool {
	domOK := s.doms[t.Day()]
	dowOK := s.dows[int(t.Weekday())]
	if !s.anyDOM && !s.anyDOW {
		return domOK || dowOK
	}
	return domOK && dowOK
}

func (s *cronSpec) matches(t time.Time) bool {
	return s.months[int(t.Month())] &&
		s.matchesDay(t) &&
		s.hours[t.Hour()] &&
		s.minutes[t.Minute()]
}

// nextCronTime returns the first minute after from that matches the
// expression. Resolution is one minute.
func nextCronTime(expr string, from time.Time) (time.Time, error) {
	spec, err := parseCronSpec(expr)
	if err != nil {
		return time.Time{}, err
	}

	t := from.Truncate(time.Minute).Add(time.Minute)

	// Bounded search; four years covers every satisfiable expression
	// with a leap day.
	limit := t.AddDate(4, 0, 1)
	for t.Before(limit) {
		if !spec.months[int(t.Month())] {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		if !spec.matchesDay(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !spec.hours[t.Hour()] {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
			continue
		}
		if !spec.minutes[t.Minute()] {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cron expression %q never matches", expr)
}

var humanDurationRe = regexp.MustCompile(`^(\d+)([smhdw])$`)

// ParseHumanDuration parses short duration forms used by the CLI:
// "30s", "5m", "2h", "1d", "1w". A bare number means minutes.
func ParseHumanDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if v, err := strconv.Atoi(s); err == nil {
		return time.Duration(v) * time.Minute, nil
	}

	m := humanDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q (expected forms: 30s, 5m, 2h, 1d, 1w)", s)
	}
	v, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "s":
		return time.Duration(v) * time.Second, nil
	case "m":
		return time.Duration(v) * time.Minute, nil
	case "h":
		return time.Duration(v) * time.Hour, nil
	case "d":
		return time.Duration(v) * 24 * time.Hour, nil
	default:
		return time.Duration(v) * 7 * 24 * time.Hour, nil
	}
}
