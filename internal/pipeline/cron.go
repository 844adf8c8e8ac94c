// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
type Schedule struct {
	minutes     map[int]bool // 0-59
	hours       map[int]bool // 0-23
	daysOfMonth map[int]bool // 1-31
	months      map[int]bool // 1-12
	daysOfWeek  map[int]bool // 0-6, Sunday = 0

	domWildcard bool
	dowWildcard bool
}

// ParseSchedule parses a standard 5-field cron expression. Supported
// syntax per field: "*", single values, ranges "n-m", lists "a,b,c", and
// steps "*/n" or "n-m/s".
func ParseSchedule(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minutes, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	hours, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	daysOfMonth, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}
	months, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	daysOfWeek, err := parseCronField(fields[4], 0, 7)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}
	// 7 is an alias for Sunday.
	if daysOfWeek[7] {
		delete(daysOfWeek, 7)
		daysOfWeek[0] = true
	}

	return &Schedule{
		minutes:     minutes,
		hours:       hours,
		daysOfMonth: daysOfMonth,
		months:      months,
		daysOfWeek:  daysOfWeek,
		domWildcard: fields[2] == "*",
		dowWildcard: fields[4] == "*",
	}, nil
}

// Next returns the first matching time strictly after t, in UTC. Search
// is bounded to four years; valid expressions always match well within
// that.
func (s *Schedule) Next(after time.Time) time.Time {
	t := after.UTC().Add(time.Minute).Truncate(time.Minute)

	const maxIterations = 4 * 366 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		if s.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

// matches reports whether t satisfies the schedule. Day-of-month and
// day-of-week are OR'd when both are constrained, standard cron behavior.
func (s *Schedule) matches(t time.Time) bool {
	if !s.minutes[t.Minute()] || !s.hours[t.Hour()] || !s.months[int(t.Month())] {
		return false
	}

	domMatch := s.daysOfMonth[t.Day()]
	dowMatch := s.daysOfWeek[int(t.Weekday())]
	switch {
	case s.domWildcard && s.dowWildcard:
		return true
	case s.domWildcard:
		return dowMatch
	case s.dowWildcard:
		return domMatch
	default:
		return domMatch || dowMatch
	}
}

// Values returns the sorted allowed values of one field. Test hook.
func fieldValues(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func parseCronField(field string, minVal, maxVal int) (map[int]bool, error) {
	out := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		if err := parseCronPart(part, minVal, maxVal, out); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty field %q", field)
	}
	return out, nil
}

//nolint:gocyclo // cron syntax has several forms to cover
func parseCronPart(part string, minVal, maxVal int, out map[int]bool) error {
	step := 1
	if slash := strings.IndexByte(part, '/'); slash >= 0 {
		s, err := strconv.Atoi(part[slash+1:])
		if err != nil || s <= 0 {
			return fmt.Errorf("invalid step value %q", part[slash+1:])
		}
		step = s
		part = part[:slash]
	}

	start, end := minVal, maxVal
	switch {
	case part == "*":
		// full range
	case strings.Contains(part, "-"):
		bounds := strings.SplitN(part, "-", 2)
		var err error
		if start, err = strconv.Atoi(bounds[0]); err != nil {
			return fmt.Errorf("invalid range start %q", bounds[0])
		}
		if end, err = strconv.Atoi(bounds[1]); err != nil {
			return fmt.Errorf("invalid range end %q", bounds[1])
		}
		if start > end || start < minVal || end > maxVal {
			return fmt.Errorf("range %d-%d outside %d-%d", start, end, minVal, maxVal)
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("invalid value %q", part)
		}
		if v < minVal || v > maxVal {
			return fmt.Errorf("value %d outside %d-%d", v, minVal, maxVal)
		}
		start = v
		if step == 1 {
			end = v
		}
	}

	for v := start; v <= end; v += step {
		out[v] = true
	}
	return nil
}
