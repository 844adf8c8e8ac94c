// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package pipeline

import (
	"testing"
	"time"
)

func TestParseSchedule_Valid(t *testing.T) {
	tests := []struct {
		expr        string
		wantMinutes []int
	}{
		{"*/15 * * * *", []int{0, 15, 30, 45}},
		{"0 9 * * *", []int{0}},
		{"5,35 * * * *", []int{5, 35}},
		{"10-14 * * * *", []int{10, 11, 12, 13, 14}},
		{"0-30/10 * * * *", []int{0, 10, 20, 30}},
	}
	for _, tt := range tests {
		s, err := ParseSchedule(tt.expr)
		if err != nil {
			t.Errorf("ParseSchedule(%q): %v", tt.expr, err)
			continue
		}
		got := fieldValues(s.minutes)
		if len(got) != len(tt.wantMinutes) {
			t.Errorf("ParseSchedule(%q) minutes = %v, want %v", tt.expr, got, tt.wantMinutes)
			continue
		}
		for i := range got {
			if got[i] != tt.wantMinutes[i] {
				t.Errorf("ParseSchedule(%q) minutes = %v, want %v", tt.expr, got, tt.wantMinutes)
				break
			}
		}
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, expr := range []string{
		"", "* * * *", "* * * * * *", "60 * * * *", "* 24 * * *",
		"abc * * * *", "*/0 * * * *", "30-10 * * * *", "* * 0 * *",
	} {
		if _, err := ParseSchedule(expr); err == nil {
			t.Errorf("ParseSchedule(%q) should fail", expr)
		}
	}
}

func TestScheduleNext_Every15Minutes(t *testing.T) {
	s, err := ParseSchedule("*/15 * * * *")
	if err != nil {
		t.Fatal(err)
	}

	after := time.Date(2026, 2, 1, 10, 7, 30, 0, time.UTC)
	next := s.Next(after)
	want := time.Date(2026, 2, 1, 10, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}

	// From exactly on a boundary, the next slot is strictly later.
	next = s.Next(want)
	if !next.Equal(want.Add(15 * time.Minute)) {
		t.Errorf("Next from boundary = %v, want %v", next, want.Add(15*time.Minute))
	}
}

func TestScheduleNext_DailyAndWeekly(t *testing.T) {
	daily, err := ParseSchedule("0 9 * * *")
	if err != nil {
		t.Fatal(err)
	}
	after := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	next := daily.Next(after)
	want := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("daily Next = %v, want %v", next, want)
	}

	// 2026-02-01 is a Sunday; next Monday 9:00 is 2026-02-02.
	weekly, err := ParseSchedule("0 9 * * 1")
	if err != nil {
		t.Fatal(err)
	}
	next = weekly.Next(after)
	if !next.Equal(want) {
		t.Errorf("weekly Next = %v, want %v", next, want)
	}
}

func TestScheduleNext_SundayAlias(t *testing.T) {
	seven, err := ParseSchedule("0 0 * * 7")
	if err != nil {
		t.Fatal(err)
	}
	zero, err := ParseSchedule("0 0 * * 0")
	if err != nil {
		t.Fatal(err)
	}

	after := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	if !seven.Next(after).Equal(zero.Next(after)) {
		t.Error("day-of-week 7 should behave like 0 (Sunday)")
	}
}

func TestScheduleNext_DayOfMonthAndWeekAreORed(t *testing.T) {
	// First of the month OR every Friday.
	s, err := ParseSchedule("0 0 1 * 5")
	if err != nil {
		t.Fatal(err)
	}

	// 2026-02-02 is a Monday; the next match is Friday 2026-02-06,
	// before the 1st of March.
	after := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	next := s.Next(after)
	want := time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}
