package scheduler

import (
	"testing"
	"time"
)

func at(day, hour int) time.Time {
	return time.Date(2024, time.March, day, hour, 0, 0, 0, time.UTC)
}

func TestOverlap(t *testing.T) {
	start1 := at(4, 9)
	end1 := start1.Add(2 * time.Hour)

	start2 := start1.Add(1 * time.Hour)
	end2 := start2.Add(2 * time.Hour)

	if !Overlap(start1, end1, start2, end2) {
		t.Errorf("Expected shifts to overlap")
	}
	if Overlap(start1, end1, end1, end1.Add(time.Hour)) {
		t.Errorf("Expected back-to-back shifts not to overlap")
	}
}

func TestOverlap_Overnight(t *testing.T) {
	// 22:00-02:00 and 01:00-05:00 on the following day
	nightStart, nightEnd := at(4, 22), at(5, 2)
	earlyStart, earlyEnd := at(5, 1), at(5, 5)

	if !Overlap(nightStart, nightEnd, earlyStart, earlyEnd) {
		t.Errorf("Expected overnight shift to overlap early shift")
	}
	if !Overlap(earlyStart, earlyEnd, nightStart, nightEnd) {
		t.Errorf("Expected overlap to be symmetric")
	}
}

func TestDurationHours_Overnight(t *testing.T) {
	if got := DurationHours(at(4, 22), at(5, 6)); got != 8.0 {
		t.Errorf("Expected 8.0 hours, got %f", got)
	}
}

func TestRestGapHours(t *testing.T) {
	cases := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd time.Time
		want                       float64
	}{
		{"later second", at(4, 8), at(4, 12), at(4, 14), at(4, 18), 2},
		{"later first", at(4, 14), at(4, 18), at(4, 8), at(4, 12), 2},
		{"overlap", at(4, 8), at(4, 12), at(4, 10), at(4, 14), -2},
		{"overnight", at(4, 22), at(5, 6), at(5, 14), at(5, 22), 8},
	}
	for _, tc := range cases {
		if got := RestGapHours(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd); got != tc.want {
			t.Errorf("%s: expected %f, got %f", tc.name, tc.want, got)
		}
	}
}

func TestLongestStreak(t *testing.T) {
	dates := []time.Time{at(7, 9), at(4, 9), at(5, 18), at(5, 8), at(6, 9), at(10, 9), at(11, 9)}
	if got := LongestStreak(dates); got != 4 {
		t.Errorf("Expected streak of 4, got %d", got)
	}
	if got := LongestStreak(nil); got != 0 {
		t.Errorf("Expected 0 for no dates, got %d", got)
	}
}

func TestDateInRange(t *testing.T) {
	if !DateInRange(at(5, 23), at(5, 0), at(5, 0)) {
		t.Errorf("Expected late evening to be inside a single-day range")
	}
	if DateInRange(at(6, 1), at(4, 0), at(5, 0)) {
		t.Errorf("Expected next day to be outside the range")
	}
}

func TestFairnessScore(t *testing.T) {
	if got := FairnessScore([]float64{8, 8, 8}); got != 100.0 {
		t.Errorf("Expected 100 for equal loads, got %f", got)
	}
	if got := FairnessScore([]float64{0, 0}); got != 100.0 {
		t.Errorf("Expected 100 for zero loads, got %f", got)
	}
	if got := FairnessScore([]float64{16, 0}); got != 0.0 {
		t.Errorf("Expected 0 when stddev equals mean, got %f", got)
	}
}
