// Package scheduler holds the interval arithmetic shared by the data builder
// and the constraint validator. All checks work on absolute timestamps, so a
// shift that crosses midnight needs no special casing.
package scheduler

import (
	"math"
	"sort"
	"time"
)

// DurationHours calculates the duration between two times in hours
func DurationHours(start, end time.Time) float64 {
	return end.Sub(start).Hours()
}

// Overlap checks if two time ranges overlap
func Overlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// RestGapHours returns the hours between the end of the earlier range and the
// start of the later one. The result is negative when the ranges overlap.
func RestGapHours(aStart, aEnd, bStart, bEnd time.Time) float64 {
	if !bStart.Before(aStart) {
		return bStart.Sub(aEnd).Hours()
	}
	return aStart.Sub(bEnd).Hours()
}

// CalendarDate truncates t to midnight UTC of its calendar day
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateInRange reports whether the calendar day of t lies within [from, to]
func DateInRange(t, from, to time.Time) bool {
	day := CalendarDate(t)
	return !day.Before(CalendarDate(from)) && !day.After(CalendarDate(to))
}

// LongestStreak returns the longest run of consecutive calendar dates among dates.
// Duplicates count once.
func LongestStreak(dates []time.Time) int {
	if len(dates) == 0 {
		return 0
	}

	seen := make(map[time.Time]struct{}, len(dates))
	unique := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		day := CalendarDate(d)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		unique = append(unique, day)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Before(unique[j]) })

	longest, current := 1, 1
	for i := 1; i < len(unique); i++ {
		if unique[i].Sub(unique[i-1]) == 24*time.Hour {
			current++
		} else {
			current = 1
		}
		if current > longest {
			longest = current
		}
	}
	return longest
}

// FairnessScore returns a percentage (0-100) representing how evenly load is
// distributed. 100% is perfectly fair (Standard Deviation = 0).
func FairnessScore(loads []float64) float64 {
	if len(loads) == 0 {
		return 100.0
	}

	var sum float64
	for _, v := range loads {
		sum += v
	}
	if sum == 0 {
		return 100.0 // Everyone having 0 hours is perfectly fair
	}

	mean := sum / float64(len(loads))

	var varianceSum float64
	for _, v := range loads {
		diff := v - mean
		varianceSum += diff * diff
	}
	stdDev := math.Sqrt(varianceSum / float64(len(loads)))

	// 100% means SD is 0. 0% means SD is >= mean.
	score := (1.0 - (stdDev / mean)) * 100.0
	if score < 0 {
		return 0.0
	}
	return score
}
