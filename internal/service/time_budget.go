package service

import (
	"math"
	"time"
)

// RawRemaining returns the unclamped seconds left in an attempt that started
// at startedAt, floored to whole seconds. It is negative once the budget is
// overrun.
func RawRemaining(startedAt time.Time, durationMinutes int, now time.Time) int {
	budget := time.Duration(durationMinutes) * time.Minute
	left := budget - now.Sub(startedAt)
	return int(math.Floor(left.Seconds()))
}

// RemainingSeconds is RawRemaining clamped at zero, the value shown to
// participants.
func RemainingSeconds(startedAt time.Time, durationMinutes int, now time.Time) int {
	return max(0, RawRemaining(startedAt, durationMinutes, now))
}
