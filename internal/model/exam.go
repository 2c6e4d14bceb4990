package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam is the read-only exam definition consumed by the attempt engine.
type Exam struct {
	ID                 uuid.UUID  `json:"id"`
	Title              string     `json:"title"`
	DurationMinutes    int        `json:"duration_minutes"`
	RandomizeQuestions bool       `json:"randomize_questions"`
	PassPercentage     int        `json:"pass_percentage"`
	AvailableAnytime   bool       `json:"available_anytime"`
	AvailableFrom      *time.Time `json:"available_from,omitempty"`
	AvailableUntil     *time.Time `json:"available_until,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsAvailableAt reports whether a new attempt may be started at t.
// An open-ended bound on either side is treated as unbounded.
func (e *Exam) IsAvailableAt(t time.Time) bool {
	if e.AvailableAnytime {
		return true
	}
	if e.AvailableFrom != nil && t.Before(*e.AvailableFrom) {
		return false
	}
	if e.AvailableUntil != nil && t.After(*e.AvailableUntil) {
		return false
	}
	return true
}
