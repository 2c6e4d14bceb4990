package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Participant binds a user to an exam through a single-use access code.
type Participant struct {
	ID         uuid.UUID `json:"id"`
	ExamID     uuid.UUID `json:"exam_id"`
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	AccessCode string    `json:"-"`
	IsUsed     bool      `json:"is_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// NormalizeAccessCode trims and upper-cases an access code so lookups are
// case-insensitive.
func NormalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
