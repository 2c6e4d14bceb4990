package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates the attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusNotStarted AttemptStatus = "NOT_STARTED"
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
	AttemptStatusExpired    AttemptStatus = "EXPIRED"
	AttemptStatusAbandoned  AttemptStatus = "ABANDONED"
)

// IsFinal reports whether the attempt has been scored and closed.
func (s AttemptStatus) IsFinal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusExpired
}

// Answer is one recorded answer. Value is the JSON-decoded payload: a single
// token (string or number) or a list of tokens.
type Answer struct {
	Value      any       `json:"value"`
	AnsweredAt time.Time `json:"answered_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Attempt is one participant's timed run through one exam.
//
// QuestionOrder holds indices into the exam's canonical question list.
// CurrentQuestionIndex and AnsweredQuestions are positions within
// QuestionOrder, not question indices. Version is bumped on every write
// that changes state and guards updates against lost writes.
type Attempt struct {
	ID                   uuid.UUID         `json:"id"`
	ExamID               uuid.UUID         `json:"exam_id"`
	ParticipantID        uuid.UUID         `json:"participant_id"`
	UserID               string            `json:"user_id"`
	Status               AttemptStatus     `json:"status"`
	QuestionOrder        []int             `json:"question_order"`
	CurrentQuestionIndex int               `json:"current_question_index"`
	AnsweredQuestions    []int             `json:"answered_questions"`
	Answers              map[string]Answer `json:"answers"`
	StartedAt            *time.Time        `json:"started_at,omitempty"`
	LastActivityAt       *time.Time        `json:"last_activity_at,omitempty"`
	SubmittedAt          *time.Time        `json:"submitted_at,omitempty"`
	TimeRemaining        int               `json:"time_remaining"`
	Score                *int              `json:"score,omitempty"`
	MaxScore             *int              `json:"max_score,omitempty"`
	Percentage           *int              `json:"percentage,omitempty"`
	Passed               *bool             `json:"passed,omitempty"`
	Version              int64             `json:"version"`
	CreatedAt            time.Time         `json:"created_at"`
}

// LastAnswered returns the highest answered position.
func (a *Attempt) LastAnswered() (int, bool) {
	if len(a.AnsweredQuestions) == 0 {
		return 0, false
	}
	last := a.AnsweredQuestions[0]
	for _, p := range a.AnsweredQuestions[1:] {
		if p > last {
			last = p
		}
	}
	return last, true
}

// WithAnsweredPosition returns the answered set with pos added, sorted and
// without duplicates. The receiver is not modified.
func (a *Attempt) WithAnsweredPosition(pos int) []int {
	out := make([]int, 0, len(a.AnsweredQuestions)+1)
	seen := false
	for _, p := range a.AnsweredQuestions {
		if p == pos {
			seen = true
		}
		out = append(out, p)
	}
	if !seen {
		out = append(out, pos)
	}
	sort.Ints(out)
	return out
}

// AttemptPatch is a partial update of an attempt. Nil fields are left as is.
type AttemptPatch struct {
	Status               *AttemptStatus
	CurrentQuestionIndex *int
	StartedAt            *time.Time
	LastActivityAt       *time.Time
	SubmittedAt          *time.Time
	TimeRemaining        *int
	Score                *int
	MaxScore             *int
	Percentage           *int
	Passed               *bool
}

// Apply copies the set fields of p onto a.
func (p AttemptPatch) Apply(a *Attempt) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.CurrentQuestionIndex != nil {
		a.CurrentQuestionIndex = *p.CurrentQuestionIndex
	}
	if p.StartedAt != nil {
		a.StartedAt = p.StartedAt
	}
	if p.LastActivityAt != nil {
		a.LastActivityAt = p.LastActivityAt
	}
	if p.SubmittedAt != nil {
		a.SubmittedAt = p.SubmittedAt
	}
	if p.TimeRemaining != nil {
		a.TimeRemaining = *p.TimeRemaining
	}
	if p.Score != nil {
		a.Score = p.Score
	}
	if p.MaxScore != nil {
		a.MaxScore = p.MaxScore
	}
	if p.Percentage != nil {
		a.Percentage = p.Percentage
	}
	if p.Passed != nil {
		a.Passed = p.Passed
	}
}

// ExamResult is the reporting row written once an attempt is finalized.
type ExamResult struct {
	AttemptID  uuid.UUID     `json:"attempt_id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	UserID     string        `json:"user_id"`
	Status     AttemptStatus `json:"status"`
	Score      int           `json:"score"`
	MaxScore   int           `json:"max_score"`
	Percentage int           `json:"percentage"`
	Passed     bool          `json:"passed"`
	FinishedAt time.Time     `json:"finished_at"`
}

// AttemptEventType names a lifecycle transition broadcast to monitors.
type AttemptEventType string

const (
	AttemptEventStarted   AttemptEventType = "attempt_started"
	AttemptEventAnswered  AttemptEventType = "answer_recorded"
	AttemptEventSubmitted AttemptEventType = "attempt_submitted"
	AttemptEventExpired   AttemptEventType = "attempt_expired"
	AttemptEventAbandoned AttemptEventType = "attempt_abandoned"
)

// AttemptEvent is published on every attempt state change.
type AttemptEvent struct {
	Type           AttemptEventType `json:"type"`
	AttemptID      uuid.UUID        `json:"attempt_id"`
	ExamID         uuid.UUID        `json:"exam_id"`
	UserID         string           `json:"user_id"`
	AnsweredCount  int              `json:"answered_count"`
	TotalQuestions int              `json:"total_questions"`
	OccurredAt     time.Time        `json:"occurred_at"`
	Result         *ExamResult      `json:"result,omitempty"`
}

// StartAttemptRequest is the payload for redeeming an access code.
type StartAttemptRequest struct {
	AccessCode string `json:"access_code" binding:"required,min=4,max=64,access_code"`
}

// SubmitAnswerRequest is the payload for answering the current question.
// Answer is not bound with "required" because 0 is a valid index answer.
type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Answer     any    `json:"answer"`
}
