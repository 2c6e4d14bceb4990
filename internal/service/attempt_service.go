package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/question"
)

// AttemptService drives an attempt through its lifecycle: start, fetch-next,
// answer, submit and lazy expiry. There is no background timer; remaining
// time is recomputed from started_at on every call.
type AttemptService struct {
	exams        ExamStore
	questions    QuestionStore
	participants ParticipantStore
	attempts     AttemptStore
	registry     *question.Registry
	notifier     AttemptNotifier
	log          zerolog.Logger

	now     func() time.Time
	shuffle func(n int) []int
}

// AttemptOption customizes an AttemptService.
type AttemptOption func(*AttemptService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AttemptOption {
	return func(s *AttemptService) { s.now = now }
}

// WithShuffler replaces the permutation used for randomized exams.
func WithShuffler(shuffle func(n int) []int) AttemptOption {
	return func(s *AttemptService) { s.shuffle = shuffle }
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	exams ExamStore,
	questions QuestionStore,
	participants ParticipantStore,
	attempts AttemptStore,
	registry *question.Registry,
	notifier AttemptNotifier,
	log zerolog.Logger,
	opts ...AttemptOption,
) *AttemptService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	s := &AttemptService{
		exams:        exams,
		questions:    questions,
		participants: participants,
		attempts:     attempts,
		registry:     registry,
		notifier:     notifier,
		log:          log.With().Str("component", "attempt_service").Logger(),
		now:          time.Now,
		shuffle:      rand.Perm,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartResult is returned by StartExam.
type StartResult struct {
	Attempt        *model.Attempt `json:"attempt"`
	TotalQuestions int            `json:"total_questions"`
	TimeRemaining  int            `json:"time_remaining"`
	Resumed        bool           `json:"resumed"`
}

// NextQuestion is a question served to a participant.
type NextQuestion struct {
	AttemptID      uuid.UUID          `json:"attempt_id"`
	QuestionNumber int                `json:"question_number"`
	TotalQuestions int                `json:"total_questions"`
	AnsweredCount  int                `json:"answered_count"`
	TimeRemaining  int                `json:"time_remaining"`
	Question       model.QuestionView `json:"question"`
}

// AnswerReceipt acknowledges a recorded answer.
type AnswerReceipt struct {
	AttemptID      uuid.UUID `json:"attempt_id"`
	QuestionID     string    `json:"question_id"`
	QuestionNumber int       `json:"question_number"`
	AnsweredCount  int       `json:"answered_count"`
	TotalQuestions int       `json:"total_questions"`
	TimeRemaining  int       `json:"time_remaining"`
	AllAnswered    bool      `json:"all_answered"`
}

// AttemptResult is the participant's view of an attempt and, once it is
// final, its score.
type AttemptResult struct {
	AttemptID      uuid.UUID           `json:"attempt_id"`
	ExamID         uuid.UUID           `json:"exam_id"`
	ExamTitle      string              `json:"exam_title"`
	Status         model.AttemptStatus `json:"status"`
	AnsweredCount  int                 `json:"answered_count"`
	TotalQuestions int                 `json:"total_questions"`
	TimeRemaining  int                 `json:"time_remaining"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	SubmittedAt    *time.Time          `json:"submitted_at,omitempty"`
	Score          *int                `json:"score,omitempty"`
	MaxScore       *int                `json:"max_score,omitempty"`
	Percentage     *int                `json:"percentage,omitempty"`
	Passed         *bool               `json:"passed,omitempty"`
	PassPercentage int                 `json:"pass_percentage"`
	Breakdown      []QuestionScore     `json:"breakdown,omitempty"`
}

// ─── Start ──────────────────────────────────────────────────────────

// StartExam redeems an access code for userID. An attempt that is already
// IN_PROGRESS is returned as is, without consuming the code again.
func (s *AttemptService) StartExam(ctx context.Context, accessCode, userID string) (*StartResult, error) {
	now := s.now()

	participant, err := s.participants.FindByAccessCode(ctx, model.NormalizeAccessCode(accessCode))
	if err != nil {
		return nil, s.storeErr("find participant", err)
	}
	if participant.UserID != userID {
		return nil, apperr.Forbidden("access code belongs to another user")
	}

	exam, err := s.exams.FindByID(ctx, participant.ExamID)
	if err != nil {
		return nil, s.storeErr("find exam", err)
	}
	if !exam.IsAvailableAt(now) {
		return nil, apperr.BadRequest("exam is not available at this time")
	}

	existing, err := s.attempts.FindByExamAndUser(ctx, exam.ID, userID)
	switch {
	case err == nil:
		return s.resume(ctx, existing, exam, participant)
	case !apperr.IsKind(err, apperr.KindNotFound):
		return nil, s.storeErr("find existing attempt", err)
	}

	if participant.IsUsed {
		return nil, apperr.BadRequest("access code has already been used")
	}

	questions, err := s.questions.FindByExamID(ctx, exam.ID)
	if err != nil {
		return nil, s.storeErr("list questions", err)
	}
	if len(questions) == 0 {
		return nil, apperr.BadRequest("exam has no questions")
	}

	attempt := &model.Attempt{
		ID:                uuid.New(),
		ExamID:            exam.ID,
		ParticipantID:     participant.ID,
		UserID:            userID,
		Status:            model.AttemptStatusNotStarted,
		QuestionOrder:     s.questionOrder(len(questions), exam.RandomizeQuestions),
		AnsweredQuestions: []int{},
		Answers:           map[string]model.Answer{},
		Version:           1,
		CreatedAt:         now,
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			// Lost a race against a concurrent start for the same pair.
			existing, fetchErr := s.attempts.FindByExamAndUser(ctx, exam.ID, userID)
			if fetchErr != nil {
				return nil, s.storeErr("fetch concurrently created attempt", fetchErr)
			}
			return s.resume(ctx, existing, exam, participant)
		}
		return nil, s.storeErr("create attempt", err)
	}

	if err := s.participants.MarkUsed(ctx, participant.ID); err != nil {
		return nil, s.storeErr("mark access code used", err)
	}

	return s.activate(ctx, attempt, exam, false)
}

func (s *AttemptService) resume(ctx context.Context, a *model.Attempt, exam *model.Exam, p *model.Participant) (*StartResult, error) {
	switch a.Status {
	case model.AttemptStatusInProgress:
		if a.StartedAt == nil {
			return nil, apperr.Internal("in-progress attempt has no start time", nil)
		}
		return &StartResult{
			Attempt:        a,
			TotalQuestions: len(a.QuestionOrder),
			TimeRemaining:  RemainingSeconds(*a.StartedAt, exam.DurationMinutes, s.now()),
			Resumed:        true,
		}, nil
	case model.AttemptStatusNotStarted:
		// Created but never activated, e.g. the process stopped in between.
		if !p.IsUsed {
			if err := s.participants.MarkUsed(ctx, p.ID); err != nil {
				return nil, s.storeErr("mark access code used", err)
			}
		}
		return s.activate(ctx, a, exam, true)
	case model.AttemptStatusAbandoned:
		return nil, apperr.BadRequest("this attempt was abandoned and cannot be resumed")
	default:
		return nil, apperr.BadRequest("exam already completed")
	}
}

func (s *AttemptService) activate(ctx context.Context, a *model.Attempt, exam *model.Exam, resumed bool) (*StartResult, error) {
	now := s.now()
	status := model.AttemptStatusInProgress
	remaining := exam.DurationMinutes * 60

	updated, err := s.attempts.UpdateByID(ctx, a.ID, a.Version, model.AttemptPatch{
		Status:         &status,
		StartedAt:      &now,
		LastActivityAt: &now,
		TimeRemaining:  &remaining,
	})
	if err != nil {
		return nil, s.storeErr("activate attempt", err)
	}

	s.log.Info().
		Str("attempt_id", updated.ID.String()).
		Str("exam_id", updated.ExamID.String()).
		Str("user_id", updated.UserID).
		Int("questions", len(updated.QuestionOrder)).
		Msg("Attempt started")
	s.publish(ctx, updated, model.AttemptEventStarted, nil)

	return &StartResult{
		Attempt:        updated,
		TotalQuestions: len(updated.QuestionOrder),
		TimeRemaining:  remaining,
		Resumed:        resumed,
	}, nil
}

func (s *AttemptService) questionOrder(n int, randomize bool) []int {
	if randomize {
		return s.shuffle(n)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// ─── Delivery ───────────────────────────────────────────────────────

// GetNextQuestion serves the question the participant may work on now.
// Calling it again before answering returns the same question.
func (s *AttemptService) GetNextQuestion(ctx context.Context, attemptID uuid.UUID, userID string) (*NextQuestion, error) {
	a, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if err := requireInProgress(a); err != nil {
		return nil, err
	}

	exam, questions, err := s.loadExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	remaining, err := s.checkTime(ctx, a, exam, questions)
	if err != nil {
		return nil, err
	}

	next, err := ResolveNext(a)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if next.Advance {
		a, err = s.attempts.UpdateByID(ctx, a.ID, a.Version, model.AttemptPatch{
			CurrentQuestionIndex: &next.Position,
			LastActivityAt:       &now,
		})
		if err != nil {
			return nil, s.storeErr("advance attempt", err)
		}
	} else if err := s.attempts.UpdateActivity(ctx, a.ID, now); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to record activity")
	}

	q, err := questionAt(a, questions, next.Position)
	if err != nil {
		return nil, err
	}
	strategy, err := s.registry.Get(q.Type)
	if err != nil {
		return nil, err
	}

	return &NextQuestion{
		AttemptID:      a.ID,
		QuestionNumber: next.Position + 1,
		TotalQuestions: len(a.QuestionOrder),
		AnsweredCount:  len(a.AnsweredQuestions),
		TimeRemaining:  remaining,
		Question:       strategy.Render(*q),
	}, nil
}

// SubmitAnswer records answer for the question at the attempt's current
// position. Answering the same question again before moving on replaces
// the earlier answer.
func (s *AttemptService) SubmitAnswer(ctx context.Context, attemptID uuid.UUID, userID, questionID string, answer any) (*AnswerReceipt, error) {
	a, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if err := requireInProgress(a); err != nil {
		return nil, err
	}

	exam, questions, err := s.loadExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	remaining, err := s.checkTime(ctx, a, exam, questions)
	if err != nil {
		return nil, err
	}

	q, err := CheckAnswerTarget(a, questions, questionID)
	if err != nil {
		return nil, err
	}
	strategy, err := s.registry.Get(q.Type)
	if err != nil {
		return nil, err
	}
	if !strategy.ValidateAnswerFormat(answer) {
		return nil, apperr.BadRequest("invalid answer format for a %s question", q.Type)
	}

	now := s.now()
	key := q.ID.String()
	recorded := model.Answer{Value: answer, AnsweredAt: now, UpdatedAt: now}
	if prev, ok := a.Answers[key]; ok {
		recorded.AnsweredAt = prev.AnsweredAt
	}

	position := a.CurrentQuestionIndex
	updated, err := s.attempts.UpdateAnswer(ctx, a.ID, a.Version, key, recorded, a.WithAnsweredPosition(position), now)
	if err != nil {
		return nil, s.storeErr("record answer", err)
	}

	s.log.Debug().
		Str("attempt_id", updated.ID.String()).
		Int("position", position).
		Msg("Answer recorded")
	s.publish(ctx, updated, model.AttemptEventAnswered, nil)

	total := len(updated.QuestionOrder)
	return &AnswerReceipt{
		AttemptID:      updated.ID,
		QuestionID:     key,
		QuestionNumber: position + 1,
		AnsweredCount:  len(updated.AnsweredQuestions),
		TotalQuestions: total,
		TimeRemaining:  remaining,
		AllAnswered:    len(updated.AnsweredQuestions) >= total,
	}, nil
}

// ─── Finalization ───────────────────────────────────────────────────

// SubmitExam scores and closes an attempt. It is not idempotent: a second
// call fails because the attempt is no longer in progress.
func (s *AttemptService) SubmitExam(ctx context.Context, attemptID uuid.UUID, userID string) (*AttemptResult, error) {
	a, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if a.Status == model.AttemptStatusSubmitted {
		return nil, apperr.BadRequest("exam already submitted")
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, apperr.BadRequest("attempt is not in progress (status %s)", a.Status)
	}

	exam, questions, err := s.loadExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}

	total := len(a.QuestionOrder)
	if len(a.AnsweredQuestions) != total {
		return nil, apperr.BadRequest("Please answer all questions before submitting (%d of %d answered)", len(a.AnsweredQuestions), total)
	}

	if a.StartedAt == nil {
		return nil, apperr.Internal("in-progress attempt has no start time", nil)
	}
	raw := RawRemaining(*a.StartedAt, exam.DurationMinutes, s.now())
	if raw < 0 {
		return nil, apperr.BadRequest("time expired")
	}

	updated, score, err := s.finalize(ctx, a, exam, questions, model.AttemptStatusSubmitted, raw)
	if err != nil {
		return nil, err
	}
	return s.buildResult(updated, exam, &score, 0), nil
}

// checkTime returns the clamped remaining seconds. When none are left the
// attempt is scored and expired, and the caller gets "time expired" instead
// of what it asked for.
func (s *AttemptService) checkTime(ctx context.Context, a *model.Attempt, exam *model.Exam, questions []model.Question) (int, error) {
	if a.StartedAt == nil {
		return 0, apperr.Internal("in-progress attempt has no start time", nil)
	}
	remaining := RemainingSeconds(*a.StartedAt, exam.DurationMinutes, s.now())
	if remaining > 0 {
		return remaining, nil
	}

	if _, _, err := s.finalize(ctx, a, exam, questions, model.AttemptStatusExpired, 0); err != nil {
		if !errors.Is(err, apperr.ErrStaleVersion) {
			return 0, err
		}
		// Another request changed the attempt first; the next call expires it.
		s.log.Warn().Str("attempt_id", a.ID.String()).Msg("Auto-expire lost a concurrent write")
	}
	return 0, apperr.BadRequest("time expired")
}

func (s *AttemptService) finalize(ctx context.Context, a *model.Attempt, exam *model.Exam, questions []model.Question, status model.AttemptStatus, remaining int) (*model.Attempt, ScoreResult, error) {
	now := s.now()
	score := Score(s.registry, questions, a.Answers, exam.PassPercentage)

	updated, err := s.attempts.UpdateByID(ctx, a.ID, a.Version, model.AttemptPatch{
		Status:         &status,
		SubmittedAt:    &now,
		LastActivityAt: &now,
		TimeRemaining:  &remaining,
		Score:          &score.Score,
		MaxScore:       &score.MaxScore,
		Percentage:     &score.Percentage,
		Passed:         &score.Passed,
	})
	if err != nil {
		return nil, ScoreResult{}, s.storeErr("finalize attempt", err)
	}

	s.log.Info().
		Str("attempt_id", updated.ID.String()).
		Str("status", string(status)).
		Int("score", score.Score).
		Int("max_score", score.MaxScore).
		Int("percentage", score.Percentage).
		Msg("Attempt finalized")

	result := model.ExamResult{
		AttemptID:  updated.ID,
		ExamID:     updated.ExamID,
		UserID:     updated.UserID,
		Status:     status,
		Score:      score.Score,
		MaxScore:   score.MaxScore,
		Percentage: score.Percentage,
		Passed:     score.Passed,
		FinishedAt: now,
	}
	if err := s.notifier.EnqueueResult(ctx, result); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", updated.ID.String()).Msg("Failed to enqueue result")
	}

	eventType := model.AttemptEventSubmitted
	if status == model.AttemptStatusExpired {
		eventType = model.AttemptEventExpired
	}
	s.publish(ctx, updated, eventType, &result)

	return updated, score, nil
}

// ─── Reads ──────────────────────────────────────────────────────────

// GetAttemptResults reports an attempt's progress, or its score once final.
// It never mutates the attempt; for an in-progress attempt the remaining
// time is recomputed rather than read from storage.
func (s *AttemptService) GetAttemptResults(ctx context.Context, attemptID uuid.UUID, userID string) (*AttemptResult, error) {
	a, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	exam, questions, err := s.loadExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}

	remaining := a.TimeRemaining
	if a.Status == model.AttemptStatusInProgress && a.StartedAt != nil {
		remaining = RemainingSeconds(*a.StartedAt, exam.DurationMinutes, s.now())
	}

	var score *ScoreResult
	if a.Status.IsFinal() {
		sr := Score(s.registry, questions, a.Answers, exam.PassPercentage)
		score = &sr
	}
	return s.buildResult(a, exam, score, remaining), nil
}

// ListMyAttempts returns every attempt owned by userID.
func (s *AttemptService) ListMyAttempts(ctx context.Context, userID string) ([]AttemptResult, error) {
	attempts, err := s.attempts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, s.storeErr("list attempts", err)
	}

	exams := make(map[uuid.UUID]*model.Exam)
	out := make([]AttemptResult, 0, len(attempts))
	for i := range attempts {
		a := &attempts[i]

		exam, ok := exams[a.ExamID]
		if !ok {
			exam, err = s.exams.FindByID(ctx, a.ExamID)
			if err != nil {
				return nil, s.storeErr("find exam", err)
			}
			exams[a.ExamID] = exam
		}

		remaining := a.TimeRemaining
		if a.Status == model.AttemptStatusInProgress && a.StartedAt != nil {
			remaining = RemainingSeconds(*a.StartedAt, exam.DurationMinutes, s.now())
		}
		out = append(out, *s.buildResult(a, exam, nil, remaining))
	}
	return out, nil
}

// ─── Administration ─────────────────────────────────────────────────

// Abandon closes an in-progress attempt without scoring it. Every later
// participant operation on it is refused.
func (s *AttemptService) Abandon(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, s.storeErr("find attempt", err)
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, apperr.BadRequest("only in-progress attempts can be abandoned (status %s)", a.Status)
	}

	now := s.now()
	status := model.AttemptStatusAbandoned
	updated, err := s.attempts.UpdateByID(ctx, a.ID, a.Version, model.AttemptPatch{
		Status:         &status,
		LastActivityAt: &now,
	})
	if err != nil {
		return nil, s.storeErr("abandon attempt", err)
	}

	s.log.Info().Str("attempt_id", updated.ID.String()).Msg("Attempt abandoned")
	s.publish(ctx, updated, model.AttemptEventAbandoned, nil)
	return updated, nil
}

// ─── Helpers ────────────────────────────────────────────────────────

// loadOwned fetches an attempt and enforces ownership before anything else
// is checked.
func (s *AttemptService) loadOwned(ctx context.Context, attemptID uuid.UUID, userID string) (*model.Attempt, error) {
	a, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, s.storeErr("find attempt", err)
	}
	if a.UserID != userID {
		return nil, apperr.Forbidden("this attempt belongs to another user")
	}
	return a, nil
}

func (s *AttemptService) loadExam(ctx context.Context, examID uuid.UUID) (*model.Exam, []model.Question, error) {
	exam, err := s.exams.FindByID(ctx, examID)
	if err != nil {
		return nil, nil, s.storeErr("find exam", err)
	}
	questions, err := s.questions.FindByExamID(ctx, examID)
	if err != nil {
		return nil, nil, s.storeErr("list questions", err)
	}
	return exam, questions, nil
}

func (s *AttemptService) buildResult(a *model.Attempt, exam *model.Exam, score *ScoreResult, remaining int) *AttemptResult {
	res := &AttemptResult{
		AttemptID:      a.ID,
		ExamID:         a.ExamID,
		ExamTitle:      exam.Title,
		Status:         a.Status,
		AnsweredCount:  len(a.AnsweredQuestions),
		TotalQuestions: len(a.QuestionOrder),
		TimeRemaining:  remaining,
		StartedAt:      a.StartedAt,
		SubmittedAt:    a.SubmittedAt,
		Score:          a.Score,
		MaxScore:       a.MaxScore,
		Percentage:     a.Percentage,
		Passed:         a.Passed,
		PassPercentage: exam.PassPercentage,
	}
	if score != nil {
		res.Breakdown = score.Breakdown
	}
	return res
}

func (s *AttemptService) publish(ctx context.Context, a *model.Attempt, t model.AttemptEventType, result *model.ExamResult) {
	ev := model.AttemptEvent{
		Type:           t,
		AttemptID:      a.ID,
		ExamID:         a.ExamID,
		UserID:         a.UserID,
		AnsweredCount:  len(a.AnsweredQuestions),
		TotalQuestions: len(a.QuestionOrder),
		OccurredAt:     s.now(),
		Result:         result,
	}
	if err := s.notifier.PublishEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Str("event", string(t)).Msg("Failed to publish attempt event")
	}
}

// storeErr passes engine errors through and wraps anything else as Internal.
func (s *AttemptService) storeErr(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	s.log.Error().Err(err).Str("op", op).Msg("Store failure")
	return apperr.Internal(op, err)
}

func requireInProgress(a *model.Attempt) error {
	switch a.Status {
	case model.AttemptStatusInProgress:
		return nil
	case model.AttemptStatusSubmitted:
		return apperr.BadRequest("exam already submitted")
	case model.AttemptStatusExpired:
		return apperr.BadRequest("time expired")
	case model.AttemptStatusAbandoned:
		return apperr.BadRequest("this attempt was abandoned")
	default:
		return apperr.BadRequest("attempt has not started")
	}
}
