package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// ─── Exams ──────────────────────────────────────────────────────────

type ExamStore struct {
	mu    sync.RWMutex
	exams map[uuid.UUID]model.Exam
}

func NewExamStore() *ExamStore {
	return &ExamStore{exams: make(map[uuid.UUID]model.Exam)}
}

func (s *ExamStore) Put(e model.Exam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[e.ID] = e
}

func (s *ExamStore) FindByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.exams[id]
	if !ok {
		return nil, apperr.NotFound("exam not found")
	}
	return &e, nil
}

// ─── Questions ──────────────────────────────────────────────────────

type QuestionStore struct {
	mu     sync.RWMutex
	byExam map[uuid.UUID][]model.Question
}

func NewQuestionStore() *QuestionStore {
	return &QuestionStore{byExam: make(map[uuid.UUID][]model.Question)}
}

// Put stores q as is, keeping each exam's list in canonical order.
func (s *QuestionStore) Put(q model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := append(s.byExam[q.ExamID], q)
	sortQuestions(qs)
	s.byExam[q.ExamID] = qs
}

// Create fails with apperr.ErrOrderTaken when the exam already has a
// question at q.Order.
func (s *QuestionStore) Create(_ context.Context, q *model.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byExam[q.ExamID] {
		if existing.Order == q.Order {
			return apperr.ErrOrderTaken
		}
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	qs := append(s.byExam[q.ExamID], *q)
	sortQuestions(qs)
	s.byExam[q.ExamID] = qs
	return nil
}

func (s *QuestionStore) FindByExamID(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.byExam[examID]), nil
}

func (s *QuestionStore) CountByExamID(_ context.Context, examID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byExam[examID]), nil
}

// ─── Participants ───────────────────────────────────────────────────

type ParticipantStore struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*model.Participant
	byDigest map[string]uuid.UUID
}

func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{
		byID:     make(map[uuid.UUID]*model.Participant),
		byDigest: make(map[string]uuid.UUID),
	}
}

// Put registers p under the digest of its access code.
func (s *ParticipantStore) Put(p model.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	digest := repository.AccessCodeDigest(p.AccessCode)
	p.AccessCode = digest
	s.byID[p.ID] = &p
	s.byDigest[digest] = p.ID
}

func (s *ParticipantStore) FindByAccessCode(_ context.Context, code string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDigest[repository.AccessCodeDigest(code)]
	if !ok {
		return nil, apperr.NotFound("access code not found")
	}
	p := *s.byID[id]
	return &p, nil
}

func (s *ParticipantStore) MarkUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return apperr.NotFound("participant not found")
	}
	p.IsUsed = true
	return nil
}

// ─── Attempts ───────────────────────────────────────────────────────

type attemptKey struct {
	examID uuid.UUID
	userID string
}

// AttemptStore keeps attempts as private copies; callers never share memory
// with the stored value.
type AttemptStore struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*model.Attempt
	byExamID map[attemptKey]uuid.UUID
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		byID:     make(map[uuid.UUID]*model.Attempt),
		byExamID: make(map[attemptKey]uuid.UUID),
	}
}

func (s *AttemptStore) Create(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{a.ExamID, a.UserID}
	if _, ok := s.byExamID[key]; ok {
		return apperr.ErrAlreadyExists
	}
	if a.Version == 0 {
		a.Version = 1
	}
	s.byID[a.ID] = cloneAttempt(a)
	s.byExamID[key] = a.ID
	return nil
}

func (s *AttemptStore) FindByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFound("attempt not found")
	}
	return cloneAttempt(a), nil
}

func (s *AttemptStore) FindByExamAndUser(_ context.Context, examID uuid.UUID, userID string) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExamID[attemptKey{examID, userID}]
	if !ok {
		return nil, apperr.NotFound("attempt not found")
	}
	return cloneAttempt(s.byID[id]), nil
}

func (s *AttemptStore) FindByUserID(_ context.Context, userID string) ([]model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Attempt{}
	for _, a := range s.byID {
		if a.UserID == userID {
			out = append(out, *cloneAttempt(a))
		}
	}
	slices.SortFunc(out, func(a, b model.Attempt) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *AttemptStore) UpdateByID(_ context.Context, id uuid.UUID, version int64, patch model.AttemptPatch) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.lockedForWrite(id, version)
	if err != nil {
		return nil, err
	}
	patch.Apply(a)
	a.Version++
	return cloneAttempt(a), nil
}

func (s *AttemptStore) UpdateAnswer(_ context.Context, id uuid.UUID, version int64, questionID string, answer model.Answer, answered []int, at time.Time) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.lockedForWrite(id, version)
	if err != nil {
		return nil, err
	}
	if a.Answers == nil {
		a.Answers = map[string]model.Answer{}
	}
	a.Answers[questionID] = answer
	a.AnsweredQuestions = slices.Clone(answered)
	a.LastActivityAt = &at
	a.Version++
	return cloneAttempt(a), nil
}

func (s *AttemptStore) UpdateActivity(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return apperr.NotFound("attempt not found")
	}
	a.LastActivityAt = &at
	return nil
}

func (s *AttemptStore) lockedForWrite(id uuid.UUID, version int64) (*model.Attempt, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFound("attempt not found")
	}
	if a.Version != version {
		return nil, apperr.ErrStaleVersion
	}
	return a, nil
}

// ─── Results ────────────────────────────────────────────────────────

// ResultStore is the in-memory sink for finalized results.
type ResultStore struct {
	mu      sync.RWMutex
	results map[uuid.UUID]model.ExamResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[uuid.UUID]model.ExamResult)}
}

// UpsertResults keeps the latest row per attempt.
func (s *ResultStore) UpsertResults(_ context.Context, results []model.ExamResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		s.results[r.AttemptID] = r
	}
	return nil
}

// ListByExam returns results for examID ordered by percentage, highest first.
func (s *ResultStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.ExamResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.ExamResult{}
	for _, r := range s.results {
		if r.ExamID == examID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.ExamResult) int {
		if c := cmp.Compare(b.Percentage, a.Percentage); c != 0 {
			return c
		}
		return a.FinishedAt.Compare(b.FinishedAt)
	})
	return out, nil
}
