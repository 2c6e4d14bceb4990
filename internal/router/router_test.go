package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/question"
	"github.com/stemsi/exstem-engine/internal/repository/memory"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

type testEnv struct {
	engine *gin.Engine
	stores *memory.Stores
	auth   *service.AuthService
	examID uuid.UUID
}

func newTestEnv(t *testing.T, startLimit int) *testEnv {
	t.Helper()
	validator.Setup()

	cfg := &config.Config{GinMode: gin.TestMode, JWTSecret: "router-test", JWTExpiry: time.Hour}
	log := zerolog.Nop()

	stores := memory.New()
	exam := model.Exam{ID: uuid.New(), Title: "Router", DurationMinutes: 30, PassPercentage: 50, AvailableAnytime: true}
	stores.Exams.Put(exam)
	for user, code := range map[string]string{"alice": "ALICE-01", "bob": "BOB-0001"} {
		stores.Participants.Put(model.Participant{ID: uuid.New(), ExamID: exam.ID, UserID: user, AccessCode: code})
	}

	registry := question.NewDefaultRegistry()
	auth := service.NewAuthService(cfg)
	attempts := service.NewAttemptService(stores.Exams, stores.Questions, stores.Participants, stores.Attempts, registry, nil, log)
	questions := service.NewQuestionService(stores.Exams, stores.Questions, registry, log)
	reports := service.NewReportService(stores.Exams, stores.Results)

	handlers := &Handlers{
		Auth:     handler.NewAuthHandler(),
		Attempt:  handler.NewAttemptHandler(attempts),
		Question: handler.NewQuestionHandler(questions),
		Admin:    handler.NewAdminHandler(attempts, reports),
		WS:       handler.NewWSHandler(attempts, log, nil),
		System:   handler.NewSystemHandler(nil, log),
	}

	limiter := middleware.NewRateLimiter(nil, startLimit, time.Minute, log)
	return &testEnv{
		engine: SetupRouter(auth, handlers, limiter, cfg, log),
		stores: stores,
		auth:   auth,
		examID: exam.ID,
	}
}

func (e *testEnv) token(t *testing.T, user string, role service.Role) string {
	t.Helper()
	tok, err := e.auth.GenerateToken(user, role, "")
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
	Metadata struct {
		RequestID string `json:"request_id"`
	} `json:"metadata"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (e *testEnv) addQuestions(t *testing.T) {
	t.Helper()
	admin := e.token(t, "proctor", service.RoleAdmin)
	for _, q := range []map[string]any{
		{"question_type": "SINGLE_SELECT", "question_text": "Sky?", "options": []string{"Red", "Blue"}, "correct_answer": "Blue", "points": 1},
		{"question_type": "MULTI_SELECT", "question_text": "Primary?", "options": []string{"Red", "Green", "Blue"}, "correct_answer": []int{0, 2}, "points": 1},
	} {
		w, _ := e.do(t, http.MethodPost, "/api/v1/admin/exams/"+e.examID.String()+"/questions", q, admin)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
}

type startData struct {
	Attempt struct {
		ID string `json:"id"`
	} `json:"attempt"`
	TotalQuestions int  `json:"total_questions"`
	Resumed        bool `json:"resumed"`
}

type nextData struct {
	QuestionNumber int `json:"question_number"`
	Question       struct {
		ID            string   `json:"id"`
		Type          string   `json:"question_type"`
		Options       []string `json:"options"`
		CorrectAnswer any      `json:"correct_answer"`
	} `json:"question"`
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 10)

	w, body := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body.Metadata.RequestID)
	assert.Equal(t, body.Metadata.RequestID, w.Header().Get("X-Request-ID"))

	w, _ = env.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, 10)

	w, body := env.do(t, http.MethodGet, "/api/v1/attempts", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REQUIRED", body.Error.Code)

	w, body = env.do(t, http.MethodGet, "/api/v1/attempts", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_INVALID", body.Error.Code)

	admin := env.token(t, "proctor", service.RoleAdmin)
	w, body = env.do(t, http.MethodGet, "/api/v1/attempts", nil, admin)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", body.Error.Code)

	participant := env.token(t, "alice", service.RoleParticipant)
	w, body = env.do(t, http.MethodPost, "/api/v1/admin/attempts/"+uuid.NewString()+"/abandon", nil, participant)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ADMIN_ACCESS_ONLY", body.Error.Code)

	w, body = env.do(t, http.MethodGet, "/api/v1/auth/me?token="+participant, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body.Data), `"user_id":"alice"`)
}

func TestAttemptFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t, 10)
	env.addQuestions(t)
	alice := env.token(t, "alice", service.RoleParticipant)

	w, body := env.do(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": " alice-01 "}, alice)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var start startData
	require.NoError(t, json.Unmarshal(body.Data, &start))
	assert.Equal(t, 2, start.TotalQuestions)
	base := "/api/v1/attempts/" + start.Attempt.ID

	w, _ = env.do(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": "ALICE-01"}, alice)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodGet, base+"/next", nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	var first nextData
	require.NoError(t, json.Unmarshal(body.Data, &first))
	assert.Equal(t, 1, first.QuestionNumber)
	assert.Nil(t, first.Question.CorrectAnswer)
	assert.NotContains(t, string(body.Data), "correct_answer")

	// Submitting early is refused while questions are unanswered.
	w, body = env.do(t, http.MethodPost, base+"/submit", nil, alice)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BAD_REQUEST", body.Error.Code)

	w, _ = env.do(t, http.MethodPost, base+"/answers", map[string]any{"question_id": first.Question.ID, "answer": 1}, alice)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodGet, base+"/next", nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	var second nextData
	require.NoError(t, json.Unmarshal(body.Data, &second))
	assert.Equal(t, 2, second.QuestionNumber)

	w, _ = env.do(t, http.MethodPost, base+"/answers", map[string]any{"question_id": second.Question.ID, "answer": []string{"0"}}, alice)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodPost, base+"/submit", nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Status     string `json:"status"`
		Score      *int   `json:"score"`
		Percentage *int   `json:"percentage"`
		Passed     *bool  `json:"passed"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &result))
	assert.Equal(t, "SUBMITTED", result.Status)
	require.NotNil(t, result.Percentage)
	assert.Equal(t, 50, *result.Percentage)
	require.NotNil(t, result.Passed)
	assert.True(t, *result.Passed)

	w, body = env.do(t, http.MethodGet, "/api/v1/attempts", nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body.Data), `"status":"SUBMITTED"`)

	bob := env.token(t, "bob", service.RoleParticipant)
	w, body = env.do(t, http.MethodGet, base+"/results", nil, bob)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", body.Error.Code)
}

func TestAttemptRequestErrors(t *testing.T) {
	env := newTestEnv(t, 10)
	env.addQuestions(t)
	alice := env.token(t, "alice", service.RoleParticipant)

	w, body := env.do(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": "no spaces!"}, alice)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Contains(t, body.Error.Fields, "access_code")

	w, body = env.do(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": "UNKNOWN-1"}, alice)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)

	w, body = env.do(t, http.MethodGet, "/api/v1/attempts/not-a-uuid/next", nil, alice)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ID", body.Error.Code)

	w, body = env.do(t, http.MethodPost, "/api/v1/attempts/"+uuid.NewString()+"/answers", map[string]any{"answer": 1}, alice)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, body.Error.Fields, "question_id")
}

func TestStartIsRateLimited(t *testing.T) {
	env := newTestEnv(t, 2)
	env.addQuestions(t)
	alice := env.token(t, "alice", service.RoleParticipant)

	for i := 0; i < 2; i++ {
		w, _ := env.do(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": "ALICE-01"}, alice)
		require.Less(t, w.Code, 300)
	}

	w, body := env.do(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": "ALICE-01"}, alice)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.Error.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Only attempt creation is limited.
	w, _ = env.do(t, http.MethodGet, "/api/v1/attempts", nil, alice)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, 10)
	admin := env.token(t, "proctor", service.RoleAdmin)
	examPath := "/api/v1/admin/exams/" + env.examID.String()

	w, body := env.do(t, http.MethodPost, examPath+"/questions", map[string]any{
		"question_type": "ESSAY", "question_text": "Why?", "options": []string{"a", "b"}, "correct_answer": 0, "points": 1,
	}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNSUPPORTED_QUESTION_TYPE", body.Error.Code)

	w, body = env.do(t, http.MethodPost, examPath+"/questions", map[string]any{
		"question_type": "SINGLE_SELECT", "question_text": "Dup?", "options": []string{"a", "A"}, "correct_answer": 0, "points": 1,
	}, admin)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)

	w, body = env.do(t, http.MethodGet, examPath+"/results", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, string(body.Data))

	w, body = env.do(t, http.MethodGet, "/api/v1/admin/exams/"+uuid.NewString()+"/results", nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.addQuestions(t)
	alice := env.token(t, "alice", service.RoleParticipant)
	w, body = env.do(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": "ALICE-01"}, alice)
	require.Equal(t, http.StatusCreated, w.Code)
	var start startData
	require.NoError(t, json.Unmarshal(body.Data, &start))

	w, _ = env.do(t, http.MethodPost, "/api/v1/admin/attempts/"+start.Attempt.ID+"/abandon", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/admin/attempts/"+start.Attempt.ID+"/abandon", nil, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/v1/attempts/"+start.Attempt.ID+"/next", nil, alice)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttemptFlowOverWebSocket(t *testing.T) {
	env := newTestEnv(t, 10)
	env.addQuestions(t)
	bob := env.token(t, "bob", service.RoleParticipant)

	w, body := env.do(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": "BOB-0001"}, bob)
	require.Equal(t, http.StatusCreated, w.Code)
	var start startData
	require.NoError(t, json.Unmarshal(body.Data, &start))

	srv := httptest.NewServer(env.engine)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/attempts/" + start.Attempt.ID + "/stream?token=" + bob

	// Another participant is refused before the upgrade.
	alice := env.token(t, "alice", service.RoleParticipant)
	_, resp, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/v1/attempts/"+start.Attempt.ID+"/stream?token="+alice, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	type event struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	exchange := func(req map[string]any) event {
		t.Helper()
		require.NoError(t, conn.WriteJSON(req))
		var ev event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	assert.Equal(t, "pong", exchange(map[string]any{"action": "ping"}).Event)

	ev := exchange(map[string]any{"action": "bogus"})
	assert.Equal(t, "error", ev.Event)

	// A frame that is not JSON is answered with an error and the socket
	// stays open.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var bad event
	require.NoError(t, conn.ReadJSON(&bad))
	require.Equal(t, "error", bad.Event)
	assert.Equal(t, "INVALID_PAYLOAD", bad.Error.Code)
	assert.Equal(t, "pong", exchange(map[string]any{"action": "ping"}).Event)

	ev = exchange(map[string]any{"action": "submit"})
	require.Equal(t, "error", ev.Event)
	assert.Equal(t, "BAD_REQUEST", ev.Error.Code)

	for i := 0; i < 2; i++ {
		ev = exchange(map[string]any{"action": "next"})
		require.Equal(t, "question", ev.Event)
		var next nextData
		require.NoError(t, json.Unmarshal(ev.Data, &next))

		var answer any = 1
		if next.Question.Type == "MULTI_SELECT" {
			answer = []string{"0", "2"}
		}
		ev = exchange(map[string]any{"action": "answer", "question_id": next.Question.ID, "answer": answer})
		require.Equal(t, "answered", ev.Event)
	}

	ev = exchange(map[string]any{"action": "submit"})
	require.Equal(t, "submitted", ev.Event)
	assert.Contains(t, string(ev.Data), `"percentage":100`)
}
