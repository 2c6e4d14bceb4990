//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
)

const (
	defaultBaseURL = "http://localhost:8080"
	httpCode       = "E2E-HTTP-0001"
	wsCode         = "E2E-WS-0001"
)

var (
	baseURL    string
	adminToken string
	httpToken  string
	wsToken    string
	examID     string
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	if err := setup(); err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// setup resets the schema's data and seeds one exam with two participants.
// The server under test must share DATABASE_URL and JWT_SECRET.
func setup() error {
	cfg := config.Load()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	for _, table := range []string{"exam_results", "attempts", "participants", "questions", "exams"} {
		if _, err := pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("cleanup %s: %w", table, err)
		}
	}

	exam := &model.Exam{
		Title:            "E2E Exam",
		DurationMinutes:  30,
		PassPercentage:   50,
		AvailableAnytime: true,
	}
	if err := repository.NewExamRepository(pool).Create(ctx, exam); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}
	examID = exam.ID.String()

	participants := repository.NewParticipantRepository(pool)
	for user, code := range map[string]string{"e2e-http": httpCode, "e2e-ws": wsCode} {
		p := &model.Participant{ExamID: exam.ID, UserID: user, AccessCode: code}
		if err := participants.Create(ctx, p); err != nil {
			return fmt.Errorf("create participant %s: %w", user, err)
		}
	}

	auth := service.NewAuthService(cfg)
	if adminToken, err = auth.GenerateToken("e2e-admin", service.RoleAdmin, ""); err != nil {
		return err
	}
	if httpToken, err = auth.GenerateToken("e2e-http", service.RoleParticipant, ""); err != nil {
		return err
	}
	if wsToken, err = auth.GenerateToken("e2e-ws", service.RoleParticipant, ""); err != nil {
		return err
	}
	return nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type nextQuestion struct {
	QuestionNumber int `json:"question_number"`
	Question       struct {
		ID      string   `json:"id"`
		Type    string   `json:"question_type"`
		Options []string `json:"options"`
	} `json:"question"`
}

func TestE2EFlow(t *testing.T) {
	t.Run("AdminAddsQuestions", func(t *testing.T) {
		for _, q := range []map[string]any{
			{"question_type": "SINGLE_SELECT", "question_text": "2 + 2?", "options": []string{"3", "4"}, "correct_answer": 1, "points": 1},
			{"question_type": "MULTI_SELECT", "question_text": "Even numbers?", "options": []string{"1", "2", "3", "4"}, "correct_answer": []int{1, 3}, "points": 1},
		} {
			status, _ := call(t, http.MethodPost, "/api/v1/admin/exams/"+examID+"/questions", q, adminToken)
			require.Equal(t, http.StatusCreated, status)
		}

		status, env := call(t, http.MethodPost, "/api/v1/admin/exams/"+examID+"/questions", map[string]any{
			"question_type": "ESSAY", "question_text": "Why?", "options": []string{"a", "b"}, "correct_answer": 0, "points": 1,
		}, adminToken)
		assert.Equal(t, http.StatusBadRequest, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, "UNSUPPORTED_QUESTION_TYPE", env.Error.Code)
	})

	var attemptID string

	t.Run("ParticipantStartsAndResumes", func(t *testing.T) {
		status, env := call(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": strings.ToLower(httpCode)}, httpToken)
		require.Equal(t, http.StatusCreated, status)

		var start struct {
			Attempt        struct{ ID string } `json:"attempt"`
			TotalQuestions int                 `json:"total_questions"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &start))
		assert.Equal(t, 2, start.TotalQuestions)
		attemptID = start.Attempt.ID

		status, _ = call(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": httpCode}, httpToken)
		assert.Equal(t, http.StatusOK, status)

		status, _ = call(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": httpCode}, wsToken)
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("ParticipantAnswersAndSubmits", func(t *testing.T) {
		base := "/api/v1/attempts/" + attemptID

		status, env := call(t, http.MethodGet, base+"/next", nil, httpToken)
		require.Equal(t, http.StatusOK, status)
		var first nextQuestion
		require.NoError(t, json.Unmarshal(env.Data, &first))
		assert.Equal(t, 1, first.QuestionNumber)

		status, _ = call(t, http.MethodPost, base+"/answers", map[string]any{"question_id": first.Question.ID, "answer": 1}, httpToken)
		require.Equal(t, http.StatusOK, status)

		status, env = call(t, http.MethodGet, base+"/next", nil, httpToken)
		require.Equal(t, http.StatusOK, status)
		var second nextQuestion
		require.NoError(t, json.Unmarshal(env.Data, &second))
		assert.Equal(t, 2, second.QuestionNumber)

		status, _ = call(t, http.MethodPost, base+"/answers", map[string]any{"question_id": second.Question.ID, "answer": []string{"1", "3"}}, httpToken)
		require.Equal(t, http.StatusOK, status)

		status, env = call(t, http.MethodPost, base+"/submit", nil, httpToken)
		require.Equal(t, http.StatusOK, status)
		var result struct {
			Status     string `json:"status"`
			Percentage *int   `json:"percentage"`
			Passed     *bool  `json:"passed"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Equal(t, "SUBMITTED", result.Status)
		require.NotNil(t, result.Percentage)
		assert.Equal(t, 100, *result.Percentage)

		status, _ = call(t, http.MethodPost, base+"/submit", nil, httpToken)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("ParticipantOverWebSocket", func(t *testing.T) {
		status, env := call(t, http.MethodPost, "/api/v1/attempts", map[string]string{"access_code": wsCode}, wsToken)
		require.Equal(t, http.StatusCreated, status)
		var start struct {
			Attempt struct{ ID string } `json:"attempt"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &start))

		u, err := url.Parse(baseURL)
		require.NoError(t, err)
		u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
		u.Path = "/ws/v1/attempts/" + start.Attempt.ID + "/stream"
		u.RawQuery = "token=" + url.QueryEscape(wsToken)

		conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		require.NoError(t, err)
		defer conn.Close()

		exchange := func(req map[string]any) map[string]json.RawMessage {
			require.NoError(t, conn.WriteJSON(req))
			var resp map[string]json.RawMessage
			require.NoError(t, conn.ReadJSON(&resp))
			return resp
		}

		assert.JSONEq(t, `"pong"`, string(exchange(map[string]any{"action": "ping"})["event"]))

		for i := 0; i < 2; i++ {
			resp := exchange(map[string]any{"action": "next"})
			require.JSONEq(t, `"question"`, string(resp["event"]))
			var next nextQuestion
			require.NoError(t, json.Unmarshal(resp["data"], &next))

			var answer any = 0
			if next.Question.Type == "MULTI_SELECT" {
				answer = []string{"0", "1"}
			}
			resp = exchange(map[string]any{"action": "answer", "question_id": next.Question.ID, "answer": answer})
			require.JSONEq(t, `"answered"`, string(resp["event"]), string(resp["error"]))
		}

		resp := exchange(map[string]any{"action": "submit"})
		assert.JSONEq(t, `"submitted"`, string(resp["event"]))
	})

	t.Run("AdminSeesPersistedResults", func(t *testing.T) {
		var results []model.ExamResult
		require.Eventually(t, func() bool {
			status, env := call(t, http.MethodGet, "/api/v1/admin/exams/"+examID+"/results", nil, adminToken)
			if status != http.StatusOK {
				return false
			}
			var body struct {
				Results []model.ExamResult `json:"results"`
			}
			if err := json.Unmarshal(env.Data, &body); err != nil {
				return false
			}
			results = body.Results
			return len(results) == 2
		}, 10*time.Second, 250*time.Millisecond)

		assert.Equal(t, "e2e-http", results[0].UserID)
		assert.Equal(t, 100, results[0].Percentage)
	})
}

// Helpers

func call(t *testing.T, method, path string, body any, token string) (int, envelope) {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env
}
