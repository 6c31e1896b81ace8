package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hemut/qna-dashboard/internal/auth"
	"github.com/hemut/qna-dashboard/internal/config"
	"github.com/hemut/qna-dashboard/internal/database"
	"github.com/hemut/qna-dashboard/internal/server"
	"github.com/hemut/qna-dashboard/internal/stats"
	"github.com/hemut/qna-dashboard/internal/suggest"
	"github.com/hemut/qna-dashboard/internal/testutil"
	"github.com/hemut/qna-dashboard/internal/types"
)

type summarizeFunc func(ctx context.Context, question string, answers []string) (string, error)

func (f summarizeFunc) Summarize(ctx context.Context, question string, answers []string) (string, error) {
	return f(ctx, question, answers)
}

func quietStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

type appHarness struct {
	app       *QnaApp
	mux       *http.ServeMux
	db        *database.MockQnaRepository
	feed      *server.FeedServer
	validator *auth.Validator
}

func newTestApp(t *testing.T, db *database.MockQnaRepository, summarize summarizeFunc, webhookURL string) *appHarness {
	logger := testutil.TestLogger(t)
	validator := auth.NewValidator([]byte("api-test-key"))

	feed, err := server.NewFeedServer(logger, validator, quietStats())
	require.NoError(t, err)

	if summarize == nil {
		summarize = func(ctx context.Context, question string, answers []string) (string, error) {
			return "no suggestion", nil
		}
	}
	suggestions := suggest.NewCoordinator(logger, db, summarize, feed.Bus(), quietStats(), time.Minute)

	mux := http.NewServeMux()
	app := NewQnaApp(mux, logger, feed, db, suggestions, validator, &config.Config{
		ServerAddr: "127.0.0.1:0",
		WebhookURL: webhookURL,
	})

	return &appHarness{app: app, mux: mux, db: db, feed: feed, validator: validator}
}

func (h *appHarness) token(t *testing.T, userId int) string {
	token, err := h.validator.IssueToken(userId, "staff@hemut.com", time.Now().Add(time.Hour))
	require.NoError(t, err)
	return token
}

func (h *appHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	r := httptest.NewRequest(method, path, reader)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func userFixture() database.User {
	hash, _ := hashPassword("hunter42")
	return database.User{
		Id:           7,
		Username:     "dispatcher",
		EmailAddress: "staff@hemut.com",
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
}

func questionFixture() database.Question {
	return database.Question{
		Id:         1,
		ExternalId: "Q7",
		UserId:     7,
		Username:   "dispatcher",
		Message:    "The hydraulic lift on truck 4 will not raise.",
		Status:     types.StatusPending,
		CreatedAt:  time.Now(),
	}
}

func TestHealthCheck(t *testing.T) {
	db := &database.MockQnaRepository{}
	db.On("Ping").Return(nil).Once()

	h := newTestApp(t, db, nil, "")
	w := h.do(t, "GET", "/api/health", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[map[string]string](t, w)
	assert.Equal(t, "ok", resp["status"])

	db.On("Ping").Return(errors.New("connection refused"))
	w = h.do(t, "GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateAccount(t *testing.T) {
	db := &database.MockQnaRepository{}
	db.On("GetAccountByEmail", "staff@hemut.com").Return(database.User{}, sql.ErrNoRows)
	db.On("CreateAccount", mock.MatchedBy(func(p database.CreateAccountParams) bool {
		return p.Username == "dispatcher" && p.EmailAddress == "staff@hemut.com" &&
			verifyPassword(p.PasswordHash, "hunter42")
	})).Return(userFixture(), nil)

	h := newTestApp(t, db, nil, "")
	w := h.do(t, "POST", "/api/auth/register", "", RegisterRequest{
		Email:    "staff@hemut.com",
		Username: " dispatcher ",
		Password: "hunter42",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	resp := decodeBody[SessionResponse](t, w)
	assert.Equal(t, "dispatcher", resp.User.Username)
	assert.NotEmpty(t, resp.Token)

	// the issued token authenticates as the new account
	identity, err := h.validator.Validate(resp.Token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 7, identity.UserId)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tokenCookieKey, cookies[0].Name)
	assert.Equal(t, resp.Token, cookies[0].Value)

	db.AssertExpectations(t)
}

func TestCreateAccount_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing email", RegisterRequest{Username: "dispatcher", Password: "hunter42"}},
		{"blank username", RegisterRequest{Email: "staff@hemut.com", Username: "   ", Password: "hunter42"}},
		{"short password", RegisterRequest{Email: "staff@hemut.com", Username: "dispatcher", Password: "abc"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockQnaRepository{}
			h := newTestApp(t, db, nil, "")

			w := h.do(t, "POST", "/api/auth/register", "", tc.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			db.AssertExpectations(t)
		})
	}
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	db := &database.MockQnaRepository{}
	db.On("GetAccountByEmail", "staff@hemut.com").Return(userFixture(), nil)

	h := newTestApp(t, db, nil, "")
	w := h.do(t, "POST", "/api/auth/register", "", RegisterRequest{
		Email:    "staff@hemut.com",
		Username: "dispatcher",
		Password: "hunter42",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	db.AssertNotCalled(t, "CreateAccount", mock.Anything)
}

func TestLogin(t *testing.T) {
	db := &database.MockQnaRepository{}
	db.On("GetAccountByEmail", "staff@hemut.com").Return(userFixture(), nil)
	db.On("GetAccountByEmail", "nobody@hemut.com").Return(database.User{}, sql.ErrNoRows)

	h := newTestApp(t, db, nil, "")

	t.Run("valid credentials", func(t *testing.T) {
		w := h.do(t, "POST", "/api/auth/login", "", LoginRequest{Email: "staff@hemut.com", Password: "hunter42"})
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeBody[SessionResponse](t, w)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, 7, resp.User.Id)
	})

	t.Run("wrong password", func(t *testing.T) {
		w := h.do(t, "POST", "/api/auth/login", "", LoginRequest{Email: "staff@hemut.com", Password: "wrong-pass"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		w := h.do(t, "POST", "/api/auth/login", "", LoginRequest{Email: "nobody@hemut.com", Password: "hunter42"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		w := h.do(t, "POST", "/api/auth/login", "", LoginRequest{Email: "staff@hemut.com"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSession(t *testing.T) {
	db := &database.MockQnaRepository{}
	db.On("GetAccountById", 7).Return(userFixture(), nil)

	h := newTestApp(t, db, nil, "")

	w := h.do(t, "GET", "/api/auth/session", h.token(t, 7), nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := decodeBody[types.User](t, w)
	assert.Equal(t, 7, user.Id)
	assert.Equal(t, "dispatcher", user.Username)

	w = h.do(t, "GET", "/api/auth/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateQuestion_Anonymous(t *testing.T) {
	db := &database.MockQnaRepository{}
	created := questionFixture()
	created.UserId = 0
	created.Username = "Anonymous"
	db.On("CreateQuestion", mock.MatchedBy(func(p database.CreateQuestionParams) bool {
		return p.UserId == 0 && p.Message == "The hydraulic lift on truck 4 will not raise." && p.ExternalId != ""
	})).Return(created, nil)

	h := newTestApp(t, db, nil, "")
	w := h.do(t, "POST", "/api/questions", "", CreateQuestionRequest{
		Message: "  The hydraulic lift on truck 4 will not raise.  ",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	resp := decodeBody[struct {
		Question types.Question `json:"question"`
	}](t, w)
	assert.Equal(t, "Anonymous", resp.Question.Username)
	assert.Equal(t, "Q7", resp.Question.ExternalId)

	assert.Equal(t, int64(1), h.feed.Bus().Seq(server.GlobalRoom), "expected a question.created publish to the global room")
	db.AssertExpectations(t)
}

func TestCreateQuestion_Authenticated(t *testing.T) {
	db := &database.MockQnaRepository{}
	db.On("CreateQuestion", mock.MatchedBy(func(p database.CreateQuestionParams) bool {
		return p.UserId == 7
	})).Return(questionFixture(), nil)

	h := newTestApp(t, db, nil, "")
	w := h.do(t, "POST", "/api/questions", h.token(t, 7), CreateQuestionRequest{Message: "Where is bay 3?"})

	assert.Equal(t, http.StatusCreated, w.Code)
	db.AssertExpectations(t)
}

func TestCreateQuestion_BadToken(t *testing.T) {
	db := &database.MockQnaRepository{}
	h := newTestApp(t, db, nil, "")

	w := h.do(t, "POST", "/api/questions", "not-a-token", CreateQuestionRequest{Message: "Where is bay 3?"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "expected a present but invalid token to be rejected")
	db.AssertExpectations(t)
}

func TestCreateQuestion_EmptyMessage(t *testing.T) {
	db := &database.MockQnaRepository{}
	h := newTestApp(t, db, nil, "")

	w := h.do(t, "POST", "/api/questions", "", CreateQuestionRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	db.AssertExpectations(t)
}

func TestGetQuestions(t *testing.T) {
	db := &database.MockQnaRepository{}
	db.On("ListQuestions").Return([]database.Question{questionFixture()}, nil)

	h := newTestApp(t, db, nil, "")
	w := h.do(t, "GET", "/api/questions", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[struct {
		Questions []types.Question `json:"questions"`
	}](t, w)
	require.Len(t, resp.Questions, 1)
	assert.Equal(t, "Q7", resp.Questions[0].ExternalId)
}

func TestUpdateQuestion(t *testing.T) {
	webhookCalls := make(chan map[string]any, 1)
	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		webhookCalls <- body
	}))
	defer webhookSrv.Close()

	db := &database.MockQnaRepository{}
	q := questionFixture()
	answered := q
	answered.Status = types.StatusAnswered
	db.On("GetQuestionByExternalId", "Q7").Return(q, nil)
	db.On("UpdateQuestionStatus", q.Id, types.StatusAnswered).Return(answered, nil)

	h := newTestApp(t, db, nil, webhookSrv.URL)
	w := h.do(t, "PUT", "/api/questions/Q7", h.token(t, 7), UpdateQuestionRequest{Status: types.StatusAnswered})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[struct {
		Question types.Question `json:"question"`
	}](t, w)
	assert.Equal(t, types.StatusAnswered, resp.Question.Status)

	// the update is published to both the global room and the question room
	assert.Equal(t, int64(1), h.feed.Bus().Seq(server.GlobalRoom))
	assert.Equal(t, int64(1), h.feed.Bus().Seq("Q7"))

	select {
	case body := <-webhookCalls:
		assert.Equal(t, "question_answered", body["event"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for webhook delivery")
	}

	db.AssertExpectations(t)
}

func TestUpdateQuestion_InvalidStatus(t *testing.T) {
	db := &database.MockQnaRepository{}
	h := newTestApp(t, db, nil, "")

	w := h.do(t, "PUT", "/api/questions/Q7", h.token(t, 7), UpdateQuestionRequest{Status: "Done"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	db.AssertExpectations(t)
}

func TestUpdateQuestion_NotFound(t *testing.T) {
	db := &database.MockQnaRepository{}
	db.On("GetQuestionByExternalId", "Q404").Return(database.Question{}, sql.ErrNoRows)

	h := newTestApp(t, db, nil, "")
	w := h.do(t, "PUT", "/api/questions/Q404", h.token(t, 7), UpdateQuestionRequest{Status: types.StatusAnswered})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSuggestAnswer(t *testing.T) {
	db := &database.MockQnaRepository{}
	q := questionFixture()
	db.On("GetQuestionByExternalId", "Q7").Return(q, nil)
	db.On("ListAnswersByQuestionId", q.Id).Return([]database.Answer{
		{Id: 1, QuestionId: q.Id, Content: "Check the reservoir."},
	}, nil)

	h := newTestApp(t, db, func(ctx context.Context, question string, answers []string) (string, error) {
		return "Check hydraulic fluid, then the relief valve.", nil
	}, "")

	w := h.do(t, "POST", "/api/questions/Q7/suggest", h.token(t, 7), nil)
	require.Equal(t, http.StatusOK, w.Code)

	suggestion := decodeBody[types.Suggestion](t, w)
	assert.Equal(t, "Q7", suggestion.QuestionId)
	assert.Equal(t, "Check hydraulic fluid, then the relief valve.", suggestion.Text)

	assert.Eventually(t, func() bool {
		return h.feed.Bus().Seq("Q7") == 1
	}, time.Second, 5*time.Millisecond, "expected suggestion.ready published to the question room")
}

func TestSuggestAnswer_RequiresAuth(t *testing.T) {
	db := &database.MockQnaRepository{}
	h := newTestApp(t, db, nil, "")

	w := h.do(t, "POST", "/api/questions/Q7/suggest", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	db.AssertExpectations(t)
}

func TestSuggestAnswer_Timeout(t *testing.T) {
	db := &database.MockQnaRepository{}
	q := questionFixture()
	db.On("GetQuestionByExternalId", "Q7").Return(q, nil)
	db.On("ListAnswersByQuestionId", q.Id).Return([]database.Answer{}, nil)

	h := newTestApp(t, db, func(ctx context.Context, question string, answers []string) (string, error) {
		return "", context.DeadlineExceeded
	}, "")

	w := h.do(t, "POST", "/api/questions/Q7/suggest", h.token(t, 7), nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestCreateAnswer(t *testing.T) {
	db := &database.MockQnaRepository{}
	q := questionFixture()
	db.On("GetQuestionByExternalId", "Q7").Return(q, nil)
	db.On("CreateAnswer", database.CreateAnswerParams{
		QuestionId: q.Id,
		UserId:     7,
		Content:    "Check the reservoir.",
	}).Return(database.Answer{
		Id:         1,
		QuestionId: q.Id,
		UserId:     7,
		Username:   "dispatcher",
		Content:    "Check the reservoir.",
	}, nil)

	h := newTestApp(t, db, nil, "")
	w := h.do(t, "POST", "/api/answers", h.token(t, 7), CreateAnswerRequest{
		QuestionId: "Q7",
		Answer:     "  Check the reservoir.  ",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	resp := decodeBody[struct {
		Answer types.Answer `json:"answer"`
	}](t, w)
	assert.Equal(t, "Q7", resp.Answer.QuestionId)
	assert.Equal(t, "dispatcher", resp.Answer.Username)

	assert.Equal(t, int64(1), h.feed.Bus().Seq("Q7"), "expected answer.created published to the question room")
	db.AssertExpectations(t)
}

func TestCreateAnswer_RequiresAuth(t *testing.T) {
	db := &database.MockQnaRepository{}
	h := newTestApp(t, db, nil, "")

	w := h.do(t, "POST", "/api/answers", "", CreateAnswerRequest{QuestionId: "Q7", Answer: "Check it."})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	db.AssertExpectations(t)
}

func TestGetAnswers(t *testing.T) {
	db := &database.MockQnaRepository{}
	q := questionFixture()
	db.On("GetQuestionByExternalId", "Q7").Return(q, nil)
	db.On("ListAnswersByQuestionId", q.Id).Return([]database.Answer{
		{Id: 1, QuestionId: q.Id, Username: "dispatcher", Content: "Check the reservoir."},
	}, nil)

	h := newTestApp(t, db, nil, "")
	w := h.do(t, "GET", "/api/answers/Q7", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[struct {
		Answers []types.Answer `json:"answers"`
	}](t, w)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "Q7", resp.Answers[0].QuestionId)
	assert.Equal(t, "Check the reservoir.", resp.Answers[0].Content)
}
