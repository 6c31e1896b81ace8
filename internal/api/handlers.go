package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/teris-io/shortid"

	"github.com/hemut/qna-dashboard/internal/database"
	"github.com/hemut/qna-dashboard/internal/server"
	"github.com/hemut/qna-dashboard/internal/suggest"
	"github.com/hemut/qna-dashboard/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateQuestionRequest struct {
	Message string `json:"message"`
}

type UpdateQuestionRequest struct {
	Status string `json:"status"`
}

type CreateAnswerRequest struct {
	QuestionId string `json:"question_id"`
	Answer     string `json:"answer"`
}

type SessionResponse struct {
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    types.User `json:"user"`
}

func (s *QnaApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *QnaApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *QnaApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Email == "" || !validatePassword(req.Password) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetAccountByEmail(req.Email); err == nil {
		// email already registered
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newUser, err := s.db.CreateAccount(database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.newSession(w, http.StatusCreated, "User registered successfully", newUser)
}

func (s *QnaApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.newSession(w, http.StatusOK, "Login successful", dbUser)
}

// newSession issues a signed credential for user and writes it both as
// a cookie and in the response body.
func (s *QnaApp) newSession(w http.ResponseWriter, statusCode int, message string, user database.User) {
	token, err := s.validator.IssueToken(user.Id, user.EmailAddress, time.Now().Add(defaultJwtExpiration))
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, statusCode, SessionResponse{
		Message: message,
		Token:   token,
		User: types.User{
			Id:           user.Id,
			Username:     user.Username,
			EmailAddress: user.EmailAddress,
			CreatedAt:    user.CreatedAt,
		},
	})
}

func (s *QnaApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
	})
}

func (s *QnaApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *QnaApp) createQuestion(w http.ResponseWriter, r *http.Request) {
	var req CreateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// anonymous questions are allowed; userId stays zero
	userId, _ := UserId(r.Context())

	sid, err := shortid.Generate()
	if err != nil {
		s.log.Println("shortid generate:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbQuestion, err := s.db.CreateQuestion(database.CreateQuestionParams{
		ExternalId: sid,
		UserId:     userId,
		Message:    req.Message,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	question := toApiQuestion(dbQuestion)
	s.feed.Bus().Publish(server.GlobalRoom, server.KindQuestionCreated, question)

	s.writeJson(w, http.StatusCreated, map[string]any{
		"message":  "Question created",
		"question": question,
	})
}

func (s *QnaApp) getQuestions(w http.ResponseWriter, _ *http.Request) {
	dbQuestions, err := s.db.ListQuestions()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	questions := make([]types.Question, 0, len(dbQuestions))
	for _, q := range dbQuestions {
		questions = append(questions, toApiQuestion(q))
	}

	s.writeJson(w, http.StatusOK, map[string]any{"questions": questions})
}

func (s *QnaApp) updateQuestion(w http.ResponseWriter, r *http.Request) {
	externalId := r.PathValue("id")

	var req UpdateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !types.ValidStatus(req.Status) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbQuestion, err := s.db.GetQuestionByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	updated, err := s.db.UpdateQuestionStatus(dbQuestion.Id, req.Status)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	question := toApiQuestion(updated)
	s.feed.Bus().Publish(server.GlobalRoom, server.KindQuestionUpdated, question)
	s.feed.Bus().Publish(question.ExternalId, server.KindQuestionUpdated, question)

	if req.Status == types.StatusAnswered {
		s.webhook.Notify("question_answered", question)
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"message":  "Question updated",
		"question": question,
	})
}

func (s *QnaApp) suggestAnswer(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.PathValue("id")
	if _, err := s.db.GetQuestionByExternalId(externalId); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ticket := s.suggestions.Request(externalId, userId)
	suggestion, err := ticket.Wait(r.Context())
	if err != nil {
		s.log.Printf("suggestion for %q: %v", externalId, err)

		var errResp *ApiError
		var suggErr *suggest.SuggestionError
		if errors.As(err, &suggErr) && suggErr.Kind == suggest.ErrorTimeout {
			errResp = NewGatewayTimeoutError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.Suggestion{
		QuestionId: externalId,
		Text:       suggestion,
	})
}

func (s *QnaApp) createAnswer(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Answer = strings.TrimSpace(req.Answer)
	if req.Answer == "" || req.QuestionId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbQuestion, err := s.db.GetQuestionByExternalId(req.QuestionId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbAnswer, err := s.db.CreateAnswer(database.CreateAnswerParams{
		QuestionId: dbQuestion.Id,
		UserId:     userId,
		Content:    req.Answer,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	answer := toApiAnswer(dbAnswer, dbQuestion.ExternalId)
	s.feed.Bus().Publish(dbQuestion.ExternalId, server.KindAnswerCreated, answer)

	s.writeJson(w, http.StatusCreated, map[string]any{
		"message": "Answer created",
		"answer":  answer,
	})
}

func (s *QnaApp) getAnswers(w http.ResponseWriter, r *http.Request) {
	externalId := r.PathValue("id")

	dbQuestion, err := s.db.GetQuestionByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbAnswers, err := s.db.ListAnswersByQuestionId(dbQuestion.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	answers := make([]types.Answer, 0, len(dbAnswers))
	for _, a := range dbAnswers {
		answers = append(answers, toApiAnswer(a, externalId))
	}

	s.writeJson(w, http.StatusOK, map[string]any{"answers": answers})
}

func toApiQuestion(q database.Question) types.Question {
	return types.Question{
		ExternalId: q.ExternalId,
		Message:    q.Message,
		Status:     q.Status,
		UserId:     q.UserId,
		Username:   q.Username,
		CreatedAt:  q.CreatedAt,
		UpdatedAt:  q.UpdatedAt,
	}
}

func toApiAnswer(a database.Answer, questionExternalId string) types.Answer {
	return types.Answer{
		Id:         a.Id,
		QuestionId: questionExternalId,
		Content:    a.Content,
		UserId:     a.UserId,
		Username:   a.Username,
		CreatedAt:  a.CreatedAt,
	}
}
