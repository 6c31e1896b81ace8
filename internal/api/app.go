package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/hemut/qna-dashboard/internal/auth"
	"github.com/hemut/qna-dashboard/internal/config"
	"github.com/hemut/qna-dashboard/internal/database"
	"github.com/hemut/qna-dashboard/internal/server"
	"github.com/hemut/qna-dashboard/internal/suggest"
)

type QnaApp struct {
	log            *log.Logger
	db             database.QnaRepository
	mux            *http.Server
	feed           *server.FeedServer
	suggestions    *suggest.Coordinator
	validator      *auth.Validator
	webhook        *WebhookNotifier
	allowedOrigins []string
}

func NewQnaApp(mux *http.ServeMux, logger *log.Logger, feed *server.FeedServer,
	db database.QnaRepository, suggestions *suggest.Coordinator,
	validator *auth.Validator, cfg *config.Config) *QnaApp {

	s := &QnaApp{
		log:            logger,
		db:             db,
		feed:           feed,
		suggestions:    suggestions,
		validator:      validator,
		webhook:        NewWebhookNotifier(logger, cfg.WebhookURL),
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /api/health", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/questions", s.optionalAuthMiddleware(s.createQuestion))
	mux.HandleFunc("GET /api/questions", s.getQuestions)
	mux.Handle("PUT /api/questions/{id}", s.authMiddleware(s.updateQuestion))
	mux.Handle("POST /api/questions/{id}/suggest", s.authMiddleware(s.suggestAnswer))
	mux.Handle("POST /api/answers", s.authMiddleware(s.createAnswer))
	mux.HandleFunc("GET /api/answers/{id}", s.getAnswers)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *QnaApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *QnaApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
