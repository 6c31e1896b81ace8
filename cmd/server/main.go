package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/hemut/qna-dashboard/internal/api"
	"github.com/hemut/qna-dashboard/internal/auth"
	"github.com/hemut/qna-dashboard/internal/config"
	"github.com/hemut/qna-dashboard/internal/database"
	"github.com/hemut/qna-dashboard/internal/server"
	"github.com/hemut/qna-dashboard/internal/stats"
	"github.com/hemut/qna-dashboard/internal/suggest"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded signing key (overridden by JWT_SECRET)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[qna-dashboard] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	repo, err := database.NewPgQnaRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := repo.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	validator := auth.NewValidator(cfg.SigningKey)

	feed, err := server.NewFeedServer(logger, validator, statsUpdater)
	if err != nil {
		logger.Fatal("new feed server:", err)
	}

	summarizer := suggest.NewAnthropicSummarizer(cfg.AnthropicAPIKey, cfg.SuggestionModel)
	suggestions := suggest.NewCoordinator(logger, repo, summarizer, feed.Bus(), statsUpdater, cfg.SuggestionTTL)

	srv := api.NewQnaApp(mux, logger, feed, repo, suggestions, validator, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down feed server...")
	if err := feed.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("feed server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
