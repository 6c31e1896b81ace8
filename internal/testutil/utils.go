package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for use in tests, redirected to stderr
// once the test finishes so late goroutine output is not lost.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[qna-test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
