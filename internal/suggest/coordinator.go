package suggest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hemut/qna-dashboard/internal/database"
	"github.com/hemut/qna-dashboard/internal/server"
	"github.com/hemut/qna-dashboard/internal/stats"
	"github.com/hemut/qna-dashboard/internal/types"
)

const (
	statSuggestionRequests  = "SuggestionRequests"
	statSuggestionDedupHits = "SuggestionDedupHits"
	statSuggestionFailures  = "SuggestionFailures"

	defaultCallTimeout  = 30 * time.Second
	defaultRetryBackoff = 500 * time.Millisecond
)

type ErrorKind int

const (
	ErrorUpstreamFailure ErrorKind = iota
	ErrorTimeout
)

func (k ErrorKind) String() string {
	if k == ErrorTimeout {
		return "timeout"
	}
	return "upstream failure"
}

// SuggestionError is the terminal failure surfaced to every requester
// attached to a suggestion request.
type SuggestionError struct {
	Kind ErrorKind
	err  error
}

func (e *SuggestionError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("suggestion %s: %s", e.Kind, e.err)
	}
	return fmt.Sprintf("suggestion %s", e.Kind)
}

func (e *SuggestionError) Unwrap() error {
	return e.err
}

// Summarizer is the external AI collaborator.
type Summarizer interface {
	Summarize(ctx context.Context, question string, answers []string) (string, error)
}

// EventPublisher is the slice of the event bus the coordinator needs.
type EventPublisher interface {
	Publish(room, kind string, payload any) server.Event
}

// request is one deduplicated unit of suggestion work. All requesters
// for the same question id attach to the same request and observe the
// identical result.
type request struct {
	questionId string
	requesters map[int]struct{}
	done       chan struct{}
	result     string
	err        error
}

// Coordinator serializes suggestion work per question id: at most one
// external AI call is in flight per question at any time. Resolved
// entries linger for a short TTL to absorb rapid repeat requests. The
// external call never runs under any coordinator, registry, or bus
// lock.
type Coordinator struct {
	mu         sync.Mutex
	requests   map[string]*request
	summarizer Summarizer
	db         database.QnaRepository
	bus        EventPublisher
	log        *log.Logger
	stats      stats.StatsProvider

	callTimeout  time.Duration
	retryBackoff time.Duration
	ttl          time.Duration
}

func NewCoordinator(logger *log.Logger, db database.QnaRepository, summarizer Summarizer,
	bus EventPublisher, sp stats.StatsProvider, ttl time.Duration) *Coordinator {

	sp.RegisterMetric(statSuggestionRequests)
	sp.RegisterMetric(statSuggestionDedupHits)
	sp.RegisterMetric(statSuggestionFailures)

	return &Coordinator{
		requests:     make(map[string]*request),
		summarizer:   summarizer,
		db:           db,
		bus:          bus,
		log:          logger,
		stats:        sp,
		callTimeout:  defaultCallTimeout,
		retryBackoff: defaultRetryBackoff,
		ttl:          ttl,
	}
}

// Ticket is a requester's handle on a pending or resolved suggestion.
type Ticket struct {
	req *request
}

// Wait blocks until the suggestion resolves or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (string, error) {
	select {
	case <-t.req.done:
		return t.req.result, t.req.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Request attaches requesterId to the suggestion work for questionId,
// creating it and issuing the single external call if none is pending
// or recently resolved.
func (co *Coordinator) Request(questionId string, requesterId int) *Ticket {
	co.mu.Lock()
	if req, ok := co.requests[questionId]; ok {
		req.requesters[requesterId] = struct{}{}
		co.mu.Unlock()

		co.stats.Incr(statSuggestionDedupHits)
		co.log.Printf("attached requester %d to existing suggestion request for %q", requesterId, questionId)
		return &Ticket{req: req}
	}

	req := &request{
		questionId: questionId,
		requesters: map[int]struct{}{requesterId: {}},
		done:       make(chan struct{}),
	}
	co.requests[questionId] = req
	co.mu.Unlock()

	co.stats.Incr(statSuggestionRequests)
	go co.run(req)

	return &Ticket{req: req}
}

func (co *Coordinator) run(req *request) {
	question, err := co.db.GetQuestionByExternalId(req.questionId)
	if err != nil {
		co.resolve(req, "", &SuggestionError{Kind: ErrorUpstreamFailure, err: fmt.Errorf("load question: %w", err)})
		return
	}

	dbAnswers, err := co.db.ListAnswersByQuestionId(question.Id)
	if err != nil {
		co.resolve(req, "", &SuggestionError{Kind: ErrorUpstreamFailure, err: fmt.Errorf("load answers: %w", err)})
		return
	}

	answers := make([]string, len(dbAnswers))
	for i, a := range dbAnswers {
		answers[i] = a.Content
	}

	result, serr := co.summarizeWithRetry(question.Message, answers)
	co.resolve(req, result, serr)
}

// summarizeWithRetry issues the external call with a bounded timeout,
// retrying once after a short backoff before surfacing failure.
func (co *Coordinator) summarizeWithRetry(question string, answers []string) (string, error) {
	result, err := co.summarize(question, answers)
	if err == nil {
		return result, nil
	}

	co.log.Printf("suggestion call failed, retrying once: %v", err)
	time.Sleep(co.retryBackoff)

	result, err = co.summarize(question, answers)
	if err == nil {
		return result, nil
	}

	kind := ErrorUpstreamFailure
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrorTimeout
	}
	return "", &SuggestionError{Kind: kind, err: err}
}

func (co *Coordinator) summarize(question string, answers []string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), co.callTimeout)
	defer cancel()

	return co.summarizer.Summarize(ctx, question, answers)
}

func (co *Coordinator) resolve(req *request, result string, err error) {
	co.mu.Lock()
	req.result = result
	req.err = err
	close(req.done)
	co.mu.Unlock()

	if err != nil {
		co.stats.Incr(statSuggestionFailures)
		co.log.Printf("suggestion for %q failed: %v", req.questionId, err)
		co.bus.Publish(req.questionId, server.KindSuggestionFailed, map[string]string{
			"question_id": req.questionId,
			"error":       err.Error(),
		})
	} else {
		co.bus.Publish(req.questionId, server.KindSuggestionReady, types.Suggestion{
			QuestionId: req.questionId,
			Text:       result,
		})
	}

	// Keep the resolved entry around briefly to absorb repeat requests.
	time.AfterFunc(co.ttl, func() {
		co.mu.Lock()
		if co.requests[req.questionId] == req {
			delete(co.requests, req.questionId)
		}
		co.mu.Unlock()
	})
}
