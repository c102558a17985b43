// Package agent routes a chat turn to an external language model and falls
// back to a deterministic responder when that model is unavailable.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xyrax/instra/internal/insight"
	"github.com/xyrax/instra/internal/predict"
	"github.com/xyrax/instra/internal/storage"
)

// DefaultTimeout bounds a single external call.
const DefaultTimeout = 30 * time.Second

// Message is one chat message. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is everything a turn may be grounded in. It is assembled per turn
// by the caller from session history and never retained by the router.
type Context struct {
	SessionID string
	History   []Message
	Last      *predict.Result
	Insights  []insight.Insight
	Posts     []storage.Post
}

// External is a remote chat model.
type External interface {
	Reply(ctx context.Context, msgs []Message) (string, error)
}

// ExternalFunc adapts a function to External.
type ExternalFunc func(ctx context.Context, msgs []Message) (string, error)

func (f ExternalFunc) Reply(ctx context.Context, msgs []Message) (string, error) {
	return f(ctx, msgs)
}

// PromptBuilder assembles the messages sent to the external model.
type PromptBuilder interface {
	Build(c Context, utterance string) []Message
}

// Responder answers without any network access.
type Responder interface {
	Respond(utterance string, c Context) string
}

// Recorder observes routing outcomes.
type Recorder interface {
	ObserveExternal(d time.Duration, err error)
	ObserveReply(source Source)
}

// ExternalError wraps any failure of the external model. The router recovers
// from it locally; it is only logged.
type ExternalError struct {
	Err error
}

func (e *ExternalError) Error() string { return fmt.Sprintf("external agent: %v", e.Err) }

func (e *ExternalError) Unwrap() error { return e.Err }

var errEmptyReply = errors.New("empty reply")

// State is a router state within one turn.
type State int

const (
	Idle State = iota
	AttemptingExternal
	Fallback
	Responded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AttemptingExternal:
		return "AttemptingExternal"
	case Fallback:
		return "Fallback"
	case Responded:
		return "Responded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Source names which path produced a reply.
type Source string

const (
	SourceExternal Source = "external"
	SourceFallback Source = "fallback"
)

// Reply is the outcome of one turn.
type Reply struct {
	Text   string  `json:"reply"`
	Source Source  `json:"source"`
	Trace  []State `json:"-"`
}

// Config holds optional router settings.
type Config struct {
	Timeout  time.Duration
	Logger   *slog.Logger
	Recorder Recorder
}

// Router decides per turn between the external model and the responder.
// It keeps no state across turns.
type Router struct {
	external  External
	prompts   PromptBuilder
	responder Responder
	timeout   time.Duration
	logger    *slog.Logger
	recorder  Recorder
}

// NewRouter creates a Router. A nil external means no credential is
// configured and every turn goes straight to the responder.
func NewRouter(external External, prompts PromptBuilder, responder Responder, cfg Config) *Router {
	r := &Router{
		external:  external,
		prompts:   prompts,
		responder: responder,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		recorder:  cfg.Recorder,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// HasExternal reports whether turns will attempt the external model.
func (r *Router) HasExternal() bool { return r.external != nil }

// Handle runs one turn. It always returns a non-empty reply.
func (r *Router) Handle(ctx context.Context, utterance string, c Context) Reply {
	trace := []State{Idle}
	step := func(s State) { trace = append(trace, s) }

	if r.external != nil {
		step(AttemptingExternal)
		text, err := r.callExternal(ctx, r.prompts.Build(c, utterance))
		if err == nil {
			step(Responded)
			return r.done(Reply{Text: text, Source: SourceExternal, Trace: trace})
		}
		r.logger.Warn("external agent failed, falling back", "session", c.SessionID, "error", err)
	}

	step(Fallback)
	text := r.responder.Respond(utterance, c)
	if strings.TrimSpace(text) == "" {
		text = genericReply
	}
	step(Responded)
	return r.done(Reply{Text: text, Source: SourceFallback, Trace: trace})
}

const genericReply = "Ask me something specific: why a post underperformed, how to get more saves, or how your post compares to your average."

func (r *Router) done(rep Reply) Reply {
	if r.recorder != nil {
		r.recorder.ObserveReply(rep.Source)
	}
	return rep
}

// callExternal runs the external call in its own goroutine so a client that
// ignores its context still cannot hold the turn past the timeout.
func (r *Router) callExternal(ctx context.Context, msgs []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		text, err := r.external.Reply(ctx, msgs)
		ch <- result{text, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err == nil && strings.TrimSpace(res.text) == "" {
		res.err = errEmptyReply
	}
	var err error
	if res.err != nil {
		err = &ExternalError{Err: res.err}
	}
	if r.recorder != nil {
		r.recorder.ObserveExternal(time.Since(start), err)
	}
	if err != nil {
		return "", err
	}
	return res.text, nil
}
