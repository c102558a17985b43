package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoPrompts struct{}

func (echoPrompts) Build(_ Context, utterance string) []Message {
	return []Message{{Role: "user", Content: utterance}}
}

type fixedResponder string

func (f fixedResponder) Respond(string, Context) string { return string(f) }

// spyExternal counts calls and optionally blocks until its context ends.
type spyExternal struct {
	mu    sync.Mutex
	calls int
	got   []Message
	reply string
	err   error
	block bool
}

func (s *spyExternal) Reply(ctx context.Context, msgs []Message) (string, error) {
	s.mu.Lock()
	s.calls++
	s.got = msgs
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, s.err
}

type spyRecorder struct {
	mu        sync.Mutex
	external  []error
	responses []Source
}

func (r *spyRecorder) ObserveExternal(_ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.external = append(r.external, err)
}

func (r *spyRecorder) ObserveReply(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, s)
}

func TestHandle_NoCredentialNeverAttemptsExternal(t *testing.T) {
	rec := &spyRecorder{}
	r := NewRouter(nil, echoPrompts{}, fixedResponder("rule answer"), Config{Recorder: rec})

	rep := r.Handle(context.Background(), "why is my reach low", Context{})

	assert.Equal(t, "rule answer", rep.Text)
	assert.Equal(t, SourceFallback, rep.Source)
	assert.Equal(t, []State{Idle, Fallback, Responded}, rep.Trace)
	assert.NotContains(t, rep.Trace, AttemptingExternal)
	assert.Empty(t, rec.external)
	assert.Equal(t, []Source{SourceFallback}, rec.responses)
	assert.False(t, r.HasExternal())
}

func TestHandle_ExternalSuccess(t *testing.T) {
	ext := &spyExternal{reply: "model answer"}
	r := NewRouter(ext, echoPrompts{}, fixedResponder("rule answer"), Config{})

	rep := r.Handle(context.Background(), "plan my week", Context{})

	assert.Equal(t, "model answer", rep.Text)
	assert.Equal(t, SourceExternal, rep.Source)
	assert.Equal(t, []State{Idle, AttemptingExternal, Responded}, rep.Trace)
	require.Len(t, ext.got, 1)
	assert.Equal(t, "plan my week", ext.got[0].Content)
}

func TestHandle_ExternalFailuresFallBack(t *testing.T) {
	unauthorized := errors.New("401 unauthorized")
	tests := []struct {
		name  string
		ext   External
		cause error
	}{
		{"error", Unavailable{Err: unauthorized}, unauthorized},
		{"default error", Unavailable{}, ErrUnavailable},
		{"empty reply", Canned(""), errEmptyReply},
		{"whitespace reply", Canned("  \n\t"), errEmptyReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &spyRecorder{}
			r := NewRouter(tt.ext, echoPrompts{}, fixedResponder("rule answer"), Config{Recorder: rec})

			rep := r.Handle(context.Background(), "hi", Context{})

			assert.Equal(t, "rule answer", rep.Text)
			assert.Equal(t, SourceFallback, rep.Source)
			assert.Equal(t, []State{Idle, AttemptingExternal, Fallback, Responded}, rep.Trace)
			require.Len(t, rec.external, 1)
			var ee *ExternalError
			assert.True(t, errors.As(rec.external[0], &ee))
			assert.ErrorIs(t, rec.external[0], tt.cause)
		})
	}
}

func TestHandle_TimeoutFallsBack(t *testing.T) {
	ext := &spyExternal{block: true}
	r := NewRouter(ext, echoPrompts{}, fixedResponder("rule answer"), Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	rep := r.Handle(context.Background(), "hi", Context{})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, SourceFallback, rep.Source)
	assert.NotEmpty(t, rep.Text)
	ext.mu.Lock()
	defer ext.mu.Unlock()
	assert.Equal(t, 1, ext.calls)
}

// stubbornExternal ignores its context entirely.
type stubbornExternal struct{ release chan struct{} }

func (s stubbornExternal) Reply(context.Context, []Message) (string, error) {
	<-s.release
	return "too late", nil
}

func TestHandle_TimeoutWithContextIgnoringClient(t *testing.T) {
	ext := stubbornExternal{release: make(chan struct{})}
	defer close(ext.release)
	r := NewRouter(ext, echoPrompts{}, fixedResponder("rule answer"), Config{Timeout: 20 * time.Millisecond})

	rep := r.Handle(context.Background(), "hi", Context{})
	assert.Equal(t, SourceFallback, rep.Source)
	assert.Equal(t, "rule answer", rep.Text)
}

func TestHandle_EmptyResponderStillReplies(t *testing.T) {
	r := NewRouter(Unavailable{}, echoPrompts{}, fixedResponder(""), Config{})

	rep := r.Handle(context.Background(), "hi", Context{})
	assert.Equal(t, genericReply, rep.Text)
	assert.Equal(t, SourceFallback, rep.Source)
}

func TestHandle_TurnsAreIndependent(t *testing.T) {
	ext := &spyExternal{err: errors.New("boom")}
	r := NewRouter(ext, echoPrompts{}, fixedResponder("rule answer"), Config{})

	first := r.Handle(context.Background(), "a", Context{})
	ext.mu.Lock()
	ext.err, ext.reply = nil, "recovered"
	ext.mu.Unlock()
	second := r.Handle(context.Background(), "b", Context{})

	assert.Equal(t, SourceFallback, first.Source)
	assert.Equal(t, SourceExternal, second.Source)
	assert.Equal(t, Idle, second.Trace[0])
}

func TestExternalErrorUnwrap(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := error(&ExternalError{Err: base})
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "external agent")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "AttemptingExternal", AttemptingExternal.String())
	assert.Equal(t, "State(9)", State(9).String())
}
