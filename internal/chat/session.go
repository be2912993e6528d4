package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"timbal-cli/internal/api"
	"timbal-cli/internal/run"
	"timbal-cli/internal/transcript"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status reports whether a turn is in flight.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
)

// FallbackNotice is shown when a turn fails before any content
// streamed.
const FallbackNotice = "Something went wrong while generating a response. Please try again."

// Runner issues run requests; satisfied by *api.Client.
type Runner interface {
	RunStream(ctx context.Context, app string, req api.RunRequest) (io.ReadCloser, error)
	Run(ctx context.Context, app string, req api.RunRequest) (*run.Event, error)
}

// Option configures a Session.
type Option func(*Session)

// WithObserver registers a hook receiving every decoded event after
// it has been applied to the transcript. Used to drive a renderer.
func WithObserver(fn func(*run.Event)) Option {
	return func(s *Session) { s.observe = fn }
}

// WithUpdateHook registers a hook fired after every transcript or
// status change.
func WithUpdateHook(fn func()) Option {
	return func(s *Session) { s.onUpdate = fn }
}

// WithoutStreaming makes turns use the synchronous run endpoint; the
// single OUTPUT event still flows through the reducer.
func WithoutStreaming() Option {
	return func(s *Session) { s.stream = false }
}

// Session coordinates one conversation against a single app: it
// dispatches turns, wires the decoded event stream into the
// transcript reducer, tracks the reply-chain run id, and owns
// cancellation of the in-flight call.
//
// A Session supports one active run at a time. Callers are expected
// to gate Submit/Regenerate while Status is StatusRunning; the
// session does not serialize overlapping runs internally.
type Session struct {
	runner   Runner
	app      string
	stream   bool
	logger   *zap.Logger
	observe  func(*run.Event)
	onUpdate func()

	mu       sync.Mutex
	messages []transcript.Message
	status   Status
	cancel   context.CancelFunc
}

// NewSession builds a Session for one app.
func NewSession(runner Runner, app string, logger *zap.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		runner: runner,
		app:    app,
		stream: true,
		logger: logger,
		status: StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns the current run state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Messages returns a snapshot of the transcript.
func (s *Session) Messages() []transcript.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = msg
		out[i].Parts = append([]transcript.Part(nil), msg.Parts...)
	}
	return out
}

// Cancel aborts the in-flight run, if any. Partial content already
// accumulated stays in the transcript; no error text is appended.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Submit runs one conversational turn: it appends a user message and
// an empty assistant message, chains the turn onto the previous run,
// and streams the response into the assistant message. It returns
// once the turn completes, fails terminally, or is cancelled.
func (s *Session) Submit(ctx context.Context, text string, files ...api.FileRef) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty prompt")
	}

	userID := uuid.NewString()
	assistantID := uuid.NewString()
	s.mu.Lock()
	parent := s.parentRunIDLocked(len(s.messages))
	s.messages = append(s.messages,
		transcript.Message{
			ID:    userID,
			Role:  transcript.RoleUser,
			Parts: []transcript.Part{{Kind: transcript.PartText, Text: text}},
		},
		transcript.Message{ID: assistantID, Role: transcript.RoleAssistant},
	)
	s.mu.Unlock()
	s.notifyUpdate()

	return s.runTurn(ctx, userID, assistantID, api.RunInput{Prompt: text, Files: files}, parent)
}

// Regenerate replays a prior user message: the transcript is
// truncated to just after it, the parent-context id is re-derived
// from what precedes it, and a fresh assistant message is streamed.
// An empty messageID targets the latest turn.
func (s *Session) Regenerate(ctx context.Context, messageID string) error {
	s.mu.Lock()
	idx := -1
	if messageID == "" {
		if len(s.messages) >= 2 {
			idx = len(s.messages) - 2
		}
	} else {
		for i := range s.messages {
			if s.messages[i].ID == messageID {
				idx = i
				break
			}
		}
	}
	if idx < 0 || s.messages[idx].Role != transcript.RoleUser {
		s.mu.Unlock()
		return errors.New("no user message to regenerate from")
	}

	target := s.messages[idx]
	prompt := target.Text()
	parent := s.parentRunIDLocked(idx)
	assistantID := uuid.NewString()
	s.messages = append(s.messages[:idx+1], transcript.Message{ID: assistantID, Role: transcript.RoleAssistant})
	s.mu.Unlock()
	s.notifyUpdate()

	return s.runTurn(ctx, target.ID, assistantID, api.RunInput{Prompt: prompt}, parent)
}

func (s *Session) runTurn(ctx context.Context, userID, assistantID string, input api.RunInput, parent string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.status = StatusRunning
	s.cancel = cancel
	s.mu.Unlock()
	s.notifyUpdate()
	defer func() {
		cancel()
		s.mu.Lock()
		s.status = StatusIdle
		s.cancel = nil
		s.mu.Unlock()
		s.notifyUpdate()
	}()

	reducer := transcript.NewReducer(
		func(parts []transcript.Part) { s.setParts(assistantID, parts) },
		func(runID string) { s.stampRunID(userID, assistantID, runID) },
		s.logger,
	)
	req := api.RunRequest{Input: input, ParentRunID: parent}

	if !s.stream {
		ev, err := s.runner.Run(ctx, s.app, req)
		if err != nil {
			return s.finishWithError(ctx, reducer, err)
		}
		// the synchronous endpoint emits no START, so stamp here
		if ev.IsTopLevel() && ev.RunID != "" {
			s.stampRunID(userID, assistantID, ev.RunID)
		}
		s.dispatch(reducer, ev)
		return nil
	}

	body, err := s.runner.RunStream(ctx, s.app, req)
	if err != nil {
		return s.finishWithError(ctx, reducer, err)
	}
	defer body.Close()

	decoder := run.NewDecoder(body, s.logger)
	for {
		ev, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return s.finishWithError(ctx, reducer, err)
		}
		s.dispatch(reducer, ev)
	}
}

func (s *Session) dispatch(reducer *transcript.Reducer, ev *run.Event) {
	reducer.Apply(ev)
	if s.observe != nil {
		s.observe(ev)
	}
}

// finishWithError tells cancellation apart from genuine failure:
// cancellation freezes the partial transcript, failure surfaces the
// fallback notice when nothing streamed.
func (s *Session) finishWithError(ctx context.Context, reducer *transcript.Reducer, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		s.logger.Debug("run cancelled", zap.Error(err))
		return nil
	}
	s.logger.Error("run failed", zap.Error(err))
	reducer.FailIfEmpty(FallbackNotice)
	return err
}

func (s *Session) setParts(messageID string, parts []transcript.Part) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Parts = parts
			break
		}
	}
	s.mu.Unlock()
	s.notifyUpdate()
}

func (s *Session) stampRunID(userID, assistantID, runID string) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == userID || s.messages[i].ID == assistantID {
			s.messages[i].RunID = runID
		}
	}
	s.mu.Unlock()
	s.notifyUpdate()
}

// parentRunIDLocked returns the run id of the most recent assistant
// message strictly before index upTo, or empty on the first turn.
func (s *Session) parentRunIDLocked(upTo int) string {
	for i := upTo - 1; i >= 0; i-- {
		if s.messages[i].Role == transcript.RoleAssistant && s.messages[i].RunID != "" {
			return s.messages[i].RunID
		}
	}
	return ""
}

func (s *Session) notifyUpdate() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
