// Package agent implements the bug-fix loop: it calls the model, runs the
// tools it asks for and streams every step to the client as turns of events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
	"github.com/LIUAPP/AgenticBugFix/internal/llm"
	"github.com/LIUAPP/AgenticBugFix/internal/metrics"
	"github.com/LIUAPP/AgenticBugFix/internal/stream"
	"github.com/LIUAPP/AgenticBugFix/internal/tool"
)

// Config bounds a run.
type Config struct {
	MaxIterations     int
	Policy            Policy
	CompletionTimeout time.Duration
	SystemPrompt      string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     12,
		Policy:            Permissive,
		CompletionTimeout: 3 * time.Minute,
		SystemPrompt:      SystemPrompt,
	}
}

// Recorder persists the run ledger. Transcripts are never passed to it.
type Recorder interface {
	CreateRun(ctx context.Context, run *domain.RunRecord) error
	FinishRun(ctx context.Context, run *domain.RunRecord) error
}

// Agent builds runs that share the same collaborators.
type Agent struct {
	completer  llm.Completer
	dispatcher *tool.Dispatcher
	emitter    *stream.Emitter
	cfg        Config
	recorder   Recorder
	logger     *slog.Logger
	newID      func() string
}

// Option configures an Agent.
type Option func(*Agent)

// WithRecorder stores a ledger entry for every run.
func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithIDGenerator replaces the response id generator.
func WithIDGenerator(fn func() string) Option {
	return func(a *Agent) { a.newID = fn }
}

// New creates an Agent.
func New(completer llm.Completer, dispatcher *tool.Dispatcher, emitter *stream.Emitter, cfg Config, opts ...Option) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = SystemPrompt
	}
	a := &Agent{
		completer:  completer,
		dispatcher: dispatcher,
		emitter:    emitter,
		cfg:        cfg,
		logger:     slog.Default(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Reject reports a prompt that was empty after sanitization. No run is started.
func (a *Agent) Reject(ctx context.Context, conversationID string, sink domain.Sink) error {
	a.record(ctx, &domain.RunRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Status:         domain.RunRejected,
		Detail:         EmptyPromptDetail,
		StartedAt:      time.Now(),
	}, true)
	return sink.Send(ctx, domain.Event{
		ConversationID: conversationID,
		ResponseID:     a.newID(),
		Type:           domain.EventError,
		Status:         domain.StatusError,
		Metadata:       map[string]string{domain.MetaDetail: EmptyPromptDetail},
	})
}

// NewRun prepares a run for an already sanitized prompt.
func (a *Agent) NewRun(conversationID, prompt string, sink domain.Sink) *Run {
	return &Run{
		agent:  a,
		prompt: prompt,
		record: &domain.RunRecord{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Status:         domain.RunStarted,
			PromptPreview:  truncateRunes(prompt, PromptPreviewChars),
		},
		turn: &turn{
			conversationID: conversationID,
			sink:           sink,
			emitter:        a.emitter,
			newID:          a.newID,
		},
		state:  domain.StepIntake,
		logger: a.logger.With("conversation_id", conversationID),
	}
}

func (a *Agent) record(ctx context.Context, rec *domain.RunRecord, finished bool) {
	if a.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var err error
	if finished {
		if rec.EndedAt == nil {
			now := time.Now()
			rec.EndedAt = &now
		}
		if rec.Status == domain.RunRejected {
			err = a.recorder.CreateRun(ctx, rec)
		} else {
			err = a.recorder.FinishRun(ctx, rec)
		}
	} else {
		err = a.recorder.CreateRun(ctx, rec)
	}
	if err != nil {
		a.logger.Warn("Failed to record run", "run_id", rec.ID, "status", rec.Status, "error", err)
	}
}

// Run is one execution of the loop for one user message. It owns its
// transcript; nothing else reads or writes it.
type Run struct {
	agent      *Agent
	prompt     string
	record     *domain.RunRecord
	turn       *turn
	transcript *domain.Transcript
	state      domain.StepKind
	logger     *slog.Logger
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.record.ID
}

// ResponseID returns the response id of the open turn, or "" between turns.
func (r *Run) ResponseID() string {
	return r.turn.ResponseID()
}

// Transcript exposes the run's messages once it has finished.
func (r *Run) Transcript() []domain.Message {
	if r.transcript == nil {
		return nil
	}
	return r.transcript.Messages()
}

// Execute drives the loop until a terminal step, the iteration ceiling, an
// unrecoverable error or cancellation. A cancelled run returns ctx.Err() and
// emits nothing further; the caller reports the stop.
func (r *Run) Execute(ctx context.Context) (err error) {
	a := r.agent
	r.record.StartedAt = time.Now()
	a.record(ctx, r.record, false)
	metrics.RunStarted()
	defer func() {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			r.record.Status = domain.RunStopped
		} else if err != nil && r.record.Status == domain.RunStarted {
			r.record.Status = domain.RunFailed
			r.record.Detail = err.Error()
		}
		metrics.RunFinished(string(r.record.Status))
		a.record(ctx, r.record, true)
	}()

	if err := r.turn.Start(ctx, r.prompt); err != nil {
		return err
	}
	r.transcript = domain.NewTranscript(a.cfg.SystemPrompt, r.prompt)

	for iteration := 1; iteration <= a.cfg.MaxIterations; iteration++ {
		r.record.Iterations = iteration
		r.logger.Info("Agent iteration", "iteration", iteration, "run_id", r.record.ID)

		reply, err := r.complete(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.fail(ctx, err)
		}

		if reply.HasToolCalls() {
			if err := r.runToolCalls(ctx, reply); err != nil {
				return err
			}
			continue
		}

		payload, err := r.decode(reply.Content)
		if err != nil {
			r.logger.Warn("Bad payload", "iteration", iteration, "error", err)
			r.transcript.Append(domain.Message{Role: domain.RoleUser, Content: CorrectiveMessage})
			continue
		}
		r.transcript.Append(domain.Message{Role: domain.RoleAssistant, Content: reply.Content})
		r.state = payload.Step
		r.record.FinalStep = payload.Step

		if payload.Step == domain.StepSummary {
			return r.finishSummary(ctx, iteration, payload)
		}
		return r.finishStep(ctx, iteration, payload)
	}

	return r.exhausted(ctx)
}

func (r *Run) complete(ctx context.Context) (llm.Reply, error) {
	a := r.agent
	callCtx := ctx
	if a.cfg.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.cfg.CompletionTimeout)
		defer cancel()
	}

	reply, err := a.completer.Complete(callCtx, llm.Request{
		Messages: r.transcript.Messages(),
		Tools:    a.dispatcher.Definitions(),
	})
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return llm.Reply{}, fmt.Errorf("completion timed out after %s", a.cfg.CompletionTimeout)
	}
	return reply, err
}

// decode parses a content reply and applies the transition policy.
func (r *Run) decode(content string) (domain.StepPayload, error) {
	payload, err := domain.DecodeStep(content)
	if err != nil {
		return payload, err
	}
	if !r.checkTransition(payload.Step) {
		return payload, fmt.Errorf("%w: step %s is not allowed after %s", domain.ErrProtocol, payload.Step, r.state)
	}
	return payload, nil
}

// checkTransition reports whether the run may move to step under the policy.
func (r *Run) checkTransition(step domain.StepKind) bool {
	if Allowed(r.state, step) {
		return true
	}
	metrics.IllegalTransition(string(r.state), string(step))
	r.logger.Info("Illegal step transition", "from", r.state, "to", step, "policy", r.agent.cfg.Policy)
	return r.agent.cfg.Policy != Strict
}

func (r *Run) runToolCalls(ctx context.Context, reply llm.Reply) error {
	r.transcript.Append(domain.Message{
		Role:      domain.RoleAssistant,
		Content:   reply.Content,
		ToolCalls: reply.ToolCalls,
	})
	for _, call := range reply.ToolCalls {
		if err := r.runToolCall(ctx, call); err != nil {
			return err
		}
	}
	return r.turn.End(ctx, r.turn.Text())
}

func (r *Run) runToolCall(ctx context.Context, call domain.ToolCall) error {
	name := tool.Name(call.Name)
	preview := tool.Preview(call.Name, tool.ParseArgs(call.Arguments))

	if err := r.openToolTurn(ctx, name, preview); err != nil {
		return err
	}
	if err := r.turn.Stream(ctx, preview); err != nil {
		return err
	}
	r.turn.Note("\n")

	var content string
	step := name.Step()
	if step != "" && !r.checkTransition(step) {
		content = fmt.Sprintf("error: step %s is not allowed after %s", step, r.state)
	} else {
		res, err := r.agent.dispatcher.Invoke(ctx, call)
		if err != nil {
			return err
		}
		content = res.Content
		if step != "" {
			r.state = step
		}
	}

	r.transcript.AppendToolResult(call.ID, content)
	return r.turn.Stream(ctx, tool.ResultText(call.Name, content))
}

// openToolTurn makes sure a turn is open for a tool call. The intake tool
// continues the current turn; other tools get their own turn unless the open
// one has not streamed anything yet.
func (r *Run) openToolTurn(ctx context.Context, name tool.Name, preview string) error {
	if r.turn.IsOpen() {
		if r.turn.Pristine() || name == tool.FetchJira {
			return nil
		}
		if err := r.turn.End(ctx, r.turn.Text()); err != nil {
			return err
		}
	}
	return r.turn.Start(ctx, preview)
}

func (r *Run) finishSummary(ctx context.Context, iteration int, p domain.StepPayload) error {
	if !r.turn.Pristine() {
		if r.turn.IsOpen() {
			if err := r.turn.End(ctx, r.turn.Text()); err != nil {
				return err
			}
		}
		if err := r.turn.Start(ctx, stepPreview(iteration, p)); err != nil {
			return err
		}
	}
	if err := r.turn.Stream(ctx, SummaryPreamble+p.Reasoning); err != nil {
		return err
	}
	if err := r.turn.End(ctx, strings.TrimSpace(r.turn.Text())); err != nil {
		return err
	}
	r.record.Status = domain.RunCompleted
	return r.turn.Celebrate(ctx)
}

// finishStep handles content-only steps that end the run without a summary,
// such as an intake rejection or a declared error.
func (r *Run) finishStep(ctx context.Context, iteration int, p domain.StepPayload) error {
	preview := stepPreview(iteration, p)
	if !r.turn.IsOpen() {
		if err := r.turn.Start(ctx, preview); err != nil {
			return err
		}
	}
	if err := r.turn.Stream(ctx, preview); err != nil {
		return err
	}
	r.turn.Note("\n")
	if err := r.turn.End(ctx, p.Reasoning); err != nil {
		return err
	}
	if p.Step == domain.StepError {
		r.record.Status = domain.RunFailed
		r.record.Detail = p.Reasoning
	} else {
		r.record.Status = domain.RunCompleted
	}
	return nil
}

func (r *Run) exhausted(ctx context.Context) error {
	notice := ceilingNotice(r.agent.cfg.MaxIterations)
	r.logger.Info(notice)
	if !r.turn.IsOpen() {
		if err := r.turn.Start(ctx, notice); err != nil {
			return err
		}
	}
	r.record.Status = domain.RunExhausted
	return r.turn.End(ctx, notice)
}

// fail reports an unrecoverable error on an open turn and ends the run.
func (r *Run) fail(ctx context.Context, cause error) error {
	r.logger.Error("Agent failed to process prompt", "run_id", r.record.ID, "error", cause)
	r.record.Status = domain.RunFailed
	r.record.Detail = cause.Error()
	if !r.turn.IsOpen() {
		if err := r.turn.Start(ctx, r.prompt); err != nil {
			return err
		}
	}
	if err := r.turn.Fail(ctx, cause.Error()); err != nil {
		return err
	}
	return cause
}
