// Package session tracks the conversations of one channel connection and the
// single in-flight run each of them may have.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by StartRun when the conversation has an
// unfinished run.
var ErrAlreadyRunning = errors.New("session already has an active run")

// Run is the cancellable work started for a user message.
type Run interface {
	Execute(ctx context.Context) error
	// ResponseID returns the id of the turn the run is streaming, or "".
	ResponseID() string
}

// Session is the per-conversation state.
type Session struct {
	ConversationID string
	CreatedAt      time.Time

	active *Unit
}

// Unit is one started run and its completion state.
type Unit struct {
	run    Run
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed when the run has settled.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// Err returns the run's result. It is only meaningful after Done is closed.
func (u *Unit) Err() error {
	select {
	case <-u.done:
		return u.err
	default:
		return nil
	}
}

// Outcome reports what Cancel observed.
type Outcome struct {
	// Stopped is true when the run ended because of the cancellation. The
	// caller then emits exactly one stop event.
	Stopped bool
	// ResponseID is the turn that was open when the run stopped, if any.
	ResponseID string
}

// Registry holds the sessions of one connection. All methods are safe for
// concurrent use; none of them blocks while holding the lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// GetOrCreate returns the session for a conversation, creating it if needed.
func (r *Registry) GetOrCreate(conversationID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(conversationID)
}

func (r *Registry) getOrCreateLocked(conversationID string) *Session {
	s, ok := r.sessions[conversationID]
	if !ok {
		s = &Session{ConversationID: conversationID, CreatedAt: time.Now()}
		r.sessions[conversationID] = s
		r.logger.Info("Session created", "conversation_id", conversationID)
	}
	return s
}

// StartRun executes run in its own goroutine under a context derived from
// ctx. The session's active unit is cleared when the run settles, however
// it ends.
func (r *Registry) StartRun(ctx context.Context, conversationID string, run Run) (*Unit, error) {
	r.mu.Lock()
	s := r.getOrCreateLocked(conversationID)
	if s.active != nil {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	u := &Unit{run: run, cancel: cancel, done: make(chan struct{})}
	s.active = u
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer cancel()
		defer func() {
			r.mu.Lock()
			if s.active == u {
				s.active = nil
			}
			r.mu.Unlock()
			close(u.done)
		}()
		u.err = run.Execute(runCtx)
		if u.err != nil && !errors.Is(u.err, context.Canceled) {
			r.logger.Warn("Run ended with error", "conversation_id", conversationID, "error", u.err)
		}
	}()
	return u, nil
}

// Active reports whether the conversation has an unfinished run.
func (r *Registry) Active(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[conversationID]
	return ok && s.active != nil
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) activeUnit(conversationID string) *Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[conversationID]; ok {
		return s.active
	}
	return nil
}

// Cancel stops the active run of a conversation and waits for it to settle.
// It is a no-op when nothing is running. If the run finished on its own
// before observing the cancellation, Outcome.Stopped is false.
func (r *Registry) Cancel(ctx context.Context, conversationID string) (Outcome, error) {
	u := r.activeUnit(conversationID)
	if u == nil {
		return Outcome{}, nil
	}
	u.cancel()
	select {
	case <-u.done:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	out := Outcome{Stopped: errors.Is(u.err, context.Canceled)}
	if out.Stopped {
		out.ResponseID = u.run.ResponseID()
		r.logger.Info("Run stopped", "conversation_id", conversationID, "response_id", out.ResponseID)
	}
	return out, nil
}

// Reset cancels any active run and forgets the conversation. It emits nothing.
func (r *Registry) Reset(ctx context.Context, conversationID string) error {
	if _, err := r.Cancel(ctx, conversationID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sessions, conversationID)
	r.mu.Unlock()
	r.logger.Info("Session reset", "conversation_id", conversationID)
	return nil
}

// TeardownAll cancels every run, waits for all of them and clears the table.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	n := len(r.sessions)
	for _, s := range r.sessions {
		if s.active != nil {
			s.active.cancel()
		}
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	r.wg.Wait()
	if n > 0 {
		r.logger.Info("Sessions torn down", "count", n)
	}
}
