package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
	"github.com/LIUAPP/AgenticBugFix/internal/stream"
)

var (
	errTurnOpen   = errors.New("turn already open")
	errTurnClosed = errors.New("no open turn")
)

// turn tracks the response id and state of the current logical turn, so that
// every turn gets exactly one start and at most one terminator.
// Only the owning run goroutine mutates it; ResponseID may be read from others.
type turn struct {
	conversationID string
	sink           domain.Sink
	emitter        *stream.Emitter
	newID          func() string

	mu       sync.Mutex
	id       string
	open     bool
	pristine bool
	text     strings.Builder
}

func (t *turn) event(typ domain.EventType, status domain.Status) domain.Event {
	return domain.Event{
		ConversationID: t.conversationID,
		ResponseID:     t.id,
		Type:           typ,
		Status:         status,
	}
}

// Start opens a new turn with a fresh response id. The turn counts as open
// only once its start event was delivered.
func (t *turn) Start(ctx context.Context, preview string) error {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return errTurnOpen
	}
	id := t.newID()
	t.mu.Unlock()

	ev := domain.Event{
		ConversationID: t.conversationID,
		ResponseID:     id,
		Type:           domain.EventStart,
		Status:         domain.StatusThinking,
		Metadata:       map[string]string{domain.MetaPromptPreview: truncateRunes(preview, PromptPreviewChars)},
	}
	if err := t.sink.Send(ctx, ev); err != nil {
		return err
	}

	t.mu.Lock()
	t.id = id
	t.open = true
	t.pristine = true
	t.text.Reset()
	t.mu.Unlock()
	return nil
}

// Stream sends text as paced token events of the open turn.
func (t *turn) Stream(ctx context.Context, text string) error {
	if !t.IsOpen() {
		return errTurnClosed
	}
	for tok, err := range t.emitter.Stream(ctx, text) {
		if err != nil {
			return err
		}
		ev := t.event(domain.EventToken, domain.StatusStreaming)
		ev.Token = tok
		if err := t.sink.Send(ctx, ev); err != nil {
			return err
		}
		t.text.WriteString(tok)
		t.mu.Lock()
		t.pristine = false
		t.mu.Unlock()
	}
	return nil
}

// Note appends to the turn text without emitting anything.
func (t *turn) Note(s string) {
	t.text.WriteString(s)
}

// Text returns everything streamed in the current turn.
func (t *turn) Text() string {
	return t.text.String()
}

// End closes the turn with a completion event.
func (t *turn) End(ctx context.Context, content string) error {
	ev, err := t.terminator(domain.EventEnd, domain.StatusCompleted)
	if err != nil {
		return err
	}
	ev.Content = content
	return t.close(ctx, ev)
}

// Fail closes the turn with an error event.
func (t *turn) Fail(ctx context.Context, detail string) error {
	ev, err := t.terminator(domain.EventError, domain.StatusError)
	if err != nil {
		return err
	}
	ev.Metadata = map[string]string{domain.MetaDetail: detail}
	return t.close(ctx, ev)
}

// Celebrate follows a completed summary turn, reusing its response id.
func (t *turn) Celebrate(ctx context.Context) error {
	ev := t.event(domain.EventCelebration, domain.StatusCelebrating)
	ev.Metadata = map[string]string{domain.MetaCelebration: CelebrationFireworks}
	return t.sink.Send(ctx, ev)
}

func (t *turn) terminator(typ domain.EventType, status domain.Status) (domain.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return domain.Event{}, errTurnClosed
	}
	return t.event(typ, status), nil
}

// close sends the terminator and marks the turn closed once it was delivered.
// An undelivered terminator leaves the turn open for the stop path to close.
func (t *turn) close(ctx context.Context, ev domain.Event) error {
	if err := t.sink.Send(ctx, ev); err != nil {
		return err
	}
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()
	return nil
}

// IsOpen reports whether a turn has started and not yet terminated.
func (t *turn) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Pristine reports whether the open turn has not streamed any token yet.
func (t *turn) Pristine() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && t.pristine
}

// ResponseID returns the id of the open turn, or "" between turns.
func (t *turn) ResponseID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return ""
	}
	return t.id
}
