// Package channel serves the agent over a WebSocket: it decodes client
// commands, drives runs through a per-connection session registry and writes
// events back as JSON text frames.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/LIUAPP/AgenticBugFix/internal/agent"
	"github.com/LIUAPP/AgenticBugFix/internal/domain"
	"github.com/LIUAPP/AgenticBugFix/internal/metrics"
	"github.com/LIUAPP/AgenticBugFix/internal/session"
)

// Inbound command types.
const (
	CommandUserMessage  = "user-message"
	CommandStopResponse = "stop-response"
	CommandNewSession   = "new-session"
)

// RateLimitDetail is reported when a connection sends messages too fast.
const RateLimitDetail = "rate limit exceeded"

const cancelTimeout = 10 * time.Second

// Command is a client message.
type Command struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Prompt         string `json:"prompt,omitempty"`
	ResponseID     string `json:"responseId,omitempty"`
}

// Options configures a Handler.
type Options struct {
	OriginPatterns []string
	RatePerMinute  int
	RateBurst      int
	EventLog       EventLogger
	Logger         *slog.Logger
}

// Handler accepts WebSocket connections on the agent endpoint.
type Handler struct {
	agent   *agent.Agent
	origins []string
	limit   rate.Limit
	burst   int
	events  EventLogger
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(a *agent.Agent, opts Options) *Handler {
	h := &Handler{
		agent:   a,
		origins: opts.OriginPatterns,
		limit:   rate.Inf,
		burst:   1,
		events:  opts.EventLog,
		logger:  opts.Logger,
	}
	if len(h.origins) == 0 {
		h.origins = []string{"*"}
	}
	if opts.RatePerMinute > 0 {
		h.limit = rate.Every(time.Minute / time.Duration(opts.RatePerMinute))
		h.burst = max(opts.RateBurst, 1)
	}
	if h.events == nil {
		h.events = noopEventLogger{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		h:        h,
		ws:       ws,
		ctx:      ctx,
		registry: session.NewRegistry(h.logger),
		limiter:  rate.NewLimiter(h.limit, h.burst),
		logger:   h.logger.With("remote", r.RemoteAddr),
	}
	c.logger.Info("Agent channel connected")

	c.readLoop()

	cancel()
	c.registry.TeardownAll()
	if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
		c.logger.Debug("Failed to close websocket", "error", closeErr)
	}
	c.logger.Info("Agent channel closed")
}

// conn is the state of one accepted connection.
type conn struct {
	h        *Handler
	ws       *websocket.Conn
	ctx      context.Context
	registry *session.Registry
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.logger.Debug("WebSocket closed by client")
			} else {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.logger.Warn("Dropping malformed command", "error", err, "bytes", len(data))
			continue
		}
		c.dispatch(cmd)
	}
}

func (c *conn) dispatch(cmd Command) {
	if cmd.ConversationID == "" {
		c.logger.Warn("Dropping command without conversationId", "type", cmd.Type)
		return
	}
	switch cmd.Type {
	case CommandUserMessage:
		c.handleUserMessage(cmd)
	case CommandStopResponse:
		c.handleStop(cmd)
	case CommandNewSession:
		ctx, cancel := context.WithTimeout(c.ctx, cancelTimeout)
		defer cancel()
		if err := c.registry.Reset(ctx, cmd.ConversationID); err != nil {
			c.logger.Warn("Failed to reset session", "conversation_id", cmd.ConversationID, "error", err)
		}
	default:
		c.logger.Warn("Dropping unknown command", "type", cmd.Type, "conversation_id", cmd.ConversationID)
	}
}

func (c *conn) handleUserMessage(cmd Command) {
	sink := c.sink()
	// A message for a busy conversation is dropped before it can spend a
	// token or produce an event.
	if c.registry.Active(cmd.ConversationID) {
		c.logger.Info("Run already active, dropping message", "conversation_id", cmd.ConversationID)
		return
	}
	if !c.limiter.Allow() {
		c.logger.Warn("Rate limit exceeded", "conversation_id", cmd.ConversationID)
		c.sendError(cmd.ConversationID, RateLimitDetail)
		return
	}

	prompt, err := agent.Sanitize(cmd.Prompt)
	if err != nil {
		if err := c.h.agent.Reject(c.ctx, cmd.ConversationID, sink); err != nil {
			c.logger.Debug("Failed to send rejection", "error", err)
		}
		return
	}

	run := c.h.agent.NewRun(cmd.ConversationID, prompt, sink)
	if _, err := c.registry.StartRun(c.ctx, cmd.ConversationID, run); err != nil {
		if errors.Is(err, session.ErrAlreadyRunning) {
			c.logger.Info("Run already active, dropping message", "conversation_id", cmd.ConversationID)
			return
		}
		c.logger.Error("Failed to start run", "conversation_id", cmd.ConversationID, "error", err)
	}
}

func (c *conn) handleStop(cmd Command) {
	ctx, cancel := context.WithTimeout(c.ctx, cancelTimeout)
	defer cancel()

	out, err := c.registry.Cancel(ctx, cmd.ConversationID)
	if err != nil {
		c.logger.Warn("Failed to stop run", "conversation_id", cmd.ConversationID, "error", err)
		return
	}
	if !out.Stopped {
		return
	}

	// The run stopped between turns, for example while waiting on the model
	// after a tool turn ended. The id the client holds already has its
	// terminator, so the stop gets a turn of its own.
	responseID := out.ResponseID
	if responseID == "" {
		responseID = uuid.NewString()
		start := domain.Event{
			ConversationID: cmd.ConversationID,
			ResponseID:     responseID,
			Type:           domain.EventStart,
			Status:         domain.StatusThinking,
		}
		if err := c.write(start); err != nil {
			c.logger.Debug("Failed to send stop turn start", "error", err)
			return
		}
	}
	ev := domain.Event{
		ConversationID: cmd.ConversationID,
		ResponseID:     responseID,
		Type:           domain.EventStop,
		Status:         domain.StatusStopped,
	}
	if err := c.write(ev); err != nil {
		c.logger.Debug("Failed to send stop", "error", err)
	}
}

func (c *conn) sendError(conversationID, detail string) {
	ev := domain.Event{
		ConversationID: conversationID,
		ResponseID:     uuid.NewString(),
		Type:           domain.EventError,
		Status:         domain.StatusError,
		Metadata:       map[string]string{domain.MetaDetail: detail},
	}
	if err := c.write(ev); err != nil {
		c.logger.Debug("Failed to send error", "error", err)
	}
}

// sink returns the event sink handed to runs. A run's own context gates its
// writes; the frame itself is written with the connection context because
// cancelling a write closes the connection.
func (c *conn) sink() domain.Sink {
	return domain.SinkFunc(func(ctx context.Context, ev domain.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return c.write(ev)
	})
}

func (c *conn) write(ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := c.ws.Write(c.ctx, websocket.MessageText, data); err != nil {
		return err
	}
	metrics.EventSent(string(ev.Type))
	c.h.events.Log(ev)
	return nil
}
