package channel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

// EventLogConfig configures the NDJSON event log.
type EventLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// EventLogger records outbound events. Log never blocks the caller.
type EventLogger interface {
	Log(ev domain.Event)
	Close() error
}

// EventLogEntry is one NDJSON line.
type EventLogEntry struct {
	Time time.Time `json:"time"`
	domain.Event
}

type noopEventLogger struct{}

func (noopEventLogger) Log(domain.Event) {}
func (noopEventLogger) Close() error     { return nil }

// NewEventLogger returns a file-backed logger writing one file per
// conversation, or a no-op logger when disabled.
func NewEventLogger(cfg EventLogConfig, logger *slog.Logger) (EventLogger, error) {
	if !cfg.Enabled {
		return noopEventLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}

	l := &fileEventLogger{
		dir:    cfg.Dir,
		queue:  make(chan EventLogEntry, cfg.QueueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

type fileEventLogger struct {
	dir    string
	queue  chan EventLogEntry
	logger *slog.Logger
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func (l *fileEventLogger) Log(ev domain.Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- EventLogEntry{Time: time.Now().UTC(), Event: ev}:
	default:
		l.logger.Warn("Event log queue full, dropping event",
			"conversation_id", ev.ConversationID,
			"type", ev.Type,
		)
	}
}

func (l *fileEventLogger) run() {
	defer close(l.done)
	for entry := range l.queue {
		if err := l.write(entry); err != nil {
			l.logger.Warn("Failed to write event log", "conversation_id", entry.ConversationID, "error", err)
		}
	}
}

// write appends one line and closes the file again, so the number of open
// descriptors does not grow with the number of conversations.
func (l *fileEventLogger) write(entry EventLogEntry) (err error) {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	path := filepath.Join(l.dir, logFileName(entry.ConversationID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	_, err = f.Write(append(line, '\n'))
	return err
}

// Close flushes queued entries.
func (l *fileEventLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

// logFileName keeps the readable part of the id and adds a short hash of the
// raw id, so ids that sanitize to the same text get different files.
func logFileName(conversationID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, conversationID)
	if name == "" {
		name = "unknown"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	sum := sha256.Sum256([]byte(conversationID))
	return name + "-" + hex.EncodeToString(sum[:4]) + ".ndjson"
}
