package channel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

func TestEventLoggerWritesPerConversationNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewEventLogger(EventLogConfig{Enabled: true, Dir: dir, QueueSize: 16}, nil)
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	logger.Log(domain.Event{
		ConversationID: "conv-1",
		ResponseID:     "r1",
		Type:           domain.EventToken,
		Status:         domain.StatusStreaming,
		Token:          "hello ",
	})

	line := waitForLogLine(t, filepath.Join(dir, logFileName("conv-1")))
	var got EventLogEntry
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	assert.Equal(t, "hello ", got.Token)
	assert.Equal(t, "r1", got.ResponseID)
	assert.False(t, got.Time.IsZero())
}

func TestEventLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewEventLogger(EventLogConfig{}, nil)
	require.NoError(t, err)
	logger.Log(domain.Event{ConversationID: "conv-1"})
	assert.NoError(t, logger.Close())
}

func TestEventLoggerIgnoresLogAfterClose(t *testing.T) {
	t.Parallel()

	logger, err := NewEventLogger(EventLogConfig{Enabled: true, Dir: t.TempDir(), QueueSize: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	logger.Log(domain.Event{ConversationID: "conv-1"})
	assert.NoError(t, logger.Close())
}

func TestLogFileName(t *testing.T) {
	name := logFileName("conv-1")
	assert.True(t, strings.HasPrefix(name, "conv-1-"), name)
	assert.True(t, strings.HasSuffix(name, ".ndjson"), name)
	assert.Equal(t, name, logFileName("conv-1"))

	assert.True(t, strings.HasPrefix(logFileName("../etc/passwd"), "___etc_passwd-"))
	assert.NotContains(t, logFileName("../etc/passwd"), "/")
	assert.True(t, strings.HasPrefix(logFileName(""), "unknown-"))

	// Ids that sanitize to the same text still get separate files.
	assert.NotEqual(t, logFileName("conv/1"), logFileName("conv_1"))
	assert.True(t, strings.HasPrefix(logFileName("conv/1"), "conv_1-"))
}

func TestEventLoggerKeepsCollidingIDsApart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewEventLogger(EventLogConfig{Enabled: true, Dir: dir, QueueSize: 16}, nil)
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	logger.Log(domain.Event{ConversationID: "conv/1", Type: domain.EventToken, Token: "slash"})
	logger.Log(domain.Event{ConversationID: "conv_1", Type: domain.EventToken, Token: "underscore"})

	var slash, underscore EventLogEntry
	require.NoError(t, json.Unmarshal([]byte(waitForLogLine(t, filepath.Join(dir, logFileName("conv/1")))), &slash))
	require.NoError(t, json.Unmarshal([]byte(waitForLogLine(t, filepath.Join(dir, logFileName("conv_1")))), &underscore))
	assert.Equal(t, "conv/1", slash.ConversationID)
	assert.Equal(t, "slash", slash.Token)
	assert.Equal(t, "conv_1", underscore.ConversationID)
	assert.Equal(t, "underscore", underscore.Token)
}

func TestEventLoggerReopensFilePerEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewEventLogger(EventLogConfig{Enabled: true, Dir: dir, QueueSize: 16}, nil)
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	path := filepath.Join(dir, logFileName("conv-1"))
	logger.Log(domain.Event{ConversationID: "conv-1", Token: "first"})
	waitForLogLine(t, path)

	// No handle is held between entries, so a rotated file is recreated.
	require.NoError(t, os.Remove(path))
	logger.Log(domain.Event{ConversationID: "conv-1", Token: "second"})

	var got EventLogEntry
	require.NoError(t, json.Unmarshal([]byte(waitForLogLine(t, path)), &got))
	assert.Equal(t, "second", got.Token)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
