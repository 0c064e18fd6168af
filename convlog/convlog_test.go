package convlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesOneRecordPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "conversation_log.jsonl")
	l, err := New(path, nil)
	require.NoError(t, err)

	l.Append(EventUserMessageSent, map[string]any{"content": "ahoj"})
	l.Append(EventToolCallStarted, map[string]any{"call_id": "c1", "tool_name": "t"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	var rec struct {
		Timestamp string         `json:"timestamp"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, EventUserMessageSent, rec.EventType)
	assert.Equal(t, "ahoj", rec.Data["content"])

	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, EventToolCallStarted, rec.EventType)
	assert.Equal(t, "c1", rec.Data["call_id"])
}

func TestNilLoggerDropsRecords(t *testing.T) {
	var l *Logger
	require.NotPanics(t, func() { l.Append(EventToolCallEnded, nil) })
}

func TestNewCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c", "log.jsonl")
	_, err := New(path, nil)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
