package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithFieldsAreAttached(t *testing.T) {
	buf := &bytes.Buffer{}
	l := FromWriter(buf)

	l.WithStr("session", "abc").WithInt("attempt", 3).WithBool("match", false).Info("broadcast")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "broadcast", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "abc", line["session"])
	assert.Equal(t, float64(3), line["attempt"])
	assert.Equal(t, false, line["match"])
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	buf := &bytes.Buffer{}
	l := FromWriter(buf)

	_ = l.WithStr("peer", "10.0.0.2")
	l.Info("parent")

	assert.NotContains(t, buf.String(), "peer")
}

func TestSetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	l := FromWriter(buf)
	l.SetLevel(zerolog.InfoLevel)

	l.Debug("hidden")
	l.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "test.log")

	l := New()
	l.Init(path)
	l.Error("could not bind UDP socket")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "could not bind UDP socket"))
}

func TestInitMultiWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multi.log")
	console := &bytes.Buffer{}

	l := New()
	l.InitMultiWriter(path, console)
	l.Info("received ack")

	assert.Contains(t, console.String(), "received ack")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "received ack")
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().WithAny("k", 1).Error("dropped")
	})
}
