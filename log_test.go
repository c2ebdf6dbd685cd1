package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugLog(t *testing.T) {
	var buf bytes.Buffer
	l := newDebugLog(&buf)
	assert.False(t, l.Debug())

	l.Logger.Debug("hidden")
	l.Logger.Info("shown")
	l.SetDebug(true)
	assert.True(t, l.Debug())
	l.Logger.Debug("debug shown")
	l.SetDebug(false)
	l.Logger.Debug("hidden again")

	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		msgs = append(msgs, entry["msg"].(string))
	}
	assert.Equal(t, []string{"shown", "debug shown"}, msgs)
}

func TestDebugLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "squid.log")
	l := NewDebugLog(path, LogConfig{MaxSize: 1, Debug: true})
	l.Logger.Debug("hello")
	l.Close()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
}
