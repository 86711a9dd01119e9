package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForComponentAddsComponentAttr(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelDebug)
	defer Shutdown()

	ForComponent(CompConn).Info("state_change", slog.String("state", "connected"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "conn", line["component"])
	assert.Equal(t, "state_change", line["msg"])
	assert.Equal(t, "connected", line["state"])
}

func TestForComponentPicksUpLateInit(t *testing.T) {
	Shutdown()

	// Created before any configuration: must not capture the discard
	// handler permanently.
	logger := ForComponent(CompSession)

	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelInfo)
	defer Shutdown()

	logger.Info("ready")
	assert.Contains(t, buf.String(), `"component":"session"`)
}

func TestInitWritesToLogDir(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug", Format: "json"})
	defer Shutdown()

	ForComponent(CompHost).Debug("listening")

	data, err := os.ReadFile(filepath.Join(dir, "shellpanel.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "listening")
}

func TestInitDiscardsWithoutDirOrDebug(t *testing.T) {
	Init(Config{})
	defer Shutdown()

	// Must not panic, and must report level gating from the discard
	// handler without blowing up.
	ForComponent(CompStore).Info("noop")
}
