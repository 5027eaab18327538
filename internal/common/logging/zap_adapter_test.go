package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapAdapter(t *testing.T) {
	t.Run("levels", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
		require.NoError(t, err)

		logger.Debug("debug message", Field{"rule", 0})
		logger.Info("info message", Field{"destinations", 2})
		logger.Warn("warn message", Field{"read_only", true})
		logger.Error("error message", errors.New("connection refused"), Field{"destination", "pacs"})

		output := buf.String()
		for _, want := range []string{
			"DEBUG", "debug message",
			"INFO", "info message",
			"WARN", "warn message", "true",
			"ERROR", "error message", "connection refused", "pacs",
		} {
			assert.Contains(t, output, want)
		}
	})

	t.Run("filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
		require.NoError(t, err)

		logger.Debug("hidden debug")
		logger.Info("hidden info")
		logger.Warn("shown warn")

		output := buf.String()
		assert.NotContains(t, output, "hidden")
		assert.Contains(t, output, "shown warn")
	})

	t.Run("with fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
		require.NoError(t, err)

		logger.WithFields(Field{"component", "dispatcher"}).Info("forwarded")

		assert.Contains(t, buf.String(), "dispatcher")
		assert.Same(t, logger, logger.WithFields())
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Format: FormatJSON, Output: &buf, Name: "router"})
		require.NoError(t, err)

		logger.Info("rules replaced", Field{"generation", 3})

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "rules replaced", entry["msg"])
		assert.Equal(t, "router", entry["logger"])
		assert.Equal(t, float64(3), entry["generation"])
	})

	t.Run("with context", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
		require.NoError(t, err)

		ctx := ContextWithStudyID(ContextWithRequestID(context.Background(), "req-1"), "study-9")
		logger.WithContext(ctx).Info("routing")

		output := buf.String()
		assert.Contains(t, output, "req-1")
		assert.Contains(t, output, "study-9")
		assert.Same(t, logger, logger.WithContext(context.Background()))
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatConsole, ParseFormat("console"))
	assert.Equal(t, FormatConsole, ParseFormat(""))
}

func TestInitGlobalLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.log")

	logger, err := InitGlobalLogger("debug", "console", path)
	require.NoError(t, err)
	assert.Same(t, logger, GetGlobalLogger())

	Info("global message", String("key", "value"))
	MustSync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "global message"))

	_, err = InitGlobalLogger("info", "", filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.Error(t, err)
}
