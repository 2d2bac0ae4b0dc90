package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wraithsec/wraith-cli/internal/config"
)

// initBuffered initializes the global logger against an in-memory writer so
// tests never fight over stdout.
func initBuffered(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitializeConsoleWithColors(t *testing.T) {
	buf := initBuffered(t, config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "TestService",
		Colors:      config.ColorConfig{Info: "green"},
	})

	GetLogger().Info("This is a test message.")

	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "This is a test message.")
	assert.Contains(t, output, colorGreen, "info level should be colorized green")
	assert.Contains(t, output, colorReset)
	assert.Contains(t, output, "TestService")
}

func TestInitializeJSONFormat(t *testing.T) {
	buf := initBuffered(t, config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "JSONTest",
	})

	GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be valid JSON")
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "JSONTest", entry["logger"])
	assert.Equal(t, "This is a JSON message.", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestInitializeWritesLogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "wraith.log")
	initBuffered(t, config.LoggerConfig{
		Level:   "debug",
		Format:  "json",
		LogFile: logFile,
		MaxSize: 1,
	})

	GetLogger().Error("This should go to the file.")
	Sync()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "This should go to the file.")
}

func TestInitializeOnlyOnce(t *testing.T) {
	buf := initBuffered(t, config.LoggerConfig{Level: "info", ServiceName: "First"})

	// A second initialization must be ignored.
	Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))

	GetLogger().Info("test")
	assert.True(t, strings.Contains(buf.String(), "First"))
	assert.False(t, strings.Contains(buf.String(), "Second"))
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger, "uninitialized GetLogger must still return a usable logger")
}

func TestGetLoggerReturnsGlobalInstance(t *testing.T) {
	initBuffered(t, config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
	assert.Equal(t, globalLogger.Load(), GetLogger())
}
