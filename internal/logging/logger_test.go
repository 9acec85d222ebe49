package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLoggerDropsMessages(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Warn("ничего не произойдёт: %d", 1) })
	assert.NotPanics(t, func() { Info("логгер по умолчанию не инициализирован") })
}

func TestLoggerWritesFile(t *testing.T) {
	LogDir = t.TempDir()
	defer func() { LogDir = "logs" }()

	logger, err := NewLogger("unit")
	require.NoError(t, err)

	logger.Debug("чанк %v построен", "(1,2)")
	require.NoError(t, logger.Close())

	matches, err := filepath.Glob(filepath.Join(LogDir, "unit_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "[DEBUG] [unit] чанк (1,2) построен"))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DEBUG, level)

	level, err = ParseLevel(" Warning ")
	require.NoError(t, err)
	assert.Equal(t, WARN, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, INFO, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestApplyLevels(t *testing.T) {
	LogDir = t.TempDir()
	defer func() { LogDir = "logs" }()

	lm := &LoggerManager{loggers: make(map[string]*Logger)}
	defer lm.CloseAll()

	require.NoError(t, lm.ApplyLevels(map[string]LogLevel{"stream": ERROR}))
	logger, err := lm.GetLogger("stream")
	require.NoError(t, err)
	assert.Equal(t, ERROR, logger.minConsoleLevel)
	assert.Equal(t, TRACE, logger.minFileLevel)

	assert.Error(t, lm.SetLogLevel("unknown", INFO, INFO))
}
