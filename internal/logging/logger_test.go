package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"trace":   TRACE,
		"DEBUG":   DEBUG,
		"":        INFO,
		"warning": WARN,
		" error ": ERROR,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestConsoleLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger("world", &buf, WARN)

	l.Info("не должно попасть")
	l.Warn("пул %d", 3)
	l.Error("ошибка")

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть")
	assert.Contains(t, out, "[WARN] [world] пул 3")
	assert.Contains(t, out, "[ERROR] [world] ошибка")
	assert.False(t, l.Enabled(DEBUG))
	assert.True(t, l.Enabled(ERROR))

	l.SetLevel(TRACE, ERROR)
	assert.True(t, l.Enabled(TRACE))
}

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Info("ничего") })
}

func TestFileLogger(t *testing.T) {
	dir := t.TempDir()
	SetLogDir(dir)
	defer SetLogDir("")

	l, err := NewLogger("storage")
	require.NoError(t, err)
	l.Trace("только в файл")
	require.NoError(t, l.Close())

	files, err := filepath.Glob(filepath.Join(dir, "storage_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "[TRACE] [storage] только в файл")
}

func TestHexDumpAndDecodeError(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))

	long := make([]byte, 300)
	dump := HexDump(long)
	assert.Equal(t, 16, strings.Count(dump, "\n"), "дамп ограничен 256 байтами")

	var buf bytes.Buffer
	l := NewConsoleLogger("codec", &buf, INFO)
	l.LogDecodeError("map.vxf", errors.New("bad mask"), []byte{0xde, 0xad})
	assert.Contains(t, buf.String(), "bad mask")
	assert.Contains(t, buf.String(), "de ad")
}

func TestLoggerManagerReusesComponents(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}
	a := lm.Component("test-component")
	b := lm.Component("test-component")
	assert.Same(t, a, b)

	lm.SetAllLevels(ERROR)
	assert.False(t, a.Enabled(WARN))
	assert.False(t, lm.Component("late-component").Enabled(WARN), "уровень действует и на новые компоненты")

	require.NoError(t, lm.CloseAll())
	assert.NotSame(t, a, lm.Component("test-component"))
}
