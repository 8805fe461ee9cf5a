package logging_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reduction.dev/sourcemux/logging"
)

func TestTextHandler_InstanceIDAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(logging.NewTextHandlerWriter(&buf)).
		With("instanceID", "sourcemux-a1b2").
		With("index", 2)

	log.Info("opened", "partitions", 4, "note", "two words")

	line := buf.String()
	assert.Contains(t, line, "INFO [sourcemux-a1b2] opened index=2 partitions=4")
	assert.Contains(t, line, `note="two words"`)
	assert.NotContains(t, line, "instanceID=")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestTextHandler_ChildLoggersDontShareAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(logging.NewTextHandlerWriter(&buf)).With("instanceID", "rundev")
	first := base.With("index", 0)
	second := base.With("index", 1)

	first.Info("a")
	second.Info("b")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "a index=0"))
	assert.True(t, strings.HasSuffix(lines[1], "b index=1"))
}

func TestTextHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	slog.New(logging.NewTextHandlerWriter(&buf)).WithGroup("store").Info("saved", "bytes", 10)
	assert.Contains(t, buf.String(), "saved store.bytes=10")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(logging.NewTextHandlerWriter(&buf))

	logging.SetLevel(slog.LevelWarn)
	t.Cleanup(func() { logging.SetLevel(slog.LevelInfo) })
	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	level, err := logging.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = logging.ParseLevel("loud")
	assert.Error(t, err)
}
