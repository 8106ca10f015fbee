package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bpfobj/logging"
)

func TestFilteringHandler_Enabled(t *testing.T) {
	spec := &logging.Spec{
		BaseLevel: logging.LevelWarn,
		Components: map[string]logging.Level{
			"object":  logging.LevelDebug,
			"ringbuf": logging.LevelTrace,
		},
	}

	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: logging.LevelTrace.ToSlog()})
	handler := logging.NewFilteringHandler(inner, spec)

	// No component, base level applies.
	assert.False(t, handler.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, handler.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, handler.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, handler.Enabled(context.Background(), slog.LevelError))

	objectHandler := handler.WithAttrs([]slog.Attr{slog.String("component", "object")})
	assert.True(t, objectHandler.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, objectHandler.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, objectHandler.Enabled(context.Background(), logging.LevelTrace.ToSlog()))

	ringbufHandler := handler.WithAttrs([]slog.Attr{slog.String("component", "ringbuf")})
	assert.True(t, ringbufHandler.Enabled(context.Background(), logging.LevelTrace.ToSlog()))
	assert.True(t, ringbufHandler.Enabled(context.Background(), slog.LevelDebug))
}

func TestFilteringHandler_Handle(t *testing.T) {
	spec := &logging.Spec{
		BaseLevel: logging.LevelWarn,
		Components: map[string]logging.Level{
			"object": logging.LevelDebug,
		},
	}

	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: logging.LevelTrace.ToSlog()})
	logger := slog.New(logging.NewFilteringHandler(inner, spec))

	logger.Info("base info suppressed")
	logger.Warn("base warn emitted")

	objectLogger := logger.With("component", "object")
	objectLogger.Debug("object debug emitted")

	out := buf.String()
	assert.NotContains(t, out, "base info suppressed")
	assert.Contains(t, out, "base warn emitted")
	assert.Contains(t, out, "object debug emitted")
}

func TestFilteringHandler_ComponentSurvivesWith(t *testing.T) {
	spec := &logging.Spec{
		BaseLevel: logging.LevelError,
		Components: map[string]logging.Level{
			"kernel": logging.LevelDebug,
		},
	}

	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: logging.LevelTrace.ToSlog()})
	logger := slog.New(logging.NewFilteringHandler(inner, spec))

	// Further With calls keep the component's override level.
	kernelLogger := logger.With("component", "kernel").With("path", "test.bpf.o")
	kernelLogger.Debug("still filtered as kernel")

	assert.Contains(t, buf.String(), "still filtered as kernel")
}

func TestNewRespectsFormatAndSpec(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{
		Spec:   "warn,store=debug",
		Format: logging.FormatJSON,
		Output: &buf,
	})
	require.NoError(t, err)

	logger.Info("suppressed")
	logger.With("component", "store").Debug("store record")

	out := buf.String()
	assert.NotContains(t, out, "suppressed")
	require.Contains(t, out, "store record")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"), "JSON output: %s", out)
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := logging.New(logging.Options{Spec: "info,bogus"})
	require.Error(t, err)
}
