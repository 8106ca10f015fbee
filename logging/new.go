package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar is the environment variable FromEnv reads the spec from.
const EnvVar = "BPFOBJ_LOG"

// Format selects the log output format.
type Format string

const (
	// FormatText outputs human-readable text.
	FormatText Format = "text"
	// FormatJSON outputs one JSON object per record.
	FormatJSON Format = "json"
)

// ParseFormat parses a format string. The empty string means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %q", s)
	}
}

// Options configures New.
type Options struct {
	// Spec is the filtering spec string, e.g. "info,object=debug".
	Spec string
	// Format is the output format. Defaults to text.
	Format Format
	// Output is the destination writer. Defaults to os.Stderr.
	Output io.Writer
}

// New builds a component-filtered slog.Logger.
func New(opts Options) (*slog.Logger, error) {
	spec, err := ParseSpec(opts.Spec)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	// The inner handler passes everything; the filtering wrapper
	// decides per component.
	handlerOpts := &slog.HandlerOptions{Level: LevelTrace.ToSlog()}

	var inner slog.Handler
	switch opts.Format {
	case FormatJSON:
		inner = slog.NewJSONHandler(output, handlerOpts)
	default:
		inner = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// Default returns a logger at info level, text format, on stderr.
func Default() *slog.Logger {
	logger, _ := New(Options{})
	return logger
}

// FromEnv builds a logger from the BPFOBJ_LOG environment variable.
// An unset variable means info level.
func FromEnv() (*slog.Logger, error) {
	return New(Options{Spec: os.Getenv(EnvVar)})
}
