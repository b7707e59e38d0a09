package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar holds a level spec read by FromEnv and by the CLI.
const EnvVar = "BPFPROBE_LOG"

// Format selects the record encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" or "json". Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %q", s)
}

// Options configures New. The first non-empty of CLISpec, EnvSpec and
// ConfigSpec is used.
type Options struct {
	CLISpec    string
	EnvSpec    string
	ConfigSpec string
	Format     Format
	// Output defaults to os.Stderr so that command output on stdout
	// stays parseable.
	Output io.Writer
}

// New returns a logger filtered by the selected level spec.
func New(opts Options) (*slog.Logger, error) {
	spec, err := ParseSpec(firstNonEmpty(opts.CLISpec, opts.EnvSpec, opts.ConfigSpec))
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	// The inner handler accepts everything; filtering happens above it.
	hopts := &slog.HandlerOptions{Level: LevelTrace.ToSlog(), ReplaceAttr: renameTrace}
	var inner slog.Handler
	if opts.Format == FormatJSON {
		inner = slog.NewJSONHandler(out, hopts)
	} else {
		inner = slog.NewTextHandler(out, hopts)
	}

	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// Default returns a text logger at DefaultLevel writing to stderr.
func Default() *slog.Logger {
	logger, _ := New(Options{})
	return logger
}

// FromEnv returns a logger configured from BPFPROBE_LOG.
func FromEnv() (*slog.Logger, error) {
	return New(Options{EnvSpec: os.Getenv(EnvVar)})
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// renameTrace prints trace records as TRACE rather than DEBUG-4.
func renameTrace(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok && l <= LevelTrace.ToSlog() {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
