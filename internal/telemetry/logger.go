package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Log formats accepted by NewLogger.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// LogOptions configures the process logger.
type LogOptions struct {
	Level  string
	Format string
	// File, when set, receives a JSON copy of every record in addition to Out.
	File string
	Out  io.Writer
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to a slog.Level.
// An empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// NewLogger builds the trace-correlated logger used by every command. The
// returned closer releases the log file, if any, and is never nil.
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	var primary slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", FormatJSON:
		primary = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case FormatText:
		primary = tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(out),
		})
	default:
		return nil, nil, fmt.Errorf("invalid log format %q (want %s or %s)", opts.Format, FormatJSON, FormatText)
	}

	if opts.File == "" {
		return slog.New(NewTraceHandler(primary)), nopCloser{}, nil
	}

	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", opts.File, err)
	}
	file := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})

	return slog.New(NewTraceHandler(NewTeeHandler(primary, file))), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
