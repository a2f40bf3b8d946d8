package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const serviceName = "loqed-bridge"

// Version is stamped at build time with -ldflags.
var Version = "dev"

// New creates a process logger. JSON is the default output; "text" selects
// the human readable handler for local runs.
func New(level slog.Level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

func NewWithWriter(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", serviceName, "version", Version)
}
