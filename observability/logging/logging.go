package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tunes the logger built by SetupWithOptions. The zero value logs at
// info level to stdout only.
type Options struct {
	Service string
	Env     string
	Level   string
	// File, when set, receives a copy of every log line and is rotated once
	// it grows past MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Output overrides stdout. Tests use it to capture log lines.
	Output io.Writer
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string) *slog.Logger {
	return SetupWithOptions(Options{Service: service, Env: env})
}

// SetupWithOptions is Setup with level control and optional rotated file
// output.
func SetupWithOptions(opts Options) *slog.Logger {
	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}
	if file := strings.TrimSpace(opts.File); file != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    positiveOr(opts.MaxSizeMB, 100),
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: false,
		Level:     ParseLevel(opts.Level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(opts.Service)),
	}
	if env := strings.TrimSpace(opts.Env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

// ParseLevel maps debug/info/warn/error onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
