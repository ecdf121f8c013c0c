package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tunes Setup. The zero value logs JSON to stdout at info level.
type Options struct {
	// File, when set, receives the log stream in addition to stdout and is
	// rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	Level      slog.Level
}

// Setup installs a JSON slog logger tagged with the service name and
// environment as the process default and bridges the standard library logger
// onto it.
func Setup(service, env string, opts Options) *slog.Logger {
	return SetupWriter(service, env, output(opts), opts.Level)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(service, env string, w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	tagged := handler.WithAttrs(attrs)
	base := slog.New(tagged)
	slog.SetDefault(base)

	bridge := slog.NewLogLogger(tagged, slog.LevelInfo)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func output(opts Options) io.Writer {
	path := strings.TrimSpace(opts.File)
	if path == "" {
		return os.Stdout
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	backups := opts.MaxBackups
	if backups <= 0 {
		backups = 5
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: backups,
		Compress:   true,
	})
}

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// Secret returns an attribute that never prints value, only whether it was
// set.
func Secret(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, "")
	}
	return slog.String(key, RedactedValue)
}
