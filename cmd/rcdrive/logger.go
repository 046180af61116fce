package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// LogLevel represents the available logging levels
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

// parseLogLevel converts a string to a LogLevel
func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// setupLogger creates a text logger on stdout. With journal set, records are
// also fanned out to the systemd journal; if the journal socket is not
// available a warning is logged and stdout is used alone.
func setupLogger(level LogLevel, journal bool) *slog.Logger {
	return newLogger(os.Stdout, level, journal)
}

func newLogger(w io.Writer, level LogLevel, journal bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
	}
	text := slog.NewTextHandler(w, opts)
	if !journal {
		return slog.New(text)
	}

	jh, err := slogjournal.NewHandler(&slogjournal.Options{
		Level: opts.Level,
		ReplaceGroup: func(key string) string {
			return toJournalKey(key)
		},
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a.Key = toJournalKey(a.Key)
			return a
		},
	})
	if err != nil {
		record := slog.NewRecord(time.Now(), slog.LevelWarn, "systemd journal unavailable", 0)
		record.Add("error", err)
		_ = text.Handle(context.Background(), record)
		return slog.New(text)
	}

	return slog.New(slogmulti.Fanout(text, jh))
}

// toJournalKey maps an attribute key to a valid journal field name.
func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
}
