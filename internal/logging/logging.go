package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New 创建输出到 stdout 的文本 slog.Logger，level 取自 LOG_LEVEL
func New(level string) *slog.Logger {
	return NewWithWriter(level, os.Stdout)
}

func NewWithWriter(level string, w io.Writer) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: levelFromString(level),
	})
	return slog.New(handler)
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
