package log

import (
	"context"
	"io"
	"log/slog"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

var defaultLogger Logger

func init() {
	l, err := NewSLogWithOptions(&Options{Level: "info", Format: "text", Output: "stderr"})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = l
}

// Default 返回全局默认日志器，text 格式输出到 stderr
func Default() Logger {
	return defaultLogger
}

// Discard 返回丢弃所有输出的日志器
func Discard() Logger {
	return &SLog{slogger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// NewLoggerWithOptions 创建日志器，options 为 nil 时返回默认日志器
func NewLoggerWithOptions(options *Options) (Logger, error) {
	if options == nil {
		return Default(), nil
	}
	return NewSLogWithOptions(options)
}
