package statesync

import (
	"context"
	"log/slog"
	"time"
)

// LogKind groups log events by the subsystem that produced them.
type LogKind string

const (
	LogKindMutation LogKind = "mutation"
	LogKindProvider LogKind = "provider"
	LogKindHistory  LogKind = "history"
	LogKindConfig   LogKind = "config"
	LogKindEval     LogKind = "evaluation"
)

// LogEvent describes a mutation, provider call, evaluation or history
// navigation.
type LogEvent struct {
	Kind       LogKind
	VariableID string
	Action     Action
	Context    string
	Label      string
	Op         string
	Path       string
	Expr       string
	Duration   time.Duration
	Err        error
}

// Logger records store and provider events.
type Logger interface {
	Log(LogEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(LogEvent)

// Log implements Logger.
func (f LoggerFunc) Log(event LogEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) Log(LogEvent) {}

// NopLogger returns a Logger that drops every event.
func NopLogger() Logger {
	return noopLogger{}
}

// MultiLogger fans events out to every non-nil logger.
func MultiLogger(loggers ...Logger) Logger {
	out := make(multiLogger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return noopLogger{}
	}
	return out
}

type multiLogger []Logger

func (m multiLogger) Log(event LogEvent) {
	for _, l := range m {
		l.Log(event)
	}
}

type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger renders events through log/slog. Failures log at error
// level, everything else at debug.
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return slogLogger{logger: logger}
}

func (l slogLogger) Log(event LogEvent) {
	attrs := []slog.Attr{
		slog.String("kind", string(event.Kind)),
	}
	if event.VariableID != "" {
		attrs = append(attrs, slog.String("variable", event.VariableID))
	}
	if event.Action != "" {
		attrs = append(attrs, slog.String("action", string(event.Action)))
	}
	if event.Context != "" {
		attrs = append(attrs, slog.String("context", event.Context))
	}
	if event.Label != "" {
		attrs = append(attrs, slog.String("label", event.Label))
	}
	if event.Op != "" {
		attrs = append(attrs, slog.String("op", event.Op))
	}
	if event.Path != "" {
		attrs = append(attrs, slog.String("path", event.Path))
	}
	if event.Expr != "" {
		attrs = append(attrs, slog.String("expr", event.Expr))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}
	if event.Err != nil {
		attrs = append(attrs, slog.String("error", event.Err.Error()))
		l.logger.LogAttrs(context.Background(), slog.LevelError, "statesync "+string(event.Kind)+" failed", attrs...)
		return
	}
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "statesync "+string(event.Kind), attrs...)
}
