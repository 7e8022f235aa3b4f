// Package zerolog adapts github.com/rs/zerolog to billing.Logger.
package zerolog

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Logger implements billing.Logger using zerolog.
type Logger struct {
	logger *zerolog.Logger
}

// NewLogger creates a new zerolog logger adapter.
func NewLogger(logger *zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// New builds a timestamped zerolog logger writing JSON to out, or
// human-readable lines when format is "console".
func New(out io.Writer, level, format string) *Logger {
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zlog := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return NewLogger(&zlog)
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(fields ...billing.Field) *Logger {
	ctx := l.logger.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	child := ctx.Logger()
	return &Logger{logger: &child}
}

func (l *Logger) Debug(msg string, fields ...billing.Field) {
	l.log(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...billing.Field) {
	l.log(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...billing.Field) {
	l.log(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...billing.Field) {
	l.log(l.logger.Error(), msg, fields)
}

func (l *Logger) log(event *zerolog.Event, msg string, fields []billing.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			event = event.AnErr(f.Key, err)
			continue
		}
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}
