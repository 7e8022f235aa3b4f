package billing

// Field is one key/value pair of a structured log entry.
type Field struct {
	Key   string
	Value interface{}
}

// F is shorthand for building a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the structured logger used across the sync pipeline.
// Error values passed as fields are rendered with their message.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// With returns a Logger that prefixes every entry written through l with
// fields, e.g. the message id while one push message is processed.
func With(l Logger, fields ...Field) Logger {
	if l == nil {
		l = &NoopLogger{}
	}
	if len(fields) == 0 {
		return l
	}
	if fl, ok := l.(*fieldLogger); ok {
		return &fieldLogger{next: fl.next, fields: fl.merge(fields)}
	}
	return &fieldLogger{next: l, fields: fields}
}

type fieldLogger struct {
	next   Logger
	fields []Field
}

func (l *fieldLogger) merge(extra []Field) []Field {
	out := make([]Field, 0, len(l.fields)+len(extra))
	out = append(out, l.fields...)
	return append(out, extra...)
}

func (l *fieldLogger) Debug(msg string, fields ...Field) { l.next.Debug(msg, l.merge(fields)...) }
func (l *fieldLogger) Info(msg string, fields ...Field)  { l.next.Info(msg, l.merge(fields)...) }
func (l *fieldLogger) Warn(msg string, fields ...Field)  { l.next.Warn(msg, l.merge(fields)...) }
func (l *fieldLogger) Error(msg string, fields ...Field) { l.next.Error(msg, l.merge(fields)...) }

// NoopLogger discards everything.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
