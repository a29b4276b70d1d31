package esclient

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Logger interface for debug/trace logging.
// Compatible with github.com/billz-2/packages/pkg/logger interface.
// Fields are key/value pairs. If logger is not provided (nil), all logging
// is disabled (no-op).
type Logger interface {
	Debug(msg string, fields ...any)
	DebugWithCtx(ctx context.Context, msg string, fields ...any)
}

// noopLogger is a no-op implementation used when logger is not provided.
type noopLogger struct{}

func (noopLogger) Debug(msg string, fields ...any)                             {}
func (noopLogger) DebugWithCtx(ctx context.Context, msg string, fields ...any) {}

// safeLogger returns the provided logger or no-op logger if nil.
func safeLogger(log Logger) Logger {
	if log == nil {
		return noopLogger{}
	}
	return log
}

type logrusLogger struct {
	entry logrus.FieldLogger
}

// NewLogrusLogger adapts a logrus logger or entry to Logger.
func NewLogrusLogger(l logrus.FieldLogger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return &logrusLogger{entry: l}
}

func (l *logrusLogger) Debug(msg string, fields ...any) {
	l.entry.WithFields(toLogrusFields(fields)).Debug(msg)
}

func (l *logrusLogger) DebugWithCtx(ctx context.Context, msg string, fields ...any) {
	entry := l.entry.WithFields(toLogrusFields(fields))
	entry.WithContext(ctx).Debug(msg)
}

// toLogrusFields pairs up key/value arguments. A trailing key without a
// value is kept under "!BADKEY".
func toLogrusFields(kv []any) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 == len(kv) {
			fields["!BADKEY"] = kv[i]
			break
		}
		fields[key] = kv[i+1]
	}
	return fields
}
