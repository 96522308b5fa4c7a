package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// TraceIDKey is the logging context key used for identifying unique traces.
	TraceIDKey = "trace_id"

	// OperationNameKey is the logging context key used for identifying name of an operation.
	OperationNameKey = "op_name"

	// OperationEventKey is the logging context key used for identifying a notable
	// event during the course of an operation.
	OperationEventKey = "op_event"

	// OperationElapsedKey is the logging context key used for identifying time elapsed to finish an operation.
	OperationElapsedKey = "op_elapsed"
)

const (
	eventStart = "start"
	eventEnd   = "end"
)

// OperationName returns a field for tracking the name of an operation.
func OperationName(name string) zapcore.Field {
	return zap.String(OperationNameKey, name)
}

// OperationElapsed returns a field for tracking the duration of an operation.
func OperationElapsed(d time.Duration) zapcore.Field {
	return zap.Duration(OperationElapsedKey, d)
}

// OperationEventStart returns a field for tracking the start of an operation.
func OperationEventStart() zapcore.Field {
	return zap.String(OperationEventKey, eventStart)
}

// OperationEventEnd returns a field for tracking the end of an operation.
func OperationEventEnd() zapcore.Field {
	return zap.String(OperationEventKey, eventEnd)
}

// Measurement returns a field for tracking the name of a measurement.
func Measurement(name string) zapcore.Field {
	return zap.String("measurement", name)
}

// Path returns a field for tracking a file path.
func Path(path string) zapcore.Field {
	return zap.String("path", path)
}

// NewOperation uses the existing log to create a new logger with context
// containing a trace id and the operation. The operation is logged on start
// and, via the returned function, on end together with the elapsed time.
func NewOperation(log *zap.Logger, msg, name string, fields ...zapcore.Field) (*zap.Logger, func()) {
	f := []zapcore.Field{OperationName(name)}
	if id := nextID(); id != "" {
		f = append(f, zap.String(TraceIDKey, id))
	}
	f = append(f, fields...)

	now := time.Now()
	log = log.With(f...)
	log.Info(msg+" (start)", OperationEventStart())

	fn := func() {
		log.Info(msg+" (end)", OperationEventEnd(), OperationElapsed(time.Since(now)))
	}
	return log, fn
}

const (
	week = 7 * 24 * time.Hour
	day  = 24 * time.Hour
)

// DurationLiteral represents a duration literal, rendered with the largest
// whole unit that divides it evenly.
func DurationLiteral(key string, val time.Duration) zapcore.Field {
	if val == 0 {
		return zap.String(key, "0s")
	}

	var (
		value int
		unit  string
	)
	switch {
	case val%week == 0:
		value = int(val / week)
		unit = "w"
	case val%day == 0:
		value = int(val / day)
		unit = "d"
	case val%time.Hour == 0:
		value = int(val / time.Hour)
		unit = "h"
	case val%time.Minute == 0:
		value = int(val / time.Minute)
		unit = "m"
	case val%time.Second == 0:
		value = int(val / time.Second)
		unit = "s"
	default:
		value = int(val / time.Millisecond)
		unit = "ms"
	}
	return zap.String(key, fmt.Sprintf("%d%s", value, unit))
}
