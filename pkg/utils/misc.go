// Package utils holds small helpers shared across services.
package utils

import "go.uber.org/zap"

// WithRecovery runs exec and logs a panic with the goroutine stack
// instead of crashing the process. recoverFn, when not nil, sees the
// recovered value before the stack is logged.
func WithRecovery(log *zap.Logger, exec func(), recoverFn func(r interface{})) {
	defer func() {
		r := recover()
		if recoverFn != nil {
			recoverFn(r)
		}
		if r != nil {
			log.Error("Recovered panic in goroutine",
				zap.Reflect("r", r),
				zap.Stack("stack"))
		}
	}()
	exec()
}
