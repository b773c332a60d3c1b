package recovery

import (
	"runtime/debug"

	"github.com/portside-dev/portside/internal/logger"
)

// SafeGo runs fn in a goroutine with panic recovery so a single shell pump,
// forward bridge, or watcher loop can never take down the whole gateway.
func SafeGo(name string, fn func()) {
	go func() {
		defer logPanic(name)
		fn()
	}()
}

// SafeGoWithCleanup is SafeGo with a cleanup that runs after fn returns or
// panics. Cleanup runs before the panic is logged so teardown state is
// already settled when the stack trace lands in the log.
func SafeGoWithCleanup(name string, fn func(), cleanup func()) {
	go func() {
		defer func() {
			if cleanup != nil {
				cleanup()
			}
			if r := recover(); r != nil {
				logger.Errorf("🚨 PANIC recovered in goroutine '%s': %v", name, r)
				logger.Errorf("Stack trace:\n%s", debug.Stack())
			}
		}()
		fn()
	}()
}

func logPanic(name string) {
	if r := recover(); r != nil {
		logger.Errorf("🚨 PANIC recovered in goroutine '%s': %v", name, r)
		logger.Errorf("Stack trace:\n%s", debug.Stack())
	}
}
