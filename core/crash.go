package core

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"
)

var crashLogger atomic.Pointer[zap.Logger]

// SetCrashLogger installs the logger that receives panic reports from Go
func SetCrashLogger(l *zap.Logger) {
	crashLogger.Store(l)
}

// HandleCrash is the unified panic handler, logs the stack and exits
func HandleCrash(r any) {
	if r == nil {
		return
	}

	stack := debug.Stack()
	if l := crashLogger.Load(); l != nil {
		l.Error("crash detected", zap.Any("panic", r), zap.ByteString("stack", stack))
		_ = l.Sync()
	}

	fmt.Fprintf(os.Stderr, "CRASH DETECTED: %v\nStack Trace:\n%s\n", r, stack)
	os.Stderr.Sync()

	os.Exit(1)
}

// Go runs a function in a new goroutine with panic recovery
// Use this instead of the 'go' keyword so a panicking worker is logged before exit
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				HandleCrash(r)
			}
		}()
		fn()
	}()
}
