package util

import (
	"runtime/debug"

	"github.com/koshercapital/kosher/internal/logging"
)

// SafeGo runs fn in a goroutine that recovers and logs panics instead of
// crashing the daemon.
func SafeGo(fn func()) {
	SafeGoWithName("", fn)
}

// SafeGoWithName is SafeGo with a goroutine label attached to the panic log.
//
//	util.SafeGoWithName("approval-poll", func() {
//	    // goroutine code here
//	})
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				args := []any{"panic", r, "stack", string(debug.Stack())}
				if name != "" {
					args = append(args, "goroutine", name)
				}
				logging.Error("goroutine panic recovered", args...)
			}
		}()
		fn()
	}()
}
