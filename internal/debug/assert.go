package debug

import (
	"fmt"
	"runtime"
)

// Assert panics when truth is false. It guards invariants that only a bug in
// this module can break (for example a pre-computed buffer size that does not
// match the bytes written into it); never use it on untrusted input.
//
// NOTE: location reporting is borrowed from
// https://github.com/golang/go/blob/eaa7d9ff86b35c72cc35bd7c14b349fa414c392f/src/go/types/errors.go#L18
func Assert(truth bool, msg ...string) {
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if !truth {
		fail(fmt.Sprintf("assertion failed%v", msg))
	}
}

// Assertf is Assert with a formatted message.
func Assertf(truth bool, format string, args ...any) {
	if !truth {
		fail("assertion failed: " + fmt.Sprintf(format, args...))
	}
}

func fail(msg string) {
	// skip fail and Assert/Assertf. due to panic recovery the location is
	// otherwise buried in the middle of the panicking stack.
	if _, file, line, ok := runtime.Caller(2); ok {
		msg = fmt.Sprintf("%s:%d: %s", file, line, msg)
	}
	panic(msg)
}
