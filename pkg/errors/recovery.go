package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic value into a fatal pipeline error
// carrying the stack trace. A panicking stage must never be retried blindly:
// the message routes to the dead-letter path like any other permanent failure.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	return ErrInternal.
		WithCause(err).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}
