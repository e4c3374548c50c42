// Package safecall runs observer callbacks and converts panics into errors.
package safecall

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrPanic is wrapped by every error produced from a recovered panic.
var ErrPanic = errors.New("callback panicked")

// PanicError carries the recovered value and the stack of the goroutine
// that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrPanic, e.Value)
}

func (e *PanicError) Unwrap() error { return ErrPanic }

// Call runs fn and returns its error, or a *PanicError if fn panicked.
func Call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// Go runs fn, discarding a panic after reporting it to onPanic (if set).
func Go(fn func(), onPanic func(*PanicError)) {
	err := Call(func() error {
		fn()
		return nil
	})
	var pe *PanicError
	if errors.As(err, &pe) && onPanic != nil {
		onPanic(pe)
	}
}
