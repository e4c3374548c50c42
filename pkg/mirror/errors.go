package mirror

import (
	"errors"
	"fmt"

	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// Mirror errors.
var (
	ErrNotFound        = errors.New("path not found")
	ErrInvalidCategory = errors.New("not a value category")
)

// CallbackError describes one failed observer callback.
type CallbackError struct {
	Category wire.Category
	Path     string
	Index    int
	Err      error
}

func (e *CallbackError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s callback %d: %v", e.Category, e.Index, e.Err)
	}
	return fmt.Sprintf("%s callback %d at %s: %v", e.Category, e.Index, e.Path, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// CallbackResult is the outcome of one callback invocation.
type CallbackResult struct {
	Index int
	Err   error
}

// Failed reports whether the callback returned an error or panicked.
func (r CallbackResult) Failed() bool { return r.Err != nil }
