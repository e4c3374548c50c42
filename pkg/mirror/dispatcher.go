package mirror

import (
	"log/slog"
	"sync"

	"github.com/rcedaq/daqlink-go/internal/safecall"
	"github.com/rcedaq/daqlink-go/pkg/metrics"
	"github.com/rcedaq/daqlink-go/pkg/model"
	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// LeafFunc observes one configuration or status value.
type LeafFunc func(path, value string) error

// StructureFunc observes one variable or command description.
type StructureFunc func(StructureEvent) error

// ErrorFunc observes an error message sent by the device.
type ErrorFunc func(msg string) error

// StructureEvent is dispatched for every assembled structure record.
// Exactly one of Variable and Command is set.
type StructureEvent struct {
	// Category is CategoryConfig or CategoryStatus for variables and
	// CategoryCommand for commands.
	Category wire.Category
	Variable *model.Variable
	Command  *model.Command
}

// Path returns the record's path.
func (e StructureEvent) Path() string {
	switch {
	case e.Variable != nil:
		return e.Variable.Path
	case e.Command != nil:
		return e.Command.Path
	}
	return ""
}

type callbackList[F any] struct {
	mu  sync.Mutex
	fns []F
}

func (l *callbackList[F]) add(fn F) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = append(l.fns, fn)
	return len(l.fns) - 1
}

func (l *callbackList[F]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// run calls invoke for every callback in order with the list lock held.
func (l *callbackList[F]) run(invoke func(F) error) []CallbackResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.fns) == 0 {
		return nil
	}
	results := make([]CallbackResult, len(l.fns))
	for i, fn := range l.fns {
		results[i] = CallbackResult{
			Index: i,
			Err:   safecall.Call(func() error { return invoke(fn) }),
		}
	}
	return results
}

// Dispatcher holds the ordered, append-only observer lists.
type Dispatcher struct {
	config    callbackList[LeafFunc]
	status    callbackList[LeafFunc]
	structure callbackList[StructureFunc]
	errors    callbackList[ErrorFunc]

	logger *slog.Logger
}

// NewDispatcher creates an empty dispatcher. A nil logger disables logging.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// OnConfig registers a configuration observer and returns its index.
func (d *Dispatcher) OnConfig(fn LeafFunc) int { return d.config.add(fn) }

// OnStatus registers a status observer and returns its index.
func (d *Dispatcher) OnStatus(fn LeafFunc) int { return d.status.add(fn) }

// OnStructure registers a structure observer and returns its index.
func (d *Dispatcher) OnStructure(fn StructureFunc) int { return d.structure.add(fn) }

// OnError registers an error observer and returns its index.
func (d *Dispatcher) OnError(fn ErrorFunc) int { return d.errors.add(fn) }

// Count returns the number of observers in a category.
func (d *Dispatcher) Count(cat wire.Category) int {
	switch cat {
	case wire.CategoryConfig:
		return d.config.len()
	case wire.CategoryStatus:
		return d.status.len()
	case wire.CategoryStructure:
		return d.structure.len()
	case wire.CategoryError:
		return d.errors.len()
	}
	return 0
}

// DispatchLeaf calls the observers of a value category.
func (d *Dispatcher) DispatchLeaf(cat wire.Category, path, value string) []CallbackResult {
	var list *callbackList[LeafFunc]
	switch cat {
	case wire.CategoryConfig:
		list = &d.config
	case wire.CategoryStatus:
		list = &d.status
	default:
		return nil
	}
	results := list.run(func(fn LeafFunc) error { return fn(path, value) })
	return d.report(cat, path, results)
}

// DispatchStructure calls the structure observers.
func (d *Dispatcher) DispatchStructure(ev StructureEvent) []CallbackResult {
	results := d.structure.run(func(fn StructureFunc) error { return fn(ev) })
	return d.report(wire.CategoryStructure, ev.Path(), results)
}

// DispatchError calls the error observers.
func (d *Dispatcher) DispatchError(msg string) []CallbackResult {
	results := d.errors.run(func(fn ErrorFunc) error { return fn(msg) })
	return d.report(wire.CategoryError, "", results)
}

// report wraps failures as *CallbackError, logs and counts them.
func (d *Dispatcher) report(cat wire.Category, path string, results []CallbackResult) []CallbackResult {
	for i := range results {
		if results[i].Err == nil {
			continue
		}
		cbErr := &CallbackError{Category: cat, Path: path, Index: results[i].Index, Err: results[i].Err}
		results[i].Err = cbErr
		metrics.CallbackFailed(cat.String())
		if d.logger != nil {
			d.logger.Warn("callback failed",
				"category", cat.String(),
				"path", path,
				"index", cbErr.Index,
				"error", cbErr.Err)
		}
	}
	return results
}
