package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/log"
	"github.com/rcedaq/daqlink-go/pkg/metrics"
	"github.com/rcedaq/daqlink-go/pkg/model"
	"github.com/rcedaq/daqlink-go/pkg/subscription"
	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// DefaultPollInterval is how often WaitForNextChange checks the version.
const DefaultPollInterval = 100 * time.Millisecond

// Config configures a Mirror.
type Config struct {
	// PollInterval is the WaitForNextChange polling period.
	PollInterval time.Duration

	// MaxSubscriptions bounds the number of paths read on demand.
	MaxSubscriptions int

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger receives callback failures as mirror-layer events.
	ProtocolLogger log.Logger

	// ConnectionID tags protocol events.
	ConnectionID string
}

// DefaultConfig returns the default mirror configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:     DefaultPollInterval,
		MaxSubscriptions: subscription.DefaultMaxSubscriptions,
	}
}

type categoryState struct {
	mu      sync.RWMutex
	values  map[string]string
	version uint64
}

// Mirror is the local copy of one device's configuration and status.
type Mirror struct {
	config categoryState
	status categoryState

	dispatcher *Dispatcher
	subs       *subscription.Manager
	registry   *model.Registry

	pollInterval time.Duration
	logger       *slog.Logger
	protoLogger  log.Logger
	connID       string
}

// New creates an empty mirror.
func New(cfg Config) *Mirror {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	m := &Mirror{
		config:       categoryState{values: make(map[string]string)},
		status:       categoryState{values: make(map[string]string)},
		dispatcher:   NewDispatcher(cfg.Logger),
		subs:         subscription.NewManagerWithConfig(subscription.Config{MaxSubscriptions: cfg.MaxSubscriptions}),
		registry:     model.NewRegistry(),
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
		protoLogger:  log.OrNoop(cfg.ProtocolLogger),
		connID:       cfg.ConnectionID,
	}

	// On-demand reads are fed by the first observer of each value category.
	m.dispatcher.OnConfig(func(path, value string) error {
		m.subs.Record(wire.CategoryConfig, path, value)
		return nil
	})
	m.dispatcher.OnStatus(func(path, value string) error {
		m.subs.Record(wire.CategoryStatus, path, value)
		return nil
	})
	return m
}

// Dispatcher returns the observer lists.
func (m *Mirror) Dispatcher() *Dispatcher { return m.dispatcher }

// Registry returns the structure records received so far.
func (m *Mirror) Registry() *model.Registry { return m.registry }

// Subscriptions returns the on-demand read subscriptions.
func (m *Mirror) Subscriptions() *subscription.Manager { return m.subs }

func (m *Mirror) state(cat wire.Category) (*categoryState, error) {
	switch cat {
	case wire.CategoryConfig:
		return &m.config, nil
	case wire.CategoryStatus:
		return &m.status, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, cat)
}

// ApplyStats summarises one Apply call.
type ApplyStats struct {
	Config    int
	Status    int
	Structure int
	Errors    int
	Ignored   int

	// Failures lists the callbacks that failed while applying.
	Failures []*CallbackError
}

// Leaves returns the number of applied configuration and status values.
func (s ApplyStats) Leaves() int { return s.Config + s.Status }

// Apply applies the updates of a decoded message in document order.
func (m *Mirror) Apply(msg *wire.Message) ApplyStats {
	var stats ApplyStats
	for i := range msg.Updates {
		u := &msg.Updates[i]
		var results []CallbackResult
		switch u.Category {
		case wire.CategoryConfig, wire.CategoryStatus:
			results = m.set(u.Category, u.Path, u.Value)
			if u.Category == wire.CategoryConfig {
				stats.Config++
			} else {
				stats.Status++
			}
		case wire.CategoryStructure:
			results = m.applyStructure(u)
			stats.Structure++
		case wire.CategoryError:
			results = m.dispatcher.DispatchError(u.Value)
			stats.Errors++
		default:
			stats.Ignored++
			continue
		}
		stats.Failures = m.collect(stats.Failures, results)
	}
	return stats
}

// Set applies a single value as if it had arrived in a message.
func (m *Mirror) Set(cat wire.Category, path, value string) ([]CallbackResult, error) {
	if _, err := m.state(cat); err != nil {
		return nil, err
	}
	return m.set(cat, path, value), nil
}

func (m *Mirror) set(cat wire.Category, path, value string) []CallbackResult {
	st, _ := m.state(cat)
	st.mu.Lock()
	st.values[path] = value
	st.version++
	st.mu.Unlock()

	metrics.LeafApplied(cat.String())
	return m.dispatcher.DispatchLeaf(cat, path, value)
}

// applyStructure records a variable or command. Variables also get an
// empty placeholder in their category map; that does not bump the version.
func (m *Mirror) applyStructure(u *wire.Update) []CallbackResult {
	switch {
	case u.Variable != nil:
		v := u.Variable
		m.registry.AddVariable(*v)
		cat := wire.CategoryForKind(v.Kind)
		st, _ := m.state(cat)
		st.mu.Lock()
		if _, ok := st.values[v.Path]; !ok {
			st.values[v.Path] = ""
		}
		st.mu.Unlock()
		return m.dispatcher.DispatchStructure(StructureEvent{Category: cat, Variable: v})
	case u.Command != nil:
		m.registry.AddCommand(*u.Command)
		return m.dispatcher.DispatchStructure(StructureEvent{Category: wire.CategoryCommand, Command: u.Command})
	}
	return nil
}

func (m *Mirror) collect(dst []*CallbackError, results []CallbackResult) []*CallbackError {
	for _, r := range results {
		cbErr, ok := r.Err.(*CallbackError)
		if !ok {
			continue
		}
		dst = append(dst, cbErr)
		m.protoLogger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: m.connID,
			Layer:        log.LayerMirror,
			Category:     log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerMirror,
				Message: cbErr.Err.Error(),
				Context: fmt.Sprintf("%s callback %d %s", cbErr.Category, cbErr.Index, cbErr.Path),
			},
		})
	}
	return dst
}

// Get returns the current value at path.
func (m *Mirror) Get(cat wire.Category, path string) (string, error) {
	st, err := m.state(cat)
	if err != nil {
		return "", err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	v, ok := st.values[path]
	if !ok {
		return "", fmt.Errorf("%w: %s %s", ErrNotFound, cat, path)
	}
	return v, nil
}

// Read returns the last value received for path since it was first read.
// The first call for a path registers it and reports no value.
func (m *Mirror) Read(cat wire.Category, path string) (string, bool) {
	if _, err := m.state(cat); err != nil {
		return "", false
	}
	sub, created, err := m.subs.Watch(cat, path)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("on-demand read not registered", "category", cat.String(), "path", path, "error", err)
		}
		return "", false
	}
	if created {
		return "", false
	}
	return sub.Value()
}

// Version returns the version counter of a category.
func (m *Mirror) Version(cat wire.Category) uint64 {
	st, err := m.state(cat)
	if err != nil {
		return 0
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.version
}

// WaitForNextChange blocks until the category's version differs from its
// value at entry, then returns the current value at path. It has no
// timeout of its own; cancel ctx to give up.
func (m *Mirror) WaitForNextChange(ctx context.Context, cat wire.Category, path string) (string, error) {
	st, err := m.state(cat)
	if err != nil {
		return "", err
	}
	st.mu.RLock()
	start := st.version
	st.mu.RUnlock()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		st.mu.RLock()
		changed := st.version != start
		v, ok := st.values[path]
		st.mu.RUnlock()
		if !changed {
			continue
		}
		if !ok {
			return "", fmt.Errorf("%w: %s %s", ErrNotFound, cat, path)
		}
		return v, nil
	}
}

// WaitForNextChangeInt is WaitForNextChange for integer values.
func (m *Mirror) WaitForNextChangeInt(ctx context.Context, cat wire.Category, path string) (int64, error) {
	v, err := m.WaitForNextChange(ctx, cat, path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", cat, path, err)
	}
	return n, nil
}

// Snapshot returns a copy of a category map.
func (m *Mirror) Snapshot(cat wire.Category) map[string]string {
	st, err := m.state(cat)
	if err != nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]string, len(st.values))
	for k, v := range st.values {
		out[k] = v
	}
	return out
}

// Paths returns the sorted paths of a category.
func (m *Mirror) Paths(cat wire.Category) []string {
	snap := m.Snapshot(cat)
	paths := make([]string, 0, len(snap))
	for p := range snap {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Match is one Find result.
type Match struct {
	Category wire.Category
	Path     string
	Value    string
}

// Find returns the configuration and status entries that have a path
// segment called name, ordered by category then path.
func (m *Mirror) Find(name string) []Match {
	var out []Match
	for _, cat := range []wire.Category{wire.CategoryConfig, wire.CategoryStatus} {
		snap := m.Snapshot(cat)
		var found []Match
		for p, v := range snap {
			path, err := wire.ParsePath(p)
			if err != nil || !path.HasSegment(name) {
				continue
			}
			found = append(found, Match{Category: cat, Path: p, Value: v})
		}
		sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
		out = append(out, found...)
	}
	return out
}
