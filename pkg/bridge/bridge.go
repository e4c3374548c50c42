package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/client"
	"github.com/rcedaq/daqlink-go/pkg/mirror"
	"github.com/rcedaq/daqlink-go/pkg/store"
	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// Bridge errors.
var (
	ErrWrongRole     = errors.New("bridge needs a server-role store")
	ErrAlreadyActive = errors.New("bridge already started")
)

// Config configures a Bridge.
type Config struct {
	// PollPeriod of the store synchronizer (default: store.DefaultPollPeriod).
	PollPeriod time.Duration

	// PruneInterval runs DelOldEntries periodically when positive.
	PruneInterval time.Duration

	// ClearOnStart zeroes every serial before relaying starts.
	ClearOnStart bool

	Logger *slog.Logger
}

// Stats counts relayed items.
type Stats struct {
	ToStore  uint64
	ToDevice uint64
	Failures uint64
	Pruned   uint64
}

// Bridge relays between one client and one store.
type Bridge struct {
	client *client.Client
	store  *store.Synchronizer
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	hooked  bool

	toStore  atomic.Uint64
	toDevice atomic.Uint64
	failures atomic.Uint64
	pruned   atomic.Uint64
}

// New creates a stopped bridge.
func New(c *client.Client, s *store.Synchronizer, config Config) (*Bridge, error) {
	if s.Role() != store.RoleServer {
		return nil, fmt.Errorf("%w: got %s", ErrWrongRole, s.Role())
	}
	return &Bridge{
		client: c,
		store:  s,
		config: config,
		logger: config.Logger,
		ctx:    context.Background(),
	}, nil
}

// Start registers the relays, starts store polling and enables the
// client.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyActive
	}

	if b.config.ClearOnStart {
		if err := b.store.ClearEntries(ctx); err != nil {
			return err
		}
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	if !b.hooked {
		if err := b.hook(); err != nil {
			b.cancel()
			return err
		}
		b.hooked = true
	}

	if err := b.store.Start(b.config.PollPeriod); err != nil {
		b.cancel()
		return err
	}
	if err := b.client.Enable(b.ctx); err != nil {
		b.store.Stop()
		b.cancel()
		return err
	}
	if b.config.PruneInterval > 0 {
		b.wg.Add(1)
		go b.pruneLoop(b.ctx, b.config.PruneInterval)
	}
	b.started = true
	b.infoLog("bridge started", "host", b.client.Config().Host)
	return nil
}

// Stop disables the client and store polling. Start may be called again.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.cancel()
	b.mu.Unlock()

	b.client.Disable()
	b.store.Stop()
	b.wg.Wait()
	b.infoLog("bridge stopped")
}

// Stats returns the relay counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		ToStore:  b.toStore.Load(),
		ToDevice: b.toDevice.Load(),
		Failures: b.failures.Load(),
		Pruned:   b.pruned.Load(),
	}
}

func (b *Bridge) runContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

// hook registers the callbacks once; they stay registered across
// restarts.
func (b *Bridge) hook() error {
	b.client.OnStructure(func(ev mirror.StructureEvent) error {
		ctx := b.runContext()
		var err error
		switch {
		case ev.Variable != nil && ev.Category == wire.CategoryStatus:
			err = b.store.AddStatusEntry(ctx, *ev.Variable)
		case ev.Variable != nil:
			err = b.store.AddConfigurationEntry(ctx, *ev.Variable)
		case ev.Command != nil:
			err = b.store.AddCommandEntry(ctx, *ev.Command)
		}
		return b.counted(&b.toStore, err)
	})
	b.client.OnConfig(func(path, value string) error {
		return b.counted(&b.toStore, b.store.UpdateConfiguration(b.runContext(), path, value))
	})
	b.client.OnStatus(func(path, value string) error {
		return b.counted(&b.toStore, b.store.UpdateStatus(b.runContext(), path, value))
	})
	b.client.OnError(func(msg string) error {
		return b.counted(&b.toStore, b.store.AddError(b.runContext(), msg))
	})

	if err := b.store.AddConfigurationCallback(func(row store.Row) error {
		b.debugLog("relaying configuration", "path", row.ID, "value", row.Value, "serial", row.Serial)
		return b.counted(&b.toDevice, b.client.SendConfig(row.ID, row.Value))
	}); err != nil {
		return err
	}
	return b.store.AddCommandCallback(func(row store.Row) error {
		b.debugLog("relaying command", "path", row.ID, "arg", row.Value, "serial", row.Serial)
		return b.counted(&b.toDevice, b.client.SendCommand(row.ID, row.Value))
	})
}

func (b *Bridge) counted(n *atomic.Uint64, err error) error {
	if err != nil {
		b.failures.Add(1)
		return err
	}
	n.Add(1)
	return nil
}

func (b *Bridge) pruneLoop(ctx context.Context, interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := b.store.DelOldEntries(ctx)
		if err != nil {
			if ctx.Err() == nil && b.logger != nil {
				b.logger.Warn("prune failed", "error", err)
			}
			continue
		}
		b.pruned.Add(uint64(n))
	}
}

func (b *Bridge) infoLog(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) debugLog(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}
