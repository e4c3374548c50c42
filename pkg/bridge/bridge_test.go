package bridge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcedaq/daqlink-go/pkg/client"
	"github.com/rcedaq/daqlink-go/pkg/connection"
	"github.com/rcedaq/daqlink-go/pkg/sim"
	"github.com/rcedaq/daqlink-go/pkg/store"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type harness struct {
	device *sim.Device
	client *client.Client
	server *store.Synchronizer
	user   *store.Synchronizer
	bridge *Bridge
}

func startHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()

	device, err := sim.NewDevice(sim.NewSystem(sim.DefaultDefinition(), nil), sim.Config{
		Address:      "127.0.0.1:0",
		TickInterval: -1,
	})
	require.NoError(t, err)
	require.NoError(t, device.Start(ctx))
	t.Cleanup(func() { device.Stop() })

	dsn := "file:" + filepath.Join(t.TempDir(), "bridge.db") + "?_pragma=busy_timeout(5000)"
	open := func(role store.Role) *store.Synchronizer {
		s, err := store.Open(ctx, store.Config{DSN: dsn, Role: role})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
	server := open(store.RoleServer)
	user := open(store.RoleClient)

	ccfg := client.DefaultConfig()
	ccfg.Host = "127.0.0.1"
	ccfg.BasePort = device.Port()
	ccfg.PortAttempts = 1
	ccfg.RetryDelay = 50 * time.Millisecond
	ccfg.ReadSlice = 20 * time.Millisecond
	ccfg.PollInterval = 20 * time.Millisecond
	c, err := client.New(ccfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	if cfg.PollPeriod == 0 {
		cfg.PollPeriod = tick
	}
	b, err := New(c, server, cfg)
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	t.Cleanup(b.Stop)

	return &harness{device: device, client: c, server: server, user: user, bridge: b}
}

func (h *harness) storeValue(t *testing.T, table, id string) (string, int64) {
	t.Helper()
	var value string
	var ser int64
	query := "SELECT value, server_ser FROM " + table + " WHERE id = ?"
	if err := h.user.DB().QueryRow(query, id).Scan(&value, &ser); err != nil {
		return "", -1
	}
	return value, ser
}

func TestBridgeMirrorsDeviceIntoStore(t *testing.T) {
	h := startHarness(t, Config{})

	assert.Eventually(t, func() bool {
		v, ser := h.storeValue(t, "status", sim.PathRunState)
		return v == sim.StateStopped && ser >= 1
	}, waitFor, tick)
	assert.Eventually(t, func() bool {
		v, _ := h.storeValue(t, "configuration", sim.PathRunRate)
		return v == "100"
	}, waitFor, tick)

	var commands int
	require.NoError(t, h.user.DB().QueryRow(`SELECT COUNT(*) FROM command`).Scan(&commands))
	assert.Equal(t, len(sim.DefaultDefinition().Commands), commands)

	// Status ticks reach the store.
	h.device.Tick()
	assert.Eventually(t, func() bool {
		v, _ := h.storeValue(t, "status", sim.PathTemp)
		return v == "21.6"
	}, waitFor, tick)
	assert.NotZero(t, h.bridge.Stats().ToStore)
}

func TestBridgeRelaysStoreWrites(t *testing.T) {
	h := startHarness(t, Config{})
	ctx := context.Background()

	// Wait for the structure before writing.
	require.Eventually(t, func() bool {
		v, _ := h.storeValue(t, "configuration", sim.PathRunRate)
		return v == "100"
	}, waitFor, tick)

	require.NoError(t, h.user.UpdateConfiguration(ctx, sim.PathRunRate, "250"))
	assert.Eventually(t, func() bool {
		v, _ := h.device.System().Config(sim.PathRunRate)
		return v == "250"
	}, waitFor, tick)

	// The device's reply confirms the write with the server serial.
	var confirmed []store.Row
	require.NoError(t, h.user.AddConfigurationCallback(func(row store.Row) error {
		confirmed = append(confirmed, row)
		return nil
	}))
	assert.Eventually(t, func() bool {
		if _, err := h.user.PollOnce(ctx); err != nil {
			return false
		}
		for _, row := range confirmed {
			if row.ID == sim.PathRunRate && row.Value == "250" {
				return true
			}
		}
		return false
	}, waitFor, tick)

	require.NoError(t, h.user.UpdateCommand(ctx, sim.CmdStart, ""))
	assert.Eventually(t, h.device.System().Running, waitFor, tick)
	assert.Eventually(t, func() bool {
		v, _ := h.storeValue(t, "status", sim.PathRunState)
		return v == sim.StateRunning
	}, waitFor, tick)

	assert.GreaterOrEqual(t, h.bridge.Stats().ToDevice, uint64(2))
}

func TestBridgeDeviceErrorsReachStore(t *testing.T) {
	h := startHarness(t, Config{})
	ctx := context.Background()

	require.Eventually(t, func() bool {
		return h.client.State() == connection.StateConnected
	}, waitFor, tick)
	require.NoError(t, h.client.SendCommand("", "Explode"))

	assert.Eventually(t, func() bool {
		errs, err := h.user.Errors(ctx, time.Time{})
		return err == nil && len(errs) == 1
	}, waitFor, tick)
}

func TestBridgePrunes(t *testing.T) {
	h := startHarness(t, Config{PruneInterval: 20 * time.Millisecond})
	require.Eventually(t, func() bool { return h.bridge.Stats().ToStore > 0 }, waitFor, tick)
	// Nothing is older than the default retention yet.
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, h.bridge.Stats().Pruned)
}

func TestBridgeLifecycle(t *testing.T) {
	h := startHarness(t, Config{})
	assert.ErrorIs(t, h.bridge.Start(context.Background()), ErrAlreadyActive)

	h.bridge.Stop()
	assert.False(t, h.client.Enabled())
	assert.False(t, h.server.Running())
	h.bridge.Stop()

	require.NoError(t, h.bridge.Start(context.Background()))
	assert.True(t, h.client.Enabled())
}

func TestNewRequiresServerRole(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, store.Config{DSN: filepath.Join(t.TempDir(), "x.db"), Role: store.RoleClient})
	require.NoError(t, err)
	defer s.Close()

	c, err := client.New(client.DefaultConfig())
	require.NoError(t, err)
	defer c.Close()

	_, err = New(c, s, Config{})
	assert.ErrorIs(t, err, ErrWrongRole)
}
