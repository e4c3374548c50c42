package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcedaq/daqlink-go/pkg/connection"
	"github.com/rcedaq/daqlink-go/pkg/mirror"
	"github.com/rcedaq/daqlink-go/pkg/transport"
)

const snapshot = "<system><structure><variable><name>voltage</name><type>Status</type></variable></structure>" +
	"<status><voltage>3.3</voltage></status><config><board index=\"2\"><gain>1</gain></board></config></system>\n\f"

type device struct {
	server *transport.Server

	mu       sync.Mutex
	received []string
	conns    []*transport.ServerConn
}

func (d *device) messages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

func startDevice(t *testing.T) *device {
	t.Helper()
	d := &device{}
	s, err := transport.NewServer(transport.ServerConfig{
		Address:  "127.0.0.1:0",
		Snapshot: func() []byte { return []byte(snapshot) },
		OnConnect: func(c *transport.ServerConn) {
			d.mu.Lock()
			d.conns = append(d.conns, c)
			d.mu.Unlock()
		},
		OnMessage: func(_ *transport.ServerConn, payload []byte) {
			d.mu.Lock()
			d.received = append(d.received, string(payload))
			d.mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	d.server = s
	return d
}

func testConfig(port int) Config {
	return Config{
		Host:         "127.0.0.1",
		BasePort:     port,
		PortAttempts: 1,
		StallTimeout: 300 * time.Millisecond,
		RetryDelay:   50 * time.Millisecond,
		ReadSlice:    20 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	}
}

func enabledClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Enable(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestClientAppliesSnapshot(t *testing.T) {
	d := startDevice(t)

	var mu sync.Mutex
	var seen []string
	c, err := New(testConfig(d.server.Port()))
	require.NoError(t, err)
	c.OnStatus(func(path, value string) error {
		mu.Lock()
		seen = append(seen, path+"="+value)
		mu.Unlock()
		return nil
	})
	var structures atomic.Int32
	c.OnStructure(func(mirror.StructureEvent) error {
		structures.Add(1)
		return nil
	})
	require.NoError(t, c.Enable(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool { return c.Stats().Processed == 1 }, 2*time.Second, 10*time.Millisecond)

	v, err := c.GetStatus("voltage")
	require.NoError(t, err)
	assert.Equal(t, "3.3", v)

	gain, err := c.GetConfig("board(2):gain")
	require.NoError(t, err)
	assert.Equal(t, "1", gain)

	assert.Equal(t, connection.StateConnected, c.State())
	st := c.Stats()
	assert.Equal(t, d.server.Port(), st.Port)
	assert.EqualValues(t, 1, structures.Load())

	mu.Lock()
	assert.Equal(t, []string{"voltage=3.3"}, seen)
	mu.Unlock()

	_, err = c.Structure().Variable("voltage")
	assert.NoError(t, err)
	assert.Len(t, c.Find("gain"), 1)
}

func TestClientSendsCommands(t *testing.T) {
	d := startDevice(t)
	c := enabledClient(t, testConfig(d.server.Port()))

	require.Eventually(t, func() bool { return c.State() == connection.StateConnected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.SendConfig("board(2):gain", "7"))
	require.NoError(t, c.SendCommand("", "StartRun"))
	require.NoError(t, c.RequestConfig())
	require.NoError(t, c.RequestStatus())
	require.NoError(t, c.SetDefaults())
	require.NoError(t, c.SoftReset())
	require.NoError(t, c.HardReset())
	require.NoError(t, c.SendRaw([]byte("<system><command><Custom/></command></system>\f")))

	want := []string{
		`<system><config><board index="2"><gain>7</gain></board></config></system>`,
		`<system><command><StartRun/></command></system>`,
		`<system><command><ReadConfig/></command></system>`,
		`<system><command><ReadStatus/></command></system>`,
		`<system><command><SetDefaults/></command></system>`,
		`<system><command><SoftReset/></command></system>`,
		`<system><command><HardReset/></command></system>`,
		`<system><command><Custom/></command></system>`,
	}
	require.Eventually(t, func() bool { return len(d.messages()) == len(want) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, d.messages())

	assert.ErrorIs(t, c.SendRaw([]byte("<system/>")), transport.ErrNotTerminated)
}

func TestClientNotConnected(t *testing.T) {
	c, err := New(testConfig(closedPort(t)))
	require.NoError(t, err)
	defer c.Close()

	assert.ErrorIs(t, c.SendConfig("gain", "1"), ErrNotConnected)
	assert.ErrorIs(t, c.RequestStatus(), ErrNotConnected)
	assert.ErrorIs(t, c.SendCommand("", "Go"), ErrNotConnected)

	_, err = c.GetConfig("gain")
	assert.ErrorIs(t, err, mirror.ErrNotFound)
}

func TestClientRetriesFailedScan(t *testing.T) {
	c := enabledClient(t, testConfig(closedPort(t)))

	require.Eventually(t, func() bool { return c.Stats().Connection.Failures >= 3 }, 2*time.Second, 10*time.Millisecond)

	var ce *transport.ConnectError
	assert.True(t, errors.As(c.Stats().Connection.LastError, &ce))

	start := time.Now()
	c.Disable()
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, c.Enabled())
}

func TestClientDropsMalformedFrames(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("<system><status><v>1</status>\f"))
		conn.Write([]byte("<system><status><v>2</v></status></system>\f"))
		time.Sleep(2 * time.Second)
	}()

	c := enabledClient(t, testConfig(l.Addr().(*net.TCPAddr).Port))

	require.Eventually(t, func() bool { return c.Stats().Processed == 1 }, 2*time.Second, 10*time.Millisecond)

	v, err := c.GetStatus("v")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	st := c.Stats()
	assert.EqualValues(t, 1, st.ParseErrors)
	assert.Equal(t, connection.StateConnected, st.State)
}

func TestClientReconnectsAfterStall(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	var accepted atomic.Int32
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			// Never send anything; keep the socket open.
			accepted.Add(1)
			go func() {
				time.Sleep(3 * time.Second)
				conn.Close()
			}()
		}
	}()

	c := enabledClient(t, testConfig(l.Addr().(*net.TCPAddr).Port))

	require.Eventually(t, func() bool { return accepted.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, c.Stats().Connection.Stalls, 1)
}

func TestClientKeepsStateAfterDisconnect(t *testing.T) {
	d := startDevice(t)
	c := enabledClient(t, testConfig(d.server.Port()))

	require.Eventually(t, func() bool {
		v, _ := c.GetStatus("voltage")
		return v == "3.3"
	}, 2*time.Second, 10*time.Millisecond)

	d.server.Stop()
	require.Eventually(t, func() bool { return c.State() != connection.StateConnected }, 2*time.Second, 10*time.Millisecond)

	v, err := c.GetStatus("voltage")
	require.NoError(t, err)
	assert.Equal(t, "3.3", v)
	assert.GreaterOrEqual(t, c.Stats().Connection.Losses, 1)
}

func TestClientDeviceQuietMode(t *testing.T) {
	d := startDevice(t)
	cfg := testConfig(d.server.Port())
	cfg.DeviceQuiet = true
	enabledClient(t, cfg)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.conns) == 1 && d.conns[0].Quiet()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientQuietKeepsBroadcasts(t *testing.T) {
	d := startDevice(t)
	cfg := testConfig(d.server.Port())
	cfg.Quiet = true
	c := enabledClient(t, cfg)

	require.Eventually(t, func() bool { return c.Stats().Processed == 1 }, 2*time.Second, 10*time.Millisecond)
	d.mu.Lock()
	assert.False(t, d.conns[0].Quiet())
	d.mu.Unlock()
}

// statusDevice broadcasts a status document every 50ms and answers every
// request the same way.
func statusDevice(t *testing.T) *transport.Server {
	t.Helper()
	status := []byte("<system><status><count>1</count></status></system>\f")
	var s *transport.Server
	var err error
	s, err = transport.NewServer(transport.ServerConfig{
		Address:  "127.0.0.1:0",
		Snapshot: func() []byte { return []byte(snapshot) },
		OnMessage: func(*transport.ServerConn, []byte) {
			s.Broadcast(status)
		},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})

	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Broadcast(status)
			}
		}
	}()
	return s
}

func TestDeviceQuietSurvivesStallPeriods(t *testing.T) {
	tests := []struct {
		name        string
		deviceQuiet bool
	}{
		{"broadcasts", false},
		{"device quiet", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := statusDevice(t)
			cfg := testConfig(s.Port())
			cfg.DeviceQuiet = tt.deviceQuiet
			c := enabledClient(t, cfg)

			require.Eventually(t, func() bool { return c.State() == connection.StateConnected }, 2*time.Second, 10*time.Millisecond)
			time.Sleep(5 * cfg.StallTimeout)

			st := c.Stats()
			assert.Equal(t, connection.StateConnected, st.State)
			assert.Zero(t, st.Connection.Stalls)
			assert.Equal(t, 1, st.Connection.Connects)
			assert.Greater(t, st.Processed, uint64(1))
		})
	}
}

func TestKeepaliveMustBeBelowStallTimeout(t *testing.T) {
	cfg := testConfig(8090)
	cfg.DeviceQuiet = true
	cfg.KeepaliveInterval = cfg.StallTimeout
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg.KeepaliveInterval = 0
	c, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.StallTimeout/3, c.Config().KeepaliveInterval)
}

func TestClientLifecycle(t *testing.T) {
	d := startDevice(t)
	c, err := New(testConfig(d.server.Port()))
	require.NoError(t, err)

	require.NoError(t, c.Enable(context.Background()))
	assert.ErrorIs(t, c.Enable(context.Background()), ErrAlreadyEnabled)
	require.Eventually(t, func() bool { return c.State() == connection.StateConnected }, 2*time.Second, 10*time.Millisecond)

	c.Disable()
	assert.Equal(t, connection.StateDisconnected, c.State())
	c.Disable()

	require.NoError(t, c.Enable(context.Background()))
	require.Eventually(t, func() bool { return c.State() == connection.StateConnected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Enable(context.Background()), ErrClosed)
	assert.Equal(t, connection.StateClosed, c.State())
}

func TestWaitStatus(t *testing.T) {
	d := startDevice(t)
	c := enabledClient(t, testConfig(d.server.Port()))
	require.Eventually(t, func() bool { return c.Stats().Processed == 1 }, 2*time.Second, 10*time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		d.server.Broadcast([]byte("<system><status><count>42</count></status></system>\f"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := c.WaitStatusInt(ctx, "count")
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)
}

func TestReadStatusOnDemand(t *testing.T) {
	d := startDevice(t)
	c := enabledClient(t, testConfig(d.server.Port()))
	require.Eventually(t, func() bool { return c.Stats().Processed == 1 }, 2*time.Second, 10*time.Millisecond)

	_, ok := c.ReadStatus("voltage")
	assert.False(t, ok)

	d.server.Broadcast([]byte("<system><status><voltage>3.4</voltage></status></system>\f"))
	require.Eventually(t, func() bool {
		v, ok := c.ReadStatus("voltage")
		return ok && v == "3.4"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnreadAndOnRead(t *testing.T) {
	d := startDevice(t)
	c := enabledClient(t, testConfig(d.server.Port()))
	require.Eventually(t, func() bool { return c.Stats().Processed == 1 }, 2*time.Second, 10*time.Millisecond)

	updates := make(chan mirror.ReadInfo, 4)
	c.OnRead(func(info mirror.ReadInfo) { updates <- info })

	c.ReadStatus("voltage")
	reads := c.Reads()
	require.Len(t, reads, 1)
	assert.Equal(t, "voltage", reads[0].Path)
	assert.False(t, reads[0].HasValue)

	d.server.Broadcast([]byte("<system><status><voltage>3.5</voltage></status></system>\f"))
	select {
	case info := <-updates:
		assert.Equal(t, "3.5", info.Value)
		assert.EqualValues(t, 1, info.Updates)
	case <-time.After(2 * time.Second):
		t.Fatal("no read update")
	}

	require.NoError(t, c.Unread("voltage"))
	assert.Error(t, c.Unread("voltage"))
	assert.Empty(t, c.Reads())

	c.ReadConfig("board(2):gain")
	c.ReadStatus("voltage")
	assert.Equal(t, 2, c.UnreadAll())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no host", func(c *Config) { c.Host = "" }},
		{"bad port", func(c *Config) { c.BasePort = 70000 }},
		{"scan past 65535", func(c *Config) { c.BasePort = 65530; c.PortAttempts = 10 }},
		{"negative attempts", func(c *Config) { c.PortAttempts = -1 }},
		{"negative stall", func(c *Config) { c.StallTimeout = -time.Second }},
		{"slice exceeds stall", func(c *Config) { c.ReadSlice = 10 * time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	c, err := New(Config{Host: "device"})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().BasePort, c.Config().BasePort)
	assert.Equal(t, DefaultConfig().StallTimeout, c.Config().StallTimeout)
}
