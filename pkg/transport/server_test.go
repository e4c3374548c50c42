package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/transport"
)

func startServer(t *testing.T, cfg transport.ServerConfig) *transport.Server {
	t.Helper()
	cfg.Address = "127.0.0.1:0"
	s, err := transport.NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerSnapshotAndMessages(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	s := startServer(t, transport.ServerConfig{
		Snapshot: func() []byte { return []byte("<system><status><v>1</v></status></system>\n\f") },
		OnMessage: func(_ *transport.ServerConn, payload []byte) {
			mu.Lock()
			received = append(received, string(payload))
			mu.Unlock()
		},
	})

	conn := dialPort(t, s.Port())
	frame, err := conn.ReadFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(frame) != "<system><status><v>1</v></status></system>\n" {
		t.Errorf("snapshot = %q", frame)
	}

	if err := conn.Send([]byte("<system><command><ReadStatus/></command></system>\f")); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	waitFor(t, "message", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})
	if received[0] != "<system><command><ReadStatus/></command></system>" {
		t.Errorf("received = %q", received[0])
	}
	if s.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", s.ConnectionCount())
	}
}

func TestServerQuietMode(t *testing.T) {
	var (
		mu    sync.Mutex
		conns []*transport.ServerConn
	)
	s := startServer(t, transport.ServerConfig{
		OnConnect: func(c *transport.ServerConn) {
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		},
	})

	loud := dialPort(t, s.Port())
	quiet := dialPort(t, s.Port())
	waitFor(t, "connections", func() bool { return s.ConnectionCount() == 2 })

	if err := quiet.SetQuiet(); err != nil {
		t.Fatalf("SetQuiet() = %v", err)
	}
	waitFor(t, "quiet flag", func() bool {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, c := range conns {
			if c.Quiet() {
				n++
			}
		}
		return n == 1
	})

	if sent := s.Broadcast([]byte("<system><status><p>1</p></status></system>\f")); sent != 1 {
		t.Errorf("Broadcast sent to %d, want 1", sent)
	}
	if f, err := loud.ReadFrame(time.Second); err != nil || len(f) == 0 {
		t.Errorf("loud client ReadFrame = %q, %v", f, err)
	}

	// A quiet client still gets the broadcast following its own request.
	if err := quiet.Send([]byte("<system><command><ReadStatus/></command></system>\f")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if sent := s.Broadcast([]byte("<system><status><p>2</p></status></system>\f")); sent != 2 {
		t.Errorf("Broadcast sent to %d, want 2", sent)
	}
	f, err := quiet.ReadFrame(time.Second)
	if err != nil || string(f) != "<system><status><p>2</p></status></system>" {
		t.Errorf("quiet client ReadFrame = %q, %v", f, err)
	}
}

func TestServerMaxClients(t *testing.T) {
	s := startServer(t, transport.ServerConfig{MaxClients: 1})
	dialPort(t, s.Port())
	waitFor(t, "first connection", func() bool { return s.ConnectionCount() == 1 })

	second := dialPort(t, s.Port())
	if _, err := second.ReadFrame(500 * time.Millisecond); err == nil {
		t.Error("second client should be disconnected")
	}
	if s.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", s.ConnectionCount())
	}
}

func TestListenFirstFree(t *testing.T) {
	first, port, err := transport.ListenFirstFree("127.0.0.1", closedPort(t), 10)
	if err != nil {
		t.Fatalf("ListenFirstFree failed: %v", err)
	}
	defer first.Close()

	second, port2, err := transport.ListenFirstFree("127.0.0.1", port, 10)
	if err != nil {
		t.Fatalf("ListenFirstFree failed: %v", err)
	}
	defer second.Close()
	if port2 <= port {
		t.Errorf("second port %d should follow first %d", port2, port)
	}

	if _, _, err := transport.ListenFirstFree("127.0.0.1", port, 1); err == nil {
		t.Error("expected ErrNoFreePort")
	}
}

func TestServerStopIdempotent(t *testing.T) {
	s := startServer(t, transport.ServerConfig{})
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}
