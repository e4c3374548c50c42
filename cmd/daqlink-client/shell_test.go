package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/client"
	"github.com/rcedaq/daqlink-go/pkg/connection"
	"github.com/rcedaq/daqlink-go/pkg/sim"
)

// syncBuffer is written from dispatcher goroutines while tests read it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func fastClientConfig(port int) client.Config {
	cfg := client.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.BasePort = port
	cfg.PortAttempts = 1
	cfg.DialTimeout = 50 * time.Millisecond
	cfg.RetryDelay = 50 * time.Millisecond
	cfg.ReadSlice = 20 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond
	return cfg
}

func startShell(t *testing.T) (*Shell, *syncBuffer, *client.Client) {
	t.Helper()
	ctx := context.Background()

	device, err := sim.NewDevice(sim.NewSystem(sim.DefaultDefinition(), nil), sim.Config{
		Address:      "127.0.0.1:0",
		TickInterval: -1,
	})
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	if err := device.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { device.Stop() })

	c, err := client.New(fastClientConfig(device.Port()))
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Enable(ctx); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := waitReady(waitCtx, c); err != nil {
		t.Fatalf("waitReady() error = %v", err)
	}

	out := &syncBuffer{}
	return NewShell(c, out), out, c
}

func exec(t *testing.T, s *Shell, line string) {
	t.Helper()
	if err := s.Exec(context.Background(), line); err != nil {
		t.Fatalf("Exec(%q) error = %v", line, err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestShellGet(t *testing.T) {
	s, out, _ := startShell(t)

	exec(t, s, "get daq:run:rate")
	exec(t, s, "get detector:temp")
	for _, want := range []string{"config daq:run:rate = 100", "status detector:temp = 21.5"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	if err := s.Exec(context.Background(), "get no:such:path"); err == nil {
		t.Error("get of an unknown path should fail")
	}
}

func TestShellSet(t *testing.T) {
	s, _, c := startShell(t)

	exec(t, s, "set daq:run:rate 250")
	eventually(t, "rate 250", func() bool {
		v, err := c.GetConfig("daq:run:rate")
		return err == nil && v == "250"
	})
}

func TestShellCommandAndWatch(t *testing.T) {
	s, out, c := startShell(t)

	exec(t, s, "watch on")
	exec(t, s, "cmd Start")
	eventually(t, "run state", func() bool {
		v, err := c.GetStatus(sim.PathRunState)
		return err == nil && v == sim.StateRunning
	})
	eventually(t, "watched status", func() bool {
		return strings.Contains(out.String(), "status daq:run:state = running")
	})

	exec(t, s, "watch off")
	exec(t, s, "cmd run:comment cosmic muons")
	eventually(t, "comment", func() bool {
		v, err := c.GetStatus(sim.PathRunComment)
		return err == nil && v == "cosmic muons"
	})
	if strings.Contains(out.String(), "cosmic muons") {
		t.Error("status printed after watch off")
	}
}

func TestShellOnDemandReads(t *testing.T) {
	s, out, _ := startShell(t)

	exec(t, s, "watch reads")
	exec(t, s, "read "+sim.PathRunState)
	if !strings.Contains(out.String(), "registered, no value yet") {
		t.Errorf("read output:\n%s", out.String())
	}

	exec(t, s, "cmd Start")
	eventually(t, "read update", func() bool {
		return strings.Contains(out.String(), "read status daq:run:state = running (#")
	})
	if strings.Contains(out.String(), "  status daq:run:state") {
		t.Error("status watch printed in reads mode")
	}

	out.Reset()
	exec(t, s, "reads")
	if !strings.Contains(out.String(), "status daq:run:state = running (updates ") {
		t.Errorf("reads output:\n%s", out.String())
	}

	exec(t, s, "unread "+sim.PathRunState)
	if err := s.Exec(context.Background(), "unread "+sim.PathRunState); err == nil {
		t.Error("second unread should fail")
	}
	out.Reset()
	exec(t, s, "reads")
	if !strings.Contains(out.String(), "no on-demand reads") {
		t.Errorf("reads after unread:\n%s", out.String())
	}

	exec(t, s, "read "+sim.PathTemp)
	out.Reset()
	exec(t, s, "unread")
	if !strings.Contains(out.String(), "dropped 2 on-demand reads") {
		t.Errorf("unread all output:\n%s", out.String())
	}
}

func TestShellFindAndDescribe(t *testing.T) {
	s, out, _ := startShell(t)

	exec(t, s, "find rate")
	if !strings.Contains(out.String(), "daq:run:rate = 100") {
		t.Errorf("find output:\n%s", out.String())
	}

	out.Reset()
	exec(t, s, "vars config")
	if !strings.Contains(out.String(), "daq:trigger:mode type=Enum enums=internal,external,random") {
		t.Errorf("vars config output:\n%s", out.String())
	}
	if strings.Contains(out.String(), sim.PathTemp) {
		t.Error("vars config lists a status variable")
	}

	out.Reset()
	exec(t, s, "vars status")
	if strings.Contains(out.String(), sim.PathRunComment) {
		t.Error("vars lists a hidden variable")
	}

	out.Reset()
	exec(t, s, "cmds")
	if !strings.Contains(out.String(), "run:comment <arg>") || !strings.Contains(out.String(), "Start\n") {
		t.Errorf("cmds output:\n%s", out.String())
	}
}

func TestShellWait(t *testing.T) {
	s, out, _ := startShell(t)

	done := make(chan error, 1)
	go func() { done <- s.Exec(context.Background(), "wait daq:run:state 5s") }()

	// Give the waiter time to start before the change arrives.
	time.Sleep(50 * time.Millisecond)
	exec(t, s, "cmd Start")

	if err := <-done; err != nil {
		t.Fatalf("wait error = %v", err)
	}
	if !strings.Contains(out.String(), "status daq:run:state =") {
		t.Errorf("wait output:\n%s", out.String())
	}

	if err := s.Exec(context.Background(), "wait daq:run:state 30ms"); err == nil {
		t.Error("wait without a change should time out")
	}
}

func TestShellInfo(t *testing.T) {
	s, out, _ := startShell(t)

	exec(t, s, "info")
	for _, want := range []string{connection.StateConnected.String(), "Structure:    8 variables, 3 commands", "On-demand:    0 reads"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("info output missing %q:\n%s", want, out.String())
		}
	}
}

func TestShellUsageErrors(t *testing.T) {
	s, _, _ := startShell(t)

	tests := []string{
		"get",
		"set daq:run:rate",
		"cmd",
		"wait",
		"wait daq:run:state soon",
		"find",
		"vars everything",
		"reset warm",
		"watch maybe",
		"unread a b",
		"explode",
	}
	for _, line := range tests {
		if err := s.Exec(context.Background(), line); err == nil {
			t.Errorf("Exec(%q) error = nil, want error", line)
		}
	}
}

func TestShellQuit(t *testing.T) {
	s, _, _ := startShell(t)

	if err := s.Exec(context.Background(), "   "); err != nil {
		t.Errorf("Exec(blank) error = %v", err)
	}
	for _, line := range []string{"quit", "exit", "Q"} {
		if err := s.Exec(context.Background(), line); !errors.Is(err, errQuit) {
			t.Errorf("Exec(%q) error = %v, want errQuit", line, err)
		}
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	// Nothing listens on port 1.
	c, err := client.New(fastClientConfig(1))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Enable(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := waitReady(ctx, c); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("waitReady() error = %v, want deadline exceeded", err)
	}
}
