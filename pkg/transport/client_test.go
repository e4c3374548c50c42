package transport_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/transport"
)

// closedPort returns a port that nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestDialScansToListeningPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port
	if port < 1034 {
		t.Skip("ephemeral port too low for scan test")
	}

	go func() {
		c, err := l.Accept()
		if err == nil {
			defer c.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()

	// Start the scan nine ports below the listener.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, transport.DialConfig{
		Host:     "127.0.0.1",
		BasePort: port - 9,
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if conn.Port() != port {
		t.Errorf("Port() = %d, want %d", conn.Port(), port)
	}
	if conn.ConnID() == "" {
		t.Error("ConnID() is empty")
	}
}

func TestDialAllPortsFail(t *testing.T) {
	port := closedPort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := transport.Dial(ctx, transport.DialConfig{
		Host:         "127.0.0.1",
		BasePort:     port,
		PortAttempts: 1,
	})
	var ce *transport.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("Dial error = %v, want *ConnectError", err)
	}
	if ce.FirstPort != port || ce.LastPort != port {
		t.Errorf("ConnectError ports = %d-%d, want %d-%d", ce.FirstPort, ce.LastPort, port, port)
	}
}

func TestDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := transport.Dial(ctx, transport.DialConfig{Host: "127.0.0.1", BasePort: closedPort(t)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Dial error = %v, want context.Canceled", err)
	}
}

// pipeServer accepts one connection and hands it to fn.
func pipeServer(t *testing.T, fn func(net.Conn)) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		fn(c)
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func dialPort(t *testing.T, port int) *transport.ClientConn {
	t.Helper()
	conn, err := transport.Dial(context.Background(), transport.DialConfig{
		Host:         "127.0.0.1",
		BasePort:     port,
		PortAttempts: 1,
		ReadSlice:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestClientConnReadSplitFrame(t *testing.T) {
	port := pipeServer(t, func(c net.Conn) {
		defer c.Close()
		c.Write([]byte("<system><status><v>"))
		time.Sleep(50 * time.Millisecond)
		c.Write([]byte("1</v></status></system>\f<sys"))
		time.Sleep(50 * time.Millisecond)
		c.Write([]byte("tem/>\f"))
		time.Sleep(time.Second)
	})
	conn := dialPort(t, port)

	frame, err := conn.ReadFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(frame) != "<system><status><v>1</v></status></system>" {
		t.Errorf("frame = %q", frame)
	}
	frame, err = conn.ReadFrame(2 * time.Second)
	if err != nil || string(frame) != "<system/>" {
		t.Errorf("second frame = %q, %v", frame, err)
	}
}

func TestClientConnStall(t *testing.T) {
	port := pipeServer(t, func(c net.Conn) {
		defer c.Close()
		c.Write([]byte("<system>never terminated"))
		time.Sleep(2 * time.Second)
	})
	conn := dialPort(t, port)

	start := time.Now()
	_, err := conn.ReadFrame(200 * time.Millisecond)
	var fe *transport.FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("ReadFrame() error = %v, want *FrameError", err)
	}
	if !errors.Is(err, transport.ErrStalled) {
		t.Errorf("error does not wrap ErrStalled: %v", err)
	}
	if fe.Buffered == 0 {
		t.Error("Buffered should report the partial frame")
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond || elapsed > time.Second {
		t.Errorf("stall detected after %v", elapsed)
	}
}

// A writer must get through while a reader is waiting for data.
func TestClientConnSendWhileReading(t *testing.T) {
	got := make(chan []byte, 1)
	port := pipeServer(t, func(c net.Conn) {
		defer c.Close()
		buf := make([]byte, 128)
		n, _ := c.Read(buf)
		got <- buf[:n]
		time.Sleep(500 * time.Millisecond)
	})
	conn := dialPort(t, port)

	done := make(chan struct{})
	go func() {
		conn.ReadFrame(400 * time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := conn.Send([]byte("<system/>\f")); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	select {
	case msg := <-got:
		if string(msg) != "<system/>\f" {
			t.Errorf("server got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("send blocked behind reader")
	}
	<-done
}

func TestClientConnSendValidation(t *testing.T) {
	port := pipeServer(t, func(c net.Conn) { time.Sleep(200 * time.Millisecond); c.Close() })
	conn := dialPort(t, port)

	if err := conn.Send([]byte("<a/>")); !errors.Is(err, transport.ErrNotTerminated) {
		t.Errorf("Send() = %v, want ErrNotTerminated", err)
	}
	conn.Close()
	if err := conn.Send([]byte("<a/>\f")); !errors.Is(err, transport.ErrConnectionClosed) {
		t.Errorf("Send() after Close = %v, want ErrConnectionClosed", err)
	}
	if _, err := conn.ReadFrame(time.Second); !errors.Is(err, transport.ErrConnectionClosed) {
		t.Errorf("ReadFrame() after Close = %v, want ErrConnectionClosed", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
