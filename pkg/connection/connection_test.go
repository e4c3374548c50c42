package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("FixedDefault", func(t *testing.T) {
		b := NewBackoff()
		if !b.Fixed() {
			t.Fatal("NewBackoff() should be fixed")
		}
		for i := 0; i < 5; i++ {
			if got := b.Next(); got != RetryDelay {
				t.Errorf("Attempt %d: got %v, want %v", i, got, RetryDelay)
			}
		}
	})

	t.Run("ExponentialSequence", func(t *testing.T) {
		b := NewExponentialBackoff()

		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second,
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			if base != exp {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewExponentialBackoff()

		samples := make([]time.Duration, 20)
		for i := range samples {
			samples[i] = b.Peek()
		}

		upper := time.Duration(float64(time.Second)*(1+JitterFactor)) + time.Millisecond
		for i, s := range samples {
			if s < time.Second || s > upper {
				t.Errorf("Sample %d: %v out of range [1s, %v]", i, s, upper)
			}
		}

		allSame := true
		for i := 1; i < len(samples); i++ {
			if samples[i] != samples[0] {
				allSame = false
				break
			}
		}
		if allSame {
			t.Error("All jittered samples are identical")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewExponentialBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Current() <= RetryDelay {
			t.Error("Backoff should have increased")
		}

		b.Reset()

		if b.Current() != RetryDelay {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), RetryDelay)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 2.0,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("Attempt %d: got %v, want %v", i, got, exp)
			}
		}
	})

	t.Run("MultiplierBelowOne", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: 10 * time.Millisecond, Multiplier: 0.5})
		b.Next()
		if got := b.Current(); got != 10*time.Millisecond {
			t.Errorf("Current() = %v, want 10ms", got)
		}
	})

	t.Run("WaitCancelled", func(t *testing.T) {
		b := NewFixedBackoff(time.Hour)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
	})
}

func TestManager(t *testing.T) {
	t.Run("InitialState", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, nil)
		defer m.Close()

		if m.State() != StateDisconnected {
			t.Errorf("Initial state = %v, want StateDisconnected", m.State())
		}
		if m.IsConnected() {
			t.Error("IsConnected() = true, want false")
		}
	})

	t.Run("SuccessfulConnect", func(t *testing.T) {
		connectCalled := false
		m := NewManager(func(ctx context.Context) error {
			connectCalled = true
			return nil
		}, nil)
		defer m.Close()

		var connectedCalled bool
		m.OnConnected(func() { connectedCalled = true })

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if !connectCalled {
			t.Error("Connect function was not called")
		}
		if !connectedCalled {
			t.Error("OnConnected callback was not called")
		}
		if m.State() != StateConnected {
			t.Errorf("State() = %v, want StateConnected", m.State())
		}
		if got := m.Stats().Connects; got != 1 {
			t.Errorf("Stats().Connects = %d, want 1", got)
		}
	})

	t.Run("FailedConnect", func(t *testing.T) {
		expectedErr := errors.New("connection failed")
		m := NewManager(func(ctx context.Context) error { return expectedErr }, nil)
		defer m.Close()

		err := m.Connect(context.Background())
		if err != expectedErr {
			t.Errorf("Connect() error = %v, want %v", err, expectedErr)
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want StateDisconnected", m.State())
		}
		if st := m.Stats(); st.Failures != 1 || st.LastError != expectedErr {
			t.Errorf("Stats() = %+v, want one failure with %v", st, expectedErr)
		}
	})

	t.Run("AlreadyConnected", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, nil)
		defer m.Close()

		m.Connect(context.Background())
		if err := m.Connect(context.Background()); err != ErrAlreadyConnected {
			t.Errorf("Second Connect() error = %v, want ErrAlreadyConnected", err)
		}
	})

	t.Run("ConnectAfterClose", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, nil)
		m.Close()
		if err := m.Connect(context.Background()); err != ErrClosed {
			t.Errorf("Connect() error = %v, want ErrClosed", err)
		}
	})

	t.Run("StallTransitions", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, nil)
		defer m.Close()

		var transitions []struct{ from, to State }
		m.OnStateChange(func(from, to State) {
			transitions = append(transitions, struct{ from, to State }{from, to})
		})
		var reason string
		m.OnDisconnected(func(r string) { reason = r })

		m.Connect(context.Background())
		m.NotifyStalled("no frame for 5s")

		expected := []struct{ from, to State }{
			{StateDisconnected, StateConnecting},
			{StateConnecting, StateConnected},
			{StateConnected, StateStalled},
			{StateStalled, StateDisconnected},
		}
		if len(transitions) != len(expected) {
			t.Fatalf("Got %d transitions, want %d", len(transitions), len(expected))
		}
		for i, exp := range expected {
			if transitions[i] != exp {
				t.Errorf("Transition %d: got %v->%v, want %v->%v",
					i, transitions[i].from, transitions[i].to, exp.from, exp.to)
			}
		}
		if reason != "no frame for 5s" {
			t.Errorf("OnDisconnected reason = %q", reason)
		}
		if got := m.Stats().Stalls; got != 1 {
			t.Errorf("Stats().Stalls = %d, want 1", got)
		}
	})

	t.Run("StallWhileDisconnectedIgnored", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, nil)
		defer m.Close()

		m.NotifyStalled("ignored")
		m.NotifyConnectionLost("ignored")
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want StateDisconnected", m.State())
		}
		if st := m.Stats(); st.Stalls != 0 || st.Losses != 0 {
			t.Errorf("Stats() = %+v, want no stalls or losses", st)
		}
	})

	t.Run("ConnectionLost", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, nil)
		defer m.Close()

		m.Connect(context.Background())
		m.NotifyConnectionLost("EOF")
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want StateDisconnected", m.State())
		}
		if got := m.Stats().Losses; got != 1 {
			t.Errorf("Stats().Losses = %d, want 1", got)
		}
	})

	t.Run("Disconnect", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, nil)
		defer m.Close()

		m.Connect(context.Background())
		m.Disconnect()
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want StateDisconnected", m.State())
		}
		if got := m.Stats().Losses; got != 0 {
			t.Errorf("Stats().Losses = %d, want 0", got)
		}
	})
}

func TestManagerConnectLoop(t *testing.T) {
	t.Run("RetriesWithFixedDelay", func(t *testing.T) {
		var mu sync.Mutex
		var attempts []time.Time

		m := NewManager(func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			attempts = append(attempts, time.Now())
			if len(attempts) < 3 {
				return errors.New("no port answered")
			}
			return nil
		}, NewFixedBackoff(50*time.Millisecond))
		defer m.Close()

		var retries atomic.Int32
		m.OnRetry(func(attempt int, delay time.Duration, err error) {
			retries.Add(1)
			if delay != 50*time.Millisecond {
				t.Errorf("retry delay = %v, want 50ms", delay)
			}
			if err == nil {
				t.Error("retry callback without error")
			}
		})

		if err := m.ConnectLoop(context.Background()); err != nil {
			t.Fatalf("ConnectLoop() error = %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if len(attempts) != 3 {
			t.Fatalf("attempts = %d, want 3", len(attempts))
		}
		for i := 1; i < len(attempts); i++ {
			if d := attempts[i].Sub(attempts[i-1]); d < 40*time.Millisecond {
				t.Errorf("gap %d = %v, want >= 40ms", i, d)
			}
		}
		if retries.Load() != 2 {
			t.Errorf("retries = %d, want 2", retries.Load())
		}
		if m.State() != StateConnected {
			t.Errorf("State() = %v, want StateConnected", m.State())
		}
		if m.Backoff().Attempts() != 0 {
			t.Errorf("Backoff not reset after success")
		}
	})

	t.Run("StopsOnContext", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error {
			return errors.New("refused")
		}, NewFixedBackoff(20*time.Millisecond))
		defer m.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := m.ConnectLoop(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("ConnectLoop() error = %v, want DeadlineExceeded", err)
		}
		if m.Stats().Failures < 2 {
			t.Errorf("Failures = %d, want at least 2", m.Stats().Failures)
		}
	})

	t.Run("StopsOnClose", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error {
			return errors.New("refused")
		}, NewFixedBackoff(10*time.Millisecond))

		done := make(chan error, 1)
		go func() { done <- m.ConnectLoop(context.Background()) }()

		time.Sleep(30 * time.Millisecond)
		m.Close()

		select {
		case err := <-done:
			if !errors.Is(err, ErrClosed) {
				t.Errorf("ConnectLoop() error = %v, want ErrClosed", err)
			}
		case <-time.After(time.Second):
			t.Fatal("ConnectLoop did not stop after Close")
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateStalled, "STALLED"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
