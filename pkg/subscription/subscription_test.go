package subscription

import (
	"sync"
	"testing"

	"github.com/rcedaq/daqlink-go/pkg/wire"
)

func TestSubscriptionBasic(t *testing.T) {
	sub := NewSubscription(1, wire.CategoryStatus, "temp")

	if sub.ID != 1 {
		t.Errorf("ID = %d, want 1", sub.ID)
	}
	if !sub.IsActive() {
		t.Error("IsActive() = false, want true")
	}
	if _, ok := sub.Value(); ok {
		t.Error("new subscription should have no value")
	}

	if !sub.Record("21.5") {
		t.Fatal("Record() = false on active subscription")
	}
	if v, ok := sub.Value(); !ok || v != "21.5" {
		t.Errorf("Value() = %q, %v, want 21.5, true", v, ok)
	}
	if sub.Updates() != 1 {
		t.Errorf("Updates() = %d, want 1", sub.Updates())
	}
	if sub.LastUpdate().IsZero() {
		t.Error("LastUpdate() is zero after Record")
	}
}

func TestSubscriptionDeactivate(t *testing.T) {
	sub := NewSubscription(1, wire.CategoryConfig, "gain")
	sub.Deactivate()

	if sub.IsActive() {
		t.Error("IsActive() = true after deactivate, want false")
	}
	if sub.Record("1") {
		t.Error("Record() = true after deactivate")
	}
}

func TestManagerFirstReadRegisters(t *testing.T) {
	m := NewManager()

	if _, ok := m.Lookup(wire.CategoryStatus, "temp"); ok {
		t.Fatal("path watched before Watch")
	}

	sub, created, err := m.Watch(wire.CategoryStatus, "temp")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if !created {
		t.Error("first Watch should create")
	}

	again, created, _ := m.Watch(wire.CategoryStatus, "temp")
	if created || again != sub {
		t.Error("second Watch should return the existing subscription")
	}
	if found, ok := m.Lookup(wire.CategoryStatus, "temp"); !ok || found != sub {
		t.Error("Lookup() should return the watched subscription")
	}

	// Same path in another category is a different subscription.
	_, created, _ = m.Watch(wire.CategoryConfig, "temp")
	if !created {
		t.Error("Watch in another category should create")
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
}

func TestManagerRecord(t *testing.T) {
	m := NewManager()

	var notes []Notification
	m.OnNotification(func(n Notification) { notes = append(notes, n) })

	if m.Record(wire.CategoryStatus, "temp", "1") {
		t.Error("Record on unwatched path should return false")
	}

	sub, _, _ := m.Watch(wire.CategoryStatus, "temp")
	if v, has := sub.Value(); has || v != "" {
		t.Errorf("Value() = %q, %v, want empty, false", v, has)
	}

	m.Record(wire.CategoryStatus, "temp", "20")
	m.Record(wire.CategoryStatus, "temp", "21")

	v, has := sub.Value()
	if !has || v != "21" {
		t.Errorf("Value() = %q, %v, want 21, true", v, has)
	}
	if sub.Updates() != 2 {
		t.Errorf("Updates() = %d, want 2", sub.Updates())
	}
	if len(notes) != 2 || notes[1].Value != "21" || notes[1].Path != "temp" {
		t.Fatalf("notifications = %+v", notes)
	}
	if got, err := m.Get(notes[0].SubscriptionID); err != nil || got != sub {
		t.Errorf("Get(%d) = %v, %v", notes[0].SubscriptionID, got, err)
	}
}

func TestManagerUnwatchAndClear(t *testing.T) {
	m := NewManager()
	sub, _, _ := m.Watch(wire.CategoryConfig, "a")
	m.Watch(wire.CategoryConfig, "b")

	if err := m.Unwatch(wire.CategoryConfig, "a"); err != nil {
		t.Fatalf("Unwatch() error = %v", err)
	}
	if sub.IsActive() {
		t.Error("unwatched subscription still active")
	}
	if err := m.Unwatch(wire.CategoryConfig, "a"); err != ErrSubscriptionNotFound {
		t.Errorf("second Unwatch() error = %v, want ErrSubscriptionNotFound", err)
	}
	if _, err := m.Get(sub.ID); err != ErrSubscriptionNotFound {
		t.Errorf("Get() error = %v, want ErrSubscriptionNotFound", err)
	}

	if got := m.Paths(wire.CategoryConfig); len(got) != 1 || got[0] != "b" {
		t.Errorf("Paths() = %v, want [b]", got)
	}

	m.ClearAll()
	if m.Count() != 0 {
		t.Errorf("Count() = %d after ClearAll, want 0", m.Count())
	}
	if _, created, _ := m.Watch(wire.CategoryConfig, "b"); !created {
		t.Error("Watch after ClearAll should create again")
	}
}

func TestManagerLimit(t *testing.T) {
	m := NewManagerWithConfig(Config{MaxSubscriptions: 2})
	m.Watch(wire.CategoryStatus, "a")
	m.Watch(wire.CategoryStatus, "b")

	if _, _, err := m.Watch(wire.CategoryStatus, "c"); err != ErrResourceExhausted {
		t.Errorf("Watch() error = %v, want ErrResourceExhausted", err)
	}
	// Existing paths are still returned at the limit.
	if _, _, err := m.Watch(wire.CategoryStatus, "a"); err != nil {
		t.Errorf("Watch(existing) error = %v", err)
	}
}

func TestManagerConcurrent(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	created := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, _ := m.Watch(wire.CategoryStatus, "shared")
			created <- c
			m.Record(wire.CategoryStatus, "shared", "x")
		}()
	}
	wg.Wait()
	close(created)

	n := 0
	for c := range created {
		if c {
			n++
		}
	}
	if n != 1 {
		t.Errorf("created %d times, want 1", n)
	}
}
