package mirror

import (
	"fmt"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/subscription"
	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// ReadInfo describes a path registered by Read.
type ReadInfo struct {
	Category   wire.Category
	Path       string
	Value      string
	HasValue   bool
	Updates    uint64
	LastUpdate time.Time
}

// Unread drops the registration of path. The next Read registers it again
// and reports no value.
func (m *Mirror) Unread(cat wire.Category, path string) error {
	if _, err := m.state(cat); err != nil {
		return err
	}
	if err := m.subs.Unwatch(cat, path); err != nil {
		return fmt.Errorf("unread %s %s: %w", cat, path, err)
	}
	return nil
}

// UnreadAll drops every registration and returns how many there were.
func (m *Mirror) UnreadAll() int {
	n := m.subs.Count()
	m.subs.ClearAll()
	return n
}

// Reads returns the registered paths of a category, sorted by path.
func (m *Mirror) Reads(cat wire.Category) []ReadInfo {
	var out []ReadInfo
	for _, path := range m.subs.Paths(cat) {
		sub, ok := m.subs.Lookup(cat, path)
		if !ok || !sub.IsActive() {
			continue
		}
		info := ReadInfo{
			Category:   cat,
			Path:       path,
			Updates:    sub.Updates(),
			LastUpdate: sub.LastUpdate(),
		}
		info.Value, info.HasValue = sub.Value()
		out = append(out, info)
	}
	return out
}

// OnRead sets the function called each time a registered path receives a
// value, replacing any previous one. fn runs on the dispatching goroutine.
func (m *Mirror) OnRead(fn func(ReadInfo)) {
	if fn == nil {
		m.subs.OnNotification(nil)
		return
	}
	m.subs.OnNotification(func(n subscription.Notification) {
		info := ReadInfo{
			Category:   n.Category,
			Path:       n.Path,
			Value:      n.Value,
			HasValue:   true,
			LastUpdate: n.Timestamp,
		}
		if sub, err := m.subs.Get(n.SubscriptionID); err == nil {
			info.Updates = sub.Updates()
		}
		fn(info)
	})
}
