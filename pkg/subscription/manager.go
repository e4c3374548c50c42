package subscription

import (
	"sort"
	"sync"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// Notification reports an update recorded on a subscription.
type Notification struct {
	SubscriptionID uint32
	Category       wire.Category
	Path           string
	Value          string
	Timestamp      time.Time
}

type key struct {
	cat  wire.Category
	path string
}

// Manager manages the implicit subscriptions of a mirror.
type Manager struct {
	mu sync.RWMutex

	config Config

	subscriptions map[uint32]*Subscription
	index         map[key]*Subscription

	onNotification func(Notification)
}

// NewManager creates a new subscription manager with default configuration.
func NewManager() *Manager {
	return NewManagerWithConfig(DefaultConfig())
}

// NewManagerWithConfig creates a new subscription manager with custom configuration.
func NewManagerWithConfig(config Config) *Manager {
	if config.MaxSubscriptions <= 0 {
		config.MaxSubscriptions = DefaultMaxSubscriptions
	}
	return &Manager{
		config:        config,
		subscriptions: make(map[uint32]*Subscription),
		index:         make(map[key]*Subscription),
	}
}

// Watch returns the subscription for a path, creating it if needed.
// created is true when this call registered the subscription.
func (m *Manager) Watch(cat wire.Category, path string) (sub *Subscription, created bool, err error) {
	k := key{cat, path}

	m.mu.RLock()
	sub = m.index[k]
	m.mu.RUnlock()
	if sub != nil {
		return sub, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sub = m.index[k]; sub != nil {
		return sub, false, nil
	}
	if len(m.subscriptions) >= m.config.MaxSubscriptions {
		return nil, false, ErrResourceExhausted
	}
	sub = NewSubscription(nextID(), cat, path)
	m.subscriptions[sub.ID] = sub
	m.index[k] = sub
	return sub, true, nil
}

// Unwatch removes the subscription for a path.
func (m *Manager) Unwatch(cat wire.Category, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{cat, path}
	sub, ok := m.index[k]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.Deactivate()
	delete(m.index, k)
	delete(m.subscriptions, sub.ID)
	return nil
}

// Record stores value on the subscription for (cat, path), if one exists.
// It reports whether the update was recorded.
func (m *Manager) Record(cat wire.Category, path, value string) bool {
	m.mu.RLock()
	sub := m.index[key{cat, path}]
	onNotify := m.onNotification
	m.mu.RUnlock()

	if sub == nil || !sub.Record(value) {
		return false
	}
	if onNotify != nil {
		onNotify(Notification{
			SubscriptionID: sub.ID,
			Category:       cat,
			Path:           path,
			Value:          value,
			Timestamp:      time.Now(),
		})
	}
	return true
}

// Lookup returns the subscription for a path without creating one.
func (m *Manager) Lookup(cat wire.Category, path string) (*Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.index[key{cat, path}]
	return sub, ok
}

// Paths returns the watched paths of a category, sorted.
func (m *Manager) Paths(cat wire.Category) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var paths []string
	for k := range m.index {
		if k.cat == cat {
			paths = append(paths, k.path)
		}
	}
	sort.Strings(paths)
	return paths
}

// ClearAll removes all subscriptions.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		sub.Deactivate()
	}
	m.subscriptions = make(map[uint32]*Subscription)
	m.index = make(map[key]*Subscription)
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Get returns a subscription by ID.
func (m *Manager) Get(subscriptionID uint32) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[subscriptionID]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// OnNotification sets the callback for recorded updates, replacing any
// previous one. It runs on the recording goroutine without locks held.
func (m *Manager) OnNotification(fn func(Notification)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNotification = fn
}
