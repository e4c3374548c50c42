package subscription

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// Subscription errors.
var (
	ErrResourceExhausted    = errors.New("maximum subscriptions reached")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// DefaultMaxSubscriptions bounds the number of watched paths.
const DefaultMaxSubscriptions = 4096

// Config holds subscription manager configuration.
type Config struct {
	// MaxSubscriptions is the maximum number of watched paths.
	MaxSubscriptions int
}

// DefaultConfig returns the default subscription configuration.
func DefaultConfig() Config {
	return Config{MaxSubscriptions: DefaultMaxSubscriptions}
}

var idCounter atomic.Uint32

func nextID() uint32 {
	return idCounter.Add(1)
}

// Subscription is the implicit subscription of one path.
type Subscription struct {
	mu sync.RWMutex

	// ID is the unique subscription identifier.
	ID uint32

	// Category is the category the path belongs to.
	Category wire.Category

	// Path is the watched path.
	Path string

	// Created is when the first read happened.
	Created time.Time

	value      string
	hasValue   bool
	updates    uint64
	lastUpdate time.Time
	active     bool
}

// NewSubscription creates an active subscription without a value.
func NewSubscription(id uint32, cat wire.Category, path string) *Subscription {
	return &Subscription{
		ID:       id,
		Category: cat,
		Path:     path,
		Created:  time.Now(),
		active:   true,
	}
}

// Record stores an update. It returns false once the subscription has been
// deactivated.
func (s *Subscription) Record(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.value = value
	s.hasValue = true
	s.updates++
	s.lastUpdate = time.Now()
	return true
}

// Value returns the last recorded value and whether one exists.
func (s *Subscription) Value() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.hasValue
}

// Updates returns the number of recorded updates.
func (s *Subscription) Updates() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}

// LastUpdate returns when the last update was recorded.
func (s *Subscription) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// IsActive reports whether the subscription still records updates.
func (s *Subscription) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Deactivate stops recording.
func (s *Subscription) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}
