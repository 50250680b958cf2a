package apubsub

import (
	"context"
	"time"
)

// Channel is a named addressable target that messages are sent to.
// The ID is unique and immutable for the channel's lifetime.
type Channel struct {
	ID        string
	Label     string
	CreatedAt time.Time
}

// Subscription binds a subscriber to exactly one channel for its lifetime.
// A freshly created subscription is inactive; only active subscriptions
// receive newly sent messages, and reactivating never replays history.
type Subscription struct {
	ID           uint64
	ChannelID    string
	SubscriberID string // empty for anonymous subscriptions
	Active       bool
	CreatedAt    time.Time

	// ActivatedAt is defined only while active, DeactivatedAt only while
	// inactive. Use StartTime/StopTime to read them with that invariant
	// enforced.
	ActivatedAt   time.Time
	DeactivatedAt time.Time
}

// StartTime returns the time the subscription was last activated.
// Fails with InvalidState while inactive.
func (s *Subscription) StartTime() (time.Time, error) {
	if !s.Active {
		return time.Time{}, &InvalidStateError{Op: "start time", State: "inactive"}
	}
	return s.ActivatedAt, nil
}

// StopTime returns the time the subscription was last deactivated.
// Fails with InvalidState while active.
func (s *Subscription) StopTime() (time.Time, error) {
	if s.Active {
		return time.Time{}, &InvalidStateError{Op: "stop time", State: "active"}
	}
	return s.DeactivatedAt, nil
}

// Message is one logical send. The envelope (contents and metadata) is
// shared by all recipient subscriptions; the per-recipient read state
// (SubscriptionID, Unread, ReadAt) is a queue join row the driver fills in
// when the message is fetched through a subscription-scoped cursor, and is
// zero on the bare envelope returned by Send.
type Message struct {
	ID        uint64
	ChannelID string
	Contents  any
	SentAt    time.Time
	Type      string
	Origin    string
	Level     int

	SubscriptionID uint64
	Unread         bool
	ReadAt         time.Time

	backend Backend
}

// Attach binds the message to the backend it was loaded from, enabling
// storage-resolving operations such as Channel. Drivers call this on every
// message they return.
func (m *Message) Attach(b Backend) {
	m.backend = b
}

// Attached reports whether the message still carries a live storage context.
func (m *Message) Attached() bool {
	return m.backend != nil
}

// Detach returns a copy decoupled from the storage context. Operations on
// the copy that would require re-contacting storage fail with DetachedEntity
// instead of returning stale data.
func (m *Message) Detach() *Message {
	clone := *m
	clone.backend = nil
	return &clone
}

// Channel resolves the owning channel through the originating backend.
// Fails with DetachedEntity on a detached copy.
func (m *Message) Channel(ctx context.Context) (*Channel, error) {
	if m.backend == nil {
		return nil, &DetachedEntityError{Op: "resolve channel"}
	}
	return m.backend.Channel(ctx, m.ChannelID)
}
