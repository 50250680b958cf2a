package apubsub

import (
	"context"
	"time"
)

// SendRequest describes one logical send: one message envelope fanned out to
// every active, non-excluded subscription of the target channels.
type SendRequest struct {
	// Channels are the target channel ids. At least one is required, and
	// every id must name an existing channel. The first id becomes the
	// message's owning channel.
	Channels []string

	// Contents is the opaque payload. The core never interprets it; drivers
	// only require that it survives msgpack encoding.
	Contents any

	Type   string
	Origin string
	Level  int

	// Exclude lists subscription ids denied delivery for this send only.
	// Matching is by subscription id, never subscriber id.
	Exclude []uint64

	// SentAt overrides the send timestamp. Zero means now.
	SentAt time.Time
}

// Validate checks the request shape before the driver touches storage.
func (r *SendRequest) Validate() error {
	if len(r.Channels) == 0 {
		return &NotFoundError{Entity: "channel", Ref: ""}
	}
	return nil
}

// Backend is the storage driver contract. Every backend (in-memory,
// relational, key-value) satisfies it identically so the delivery logic
// above is driver-agnostic. Concurrency discipline is the driver's own.
type Backend interface {
	// CreateChannel creates a channel, failing with DuplicateChannel when the
	// id exists.
	CreateChannel(ctx context.Context, id, label string) (*Channel, error)

	// Channel returns a channel by id, failing with NotFound when absent.
	Channel(ctx context.Context, id string) (*Channel, error)

	// DeleteChannel removes a channel, cascading to its subscriptions and
	// all undelivered messages addressed to them.
	DeleteChannel(ctx context.Context, id string) error

	// Subscribe creates an inactive subscription on the channel.
	// subscriberID may be empty: anonymous subscriptions are addressed only
	// by subscription id.
	Subscribe(ctx context.Context, channelID, subscriberID string) (*Subscription, error)

	// Subscription returns a subscription by id, failing with NotFound when
	// absent.
	Subscription(ctx context.Context, id uint64) (*Subscription, error)

	// SetActive toggles the subscription lifecycle state, stamping
	// ActivatedAt or DeactivatedAt and clearing the other. Toggling never
	// replays history and never drops queued unread rows.
	SetActive(ctx context.Context, id uint64, active bool) (*Subscription, error)

	// Unsubscribe deletes the subscription and its queued messages.
	Unsubscribe(ctx context.Context, id uint64) error

	// Send records one message and enqueues it, unread, for every currently
	// active subscription of the target channels that is not excluded, at
	// most once per subscription. The message is recorded even when no
	// eligible subscription exists.
	Send(ctx context.Context, req SendRequest) (*Message, error)

	// Channels, Subscriptions and Fetch open cursors over the respective
	// entity kind. Fetch iterates per-recipient message rows and is normally
	// filtered by subscription id(s). Filter validation is deferred to the
	// first cursor operation.
	Channels(filter Filter) ChannelCursor
	Subscriptions(filter Filter) SubscriptionCursor
	Fetch(filter Filter) MessageCursor

	// Subscriber returns a handle scoping subscribe/unsubscribe/fetch to one
	// subscriber id. Subscribers are implicit: no registration is needed.
	Subscriber(id string) *Subscriber

	Close() error
}

// Subscriber scopes backend operations to one subscriber id. It is a plain
// view over the backend; the subscriber itself is never persisted.
type Subscriber struct {
	id      string
	backend Backend
}

// NewSubscriber builds the handle Backend.Subscriber implementations return.
func NewSubscriber(b Backend, id string) *Subscriber {
	return &Subscriber{id: id, backend: b}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string {
	return s.id
}

// Subscribe creates a subscription owned by this subscriber.
func (s *Subscriber) Subscribe(ctx context.Context, channelID string) (*Subscription, error) {
	return s.backend.Subscribe(ctx, channelID, s.id)
}

// Unsubscribe deletes one of this subscriber's subscriptions. A subscription
// owned by someone else is NotFound from this handle's point of view.
func (s *Subscriber) Unsubscribe(ctx context.Context, subscriptionID uint64) error {
	sub, err := s.backend.Subscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.SubscriberID != s.id {
		return &NotFoundError{Entity: "subscription", Ref: formatID(subscriptionID)}
	}
	return s.backend.Unsubscribe(ctx, subscriptionID)
}

// Subscriptions opens a cursor over this subscriber's subscriptions,
// ANDing the given filter with the subscriber condition.
func (s *Subscriber) Subscriptions(filter Filter) SubscriptionCursor {
	return s.backend.Subscriptions(mergeFilter(filter, FieldSubscriber, s.id))
}

// Fetch opens a cursor over the pending messages of all this subscriber's
// subscriptions, across every channel they cover.
func (s *Subscriber) Fetch(ctx context.Context, filter Filter) (MessageCursor, error) {
	cur := s.Subscriptions(nil)

	ids := []uint64{}
	for {
		sub, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		ids = append(ids, sub.ID)
	}

	return s.backend.Fetch(mergeFilter(filter, FieldSubscription, ids)), nil
}

func mergeFilter(filter Filter, field Field, value any) Filter {
	merged := make(Filter, len(filter)+1)
	for f, v := range filter {
		merged[f] = v
	}
	merged[field] = value
	return merged
}
