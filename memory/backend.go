// Package memory implements the storage driver contract over lock-free
// in-process maps. Nothing survives a restart; the driver exists for tests,
// embedding, and as the reference implementation of the cursor semantics.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/encoding"
	"github.com/makinacorpus/apubsub-sub001/id"
	"github.com/makinacorpus/apubsub-sub001/telemetry"
)

// envelope is the shared message body. Contents stay msgpack-encoded so the
// driver round-trips payloads exactly like the durable backends.
type envelope struct {
	id        uint64
	channelID string
	contents  []byte
	sentAt    time.Time
	msgType   string
	origin    string
	level     int
}

// queueRow is the per-recipient read state: a join row, never a field on
// the shared envelope.
type queueRow struct {
	unread bool
	readAt time.Time
}

// Backend is the in-memory storage driver.
//
// Individual maps are safe for concurrent access; the mutex serializes
// multi-entity operations (fan-out, cascades) so a send never observes a
// half-deleted channel. Stored records are never mutated in place — updates
// swap in a replacement — so point readers can clone them without taking
// the mutex.
type Backend struct {
	gen id.Generator
	mu  sync.RWMutex

	channels *xsync.MapOf[string, *apubsub.Channel]
	subs     *xsync.MapOf[uint64, *apubsub.Subscription]
	chanSubs *xsync.MapOf[string, *xsync.MapOf[uint64, struct{}]]
	msgs     *xsync.MapOf[uint64, *envelope]
	chanMsgs *xsync.MapOf[string, *xsync.MapOf[uint64, struct{}]]
	queues   *xsync.MapOf[uint64, *xsync.MapOf[uint64, *queueRow]]
}

var _ apubsub.Backend = (*Backend)(nil)

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		gen:      id.NewGenerator(),
		channels: xsync.NewMapOf[string, *apubsub.Channel](),
		subs:     xsync.NewMapOf[uint64, *apubsub.Subscription](),
		chanSubs: xsync.NewMapOf[string, *xsync.MapOf[uint64, struct{}]](),
		msgs:     xsync.NewMapOf[uint64, *envelope](),
		chanMsgs: xsync.NewMapOf[string, *xsync.MapOf[uint64, struct{}]](),
		queues:   xsync.NewMapOf[uint64, *xsync.MapOf[uint64, *queueRow]](),
	}
}

// CreateChannel creates a channel, failing with DuplicateChannel on id
// collision.
func (b *Backend) CreateChannel(ctx context.Context, id, label string) (*apubsub.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := &apubsub.Channel{ID: id, Label: label, CreatedAt: time.Now()}
	if _, loaded := b.channels.LoadOrStore(id, ch); loaded {
		return nil, &apubsub.DuplicateChannelError{ID: id}
	}
	clone := *ch
	return &clone, nil
}

// Channel returns a channel by id.
func (b *Backend) Channel(ctx context.Context, id string) (*apubsub.Channel, error) {
	ch, ok := b.channels.Load(id)
	if !ok {
		return nil, &apubsub.NotFoundError{Entity: "channel", Ref: id}
	}
	clone := *ch
	return &clone, nil
}

// DeleteChannel removes the channel, its subscriptions, its messages, and
// every queue row those messages created anywhere.
func (b *Backend) DeleteChannel(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteChannelLocked(id)
}

func (b *Backend) deleteChannelLocked(id string) error {
	if _, ok := b.channels.LoadAndDelete(id); !ok {
		return &apubsub.NotFoundError{Entity: "channel", Ref: id}
	}

	if index, ok := b.chanSubs.LoadAndDelete(id); ok {
		index.Range(func(subID uint64, _ struct{}) bool {
			b.subs.Delete(subID)
			b.queues.Delete(subID)
			return true
		})
	}

	if index, ok := b.chanMsgs.LoadAndDelete(id); ok {
		index.Range(func(msgID uint64, _ struct{}) bool {
			b.msgs.Delete(msgID)
			// A multi-channel send may sit in queues of other channels'
			// subscriptions; drop those rows too.
			b.queues.Range(func(_ uint64, rows *xsync.MapOf[uint64, *queueRow]) bool {
				rows.Delete(msgID)
				return true
			})
			return true
		})
	}
	return nil
}

// Subscribe creates an inactive subscription on the channel.
func (b *Backend) Subscribe(ctx context.Context, channelID, subscriberID string) (*apubsub.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels.Load(channelID); !ok {
		return nil, &apubsub.NotFoundError{Entity: "channel", Ref: channelID}
	}

	sub := &apubsub.Subscription{
		ID:           b.gen.NextID(),
		ChannelID:    channelID,
		SubscriberID: subscriberID,
		Active:       false,
		CreatedAt:    time.Now(),
	}
	b.subs.Store(sub.ID, sub)

	index, _ := b.chanSubs.LoadOrCompute(channelID, func() *xsync.MapOf[uint64, struct{}] {
		return xsync.NewMapOf[uint64, struct{}]()
	})
	index.Store(sub.ID, struct{}{})

	clone := *sub
	return &clone, nil
}

// Subscription returns a subscription by id.
func (b *Backend) Subscription(ctx context.Context, subID uint64) (*apubsub.Subscription, error) {
	sub, ok := b.subs.Load(subID)
	if !ok {
		return nil, &apubsub.NotFoundError{Entity: "subscription", Ref: strconv.FormatUint(subID, 10)}
	}
	clone := *sub
	return &clone, nil
}

// SetActive toggles the subscription lifecycle state.
func (b *Backend) SetActive(ctx context.Context, subID uint64, active bool) (*apubsub.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs.Load(subID)
	if !ok {
		return nil, &apubsub.NotFoundError{Entity: "subscription", Ref: strconv.FormatUint(subID, 10)}
	}
	// Swap in a new record rather than writing through the shared pointer;
	// point readers clone stored records without the mutex.
	clone := *sub
	setActiveState(&clone, active, time.Now())
	b.subs.Store(subID, &clone)
	view := clone
	return &view, nil
}

// setActiveState stamps one timestamp and clears the other; the two are
// never both valid.
func setActiveState(sub *apubsub.Subscription, active bool, now time.Time) {
	sub.Active = active
	if active {
		sub.ActivatedAt = now
		sub.DeactivatedAt = time.Time{}
	} else {
		sub.DeactivatedAt = now
		sub.ActivatedAt = time.Time{}
	}
}

// Unsubscribe deletes the subscription and its queued messages.
func (b *Backend) Unsubscribe(ctx context.Context, subID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribeLocked(subID)
}

func (b *Backend) unsubscribeLocked(subID uint64) error {
	sub, ok := b.subs.LoadAndDelete(subID)
	if !ok {
		return &apubsub.NotFoundError{Entity: "subscription", Ref: strconv.FormatUint(subID, 10)}
	}
	if index, ok := b.chanSubs.Load(sub.ChannelID); ok {
		index.Delete(subID)
	}
	b.queues.Delete(subID)
	return nil
}

// Send records one message envelope and fans it out, unread, to every
// active subscription of the target channels that is not excluded, at most
// once per subscription.
func (b *Backend) Send(ctx context.Context, req apubsub.SendRequest) (*apubsub.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	contents, err := encoding.Marshal(req.Contents)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var candidates []*apubsub.Subscription
	for _, channelID := range req.Channels {
		if _, ok := b.channels.Load(channelID); !ok {
			return nil, &apubsub.NotFoundError{Entity: "channel", Ref: channelID}
		}
		if index, ok := b.chanSubs.Load(channelID); ok {
			index.Range(func(subID uint64, _ struct{}) bool {
				if sub, ok := b.subs.Load(subID); ok {
					candidates = append(candidates, sub)
				}
				return true
			})
		}
	}

	sentAt := req.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	env := &envelope{
		id:        b.gen.NextID(),
		channelID: req.Channels[0],
		contents:  contents,
		sentAt:    sentAt,
		msgType:   req.Type,
		origin:    req.Origin,
		level:     req.Level,
	}
	b.msgs.Store(env.id, env)

	index, _ := b.chanMsgs.LoadOrCompute(env.channelID, func() *xsync.MapOf[uint64, struct{}] {
		return xsync.NewMapOf[uint64, struct{}]()
	})
	index.Store(env.id, struct{}{})

	recipients := apubsub.Recipients(candidates, req.Exclude)
	for _, subID := range recipients {
		rows, _ := b.queues.LoadOrCompute(subID, func() *xsync.MapOf[uint64, *queueRow] {
			return xsync.NewMapOf[uint64, *queueRow]()
		})
		rows.Store(env.id, &queueRow{unread: true})
	}

	telemetry.MessagesSentTotal.Inc()
	telemetry.DeliveriesTotal.Add(float64(len(recipients)))
	telemetry.FanoutRecipients.Observe(float64(len(recipients)))
	if len(req.Exclude) > 0 {
		eligible := apubsub.Recipients(candidates, nil)
		telemetry.ExclusionsSkippedTotal.Add(float64(len(eligible) - len(recipients)))
	}

	msg, err := b.envelopeView(env, 0, nil)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// envelopeView builds the caller-facing message from an envelope, carrying
// the queue row state when fetched through a subscription.
func (b *Backend) envelopeView(env *envelope, subID uint64, row *queueRow) (*apubsub.Message, error) {
	var contents any
	if err := encoding.Unmarshal(env.contents, &contents); err != nil {
		return nil, err
	}

	msg := &apubsub.Message{
		ID:        env.id,
		ChannelID: env.channelID,
		Contents:  contents,
		SentAt:    env.sentAt,
		Type:      env.msgType,
		Origin:    env.origin,
		Level:     env.level,
	}
	if row != nil {
		msg.SubscriptionID = subID
		msg.Unread = row.unread
		msg.ReadAt = row.readAt
	}
	msg.Attach(b)
	return msg, nil
}

// Subscriber returns a handle scoped to one subscriber id.
func (b *Backend) Subscriber(id string) *apubsub.Subscriber {
	return apubsub.NewSubscriber(b, id)
}

// Close is a no-op for the in-memory driver.
func (b *Backend) Close() error {
	return nil
}
