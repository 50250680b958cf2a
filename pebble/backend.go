// Package pebble implements the storage driver contract on a local Pebble
// LSM store. Entities are msgpack records under sorted key prefixes;
// secondary index keys make channel fan-out and cascade deletes prefix
// scans instead of full scans.
package pebble

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/encoding"
	"github.com/makinacorpus/apubsub-sub001/id"
	"github.com/makinacorpus/apubsub-sub001/telemetry"
)

// Key prefixes, sorted for efficient iteration.
const (
	prefixChannel    = "/chan/"         // /chan/{channelID}
	prefixSub        = "/sub/"          // /sub/{subID:016x}
	prefixSubByChan  = "/sub_idx/chan/" // /sub_idx/chan/{channelID}/{subID:016x}
	prefixMsg        = "/msg/"          // /msg/{msgID:016x}
	prefixMsgByChan  = "/msg_idx/chan/" // /msg_idx/chan/{channelID}/{msgID:016x}
	prefixQueue      = "/q/"            // /q/{subID:016x}/{msgID:016x}
	prefixQueueByMsg = "/q_idx/msg/"    // /q_idx/msg/{msgID:016x}/{subID:016x}
)

type channelRecord struct {
	Label   string `msgpack:"l"`
	Created int64  `msgpack:"c"`
}

type subRecord struct {
	Channel     string `msgpack:"ch"`
	Subscriber  string `msgpack:"o"`
	Active      bool   `msgpack:"a"`
	Created     int64  `msgpack:"c"`
	Activated   int64  `msgpack:"on"`
	Deactivated int64  `msgpack:"off"`
}

type msgRecord struct {
	Channel  string `msgpack:"ch"`
	Contents []byte `msgpack:"b"`
	Sent     int64  `msgpack:"s"`
	Type     string `msgpack:"t"`
	Origin   string `msgpack:"or"`
	Level    int    `msgpack:"lv"`
}

type queueRecord struct {
	Unread bool  `msgpack:"u"`
	ReadAt int64 `msgpack:"r"`
}

// Backend is the Pebble-backed storage driver. The mutex serializes writers
// so multi-key mutations stay consistent; reads iterate without it.
type Backend struct {
	db   *pebble.DB
	path string
	gen  id.Generator
	mu   sync.Mutex
}

var _ apubsub.Backend = (*Backend)(nil)

type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[pebble] "+format, args...)
}

// New opens (creating if needed) the store at path.
func New(path string, cacheSizeMB int64) (*Backend, error) {
	if cacheSizeMB <= 0 {
		cacheSizeMB = 64
	}
	cache := pebble.NewCache(cacheSizeMB << 20)
	defer cache.Unref() // DB holds its own reference

	db, err := pebble.Open(path, &pebble.Options{
		Cache:  cache,
		Logger: &pebbleLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	return &Backend{
		db:   db,
		path: path,
		gen:  id.NewGenerator(),
	}, nil
}

// Close closes the store.
func (b *Backend) Close() error {
	return b.db.Close()
}

func channelKey(id string) []byte { return []byte(prefixChannel + id) }

func subKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixSub, id))
}

func subByChanKey(channelID string, subID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%016x", prefixSubByChan, channelID, subID))
}

func msgKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixMsg, id))
}

func msgByChanKey(channelID string, msgID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%016x", prefixMsgByChan, channelID, msgID))
}

func queueKey(subID, msgID uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x/%016x", prefixQueue, subID, msgID))
}

func queueByMsgKey(msgID, subID uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x/%016x", prefixQueueByMsg, msgID, subID))
}

// hexSuffix parses the trailing /{id:016x} component of an index key.
func hexSuffix(key []byte) (uint64, error) {
	if len(key) < 16 {
		return 0, fmt.Errorf("malformed index key %q", key)
	}
	return strconv.ParseUint(string(key[len(key)-16:]), 16, 64)
}

// prefixUpperBound returns prefix + 0xFF... for range iteration.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix)+8)
	copy(upper, prefix)
	for i := len(prefix); i < len(upper); i++ {
		upper[i] = 0xFF
	}
	return upper
}

func (b *Backend) newPrefixIter(prefix []byte) (*pebble.Iterator, error) {
	return b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
}

func (b *Backend) getRecord(key []byte, out any) (bool, error) {
	val, closer, err := b.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := encoding.Unmarshal(val, out); err != nil {
		return false, err
	}
	return true, nil
}

func setRecord(batch *pebble.Batch, key []byte, rec any) error {
	data, err := encoding.Marshal(rec)
	if err != nil {
		return err
	}
	return batch.Set(key, data, nil)
}

// CreateChannel creates a channel, failing with DuplicateChannel on id
// collision.
func (b *Backend) CreateChannel(ctx context.Context, chanID, label string) (*apubsub.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var existing channelRecord
	found, err := b.getRecord(channelKey(chanID), &existing)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, &apubsub.DuplicateChannelError{ID: chanID}
	}

	now := time.Now()
	data, err := encoding.Marshal(channelRecord{Label: label, Created: now.UnixNano()})
	if err != nil {
		return nil, err
	}
	if err := b.db.Set(channelKey(chanID), data, pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to store channel: %w", err)
	}
	return &apubsub.Channel{ID: chanID, Label: label, CreatedAt: now}, nil
}

// Channel returns a channel by id.
func (b *Backend) Channel(ctx context.Context, chanID string) (*apubsub.Channel, error) {
	var rec channelRecord
	found, err := b.getRecord(channelKey(chanID), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &apubsub.NotFoundError{Entity: "channel", Ref: chanID}
	}
	return &apubsub.Channel{ID: chanID, Label: rec.Label, CreatedAt: time.Unix(0, rec.Created)}, nil
}

// DeleteChannel removes the channel and cascades over its subscriptions,
// messages and every queue row they reach.
func (b *Backend) DeleteChannel(ctx context.Context, chanID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteChannelLocked(chanID)
}

func (b *Backend) deleteChannelLocked(chanID string) error {
	var rec channelRecord
	found, err := b.getRecord(channelKey(chanID), &rec)
	if err != nil {
		return err
	}
	if !found {
		return &apubsub.NotFoundError{Entity: "channel", Ref: chanID}
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(channelKey(chanID), nil); err != nil {
		return err
	}

	subPrefix := []byte(prefixSubByChan + chanID + "/")
	iter, err := b.newPrefixIter(subPrefix)
	if err != nil {
		return err
	}
	for iter.SeekGE(subPrefix); iter.Valid(); iter.Next() {
		subID, err := hexSuffix(iter.Key())
		if err != nil {
			continue
		}
		if err := b.dropSubscription(batch, chanID, subID); err != nil {
			iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}

	msgPrefix := []byte(prefixMsgByChan + chanID + "/")
	iter, err = b.newPrefixIter(msgPrefix)
	if err != nil {
		return err
	}
	for iter.SeekGE(msgPrefix); iter.Valid(); iter.Next() {
		msgID, err := hexSuffix(iter.Key())
		if err != nil {
			continue
		}
		if err := b.dropMessage(batch, chanID, msgID); err != nil {
			iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}

	return batch.Commit(pebble.Sync)
}

// dropSubscription stages deletion of one subscription, its channel index
// and its queue rows (with their reverse index entries).
func (b *Backend) dropSubscription(batch *pebble.Batch, chanID string, subID uint64) error {
	if err := batch.Delete(subKey(subID), nil); err != nil {
		return err
	}
	if err := batch.Delete(subByChanKey(chanID, subID), nil); err != nil {
		return err
	}

	queuePrefix := []byte(fmt.Sprintf("%s%016x/", prefixQueue, subID))
	iter, err := b.newPrefixIter(queuePrefix)
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(queuePrefix); iter.Valid(); iter.Next() {
		msgID, err := hexSuffix(iter.Key())
		if err != nil {
			continue
		}
		if err := batch.Delete(queueKey(subID, msgID), nil); err != nil {
			return err
		}
		if err := batch.Delete(queueByMsgKey(msgID, subID), nil); err != nil {
			return err
		}
	}
	return nil
}

// dropMessage stages deletion of one message, its channel index and every
// queue row still referencing it, wherever it was delivered.
func (b *Backend) dropMessage(batch *pebble.Batch, chanID string, msgID uint64) error {
	if err := batch.Delete(msgKey(msgID), nil); err != nil {
		return err
	}
	if err := batch.Delete(msgByChanKey(chanID, msgID), nil); err != nil {
		return err
	}

	refPrefix := []byte(fmt.Sprintf("%s%016x/", prefixQueueByMsg, msgID))
	iter, err := b.newPrefixIter(refPrefix)
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(refPrefix); iter.Valid(); iter.Next() {
		subID, err := hexSuffix(iter.Key())
		if err != nil {
			continue
		}
		if err := batch.Delete(queueKey(subID, msgID), nil); err != nil {
			return err
		}
		if err := batch.Delete(queueByMsgKey(msgID, subID), nil); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe creates an inactive subscription on the channel.
func (b *Backend) Subscribe(ctx context.Context, channelID, subscriberID string) (*apubsub.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var chRec channelRecord
	found, err := b.getRecord(channelKey(channelID), &chRec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &apubsub.NotFoundError{Entity: "channel", Ref: channelID}
	}

	now := time.Now()
	subID := b.gen.NextID()

	batch := b.db.NewBatch()
	defer batch.Close()

	rec := subRecord{Channel: channelID, Subscriber: subscriberID, Created: now.UnixNano()}
	if err := setRecord(batch, subKey(subID), rec); err != nil {
		return nil, err
	}
	if err := batch.Set(subByChanKey(channelID, subID), nil, nil); err != nil {
		return nil, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to store subscription: %w", err)
	}

	return &apubsub.Subscription{
		ID:           subID,
		ChannelID:    channelID,
		SubscriberID: subscriberID,
		CreatedAt:    now,
	}, nil
}

func subscriptionFromRecord(subID uint64, rec subRecord) *apubsub.Subscription {
	return &apubsub.Subscription{
		ID:            subID,
		ChannelID:     rec.Channel,
		SubscriberID:  rec.Subscriber,
		Active:        rec.Active,
		CreatedAt:     time.Unix(0, rec.Created),
		ActivatedAt:   nanoTime(rec.Activated),
		DeactivatedAt: nanoTime(rec.Deactivated),
	}
}

func nanoTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Subscription returns a subscription by id.
func (b *Backend) Subscription(ctx context.Context, subID uint64) (*apubsub.Subscription, error) {
	var rec subRecord
	found, err := b.getRecord(subKey(subID), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &apubsub.NotFoundError{Entity: "subscription", Ref: strconv.FormatUint(subID, 10)}
	}
	return subscriptionFromRecord(subID, rec), nil
}

// SetActive toggles the subscription lifecycle state.
func (b *Backend) SetActive(ctx context.Context, subID uint64, active bool) (*apubsub.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rec subRecord
	found, err := b.getRecord(subKey(subID), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &apubsub.NotFoundError{Entity: "subscription", Ref: strconv.FormatUint(subID, 10)}
	}

	if rec.Active != active {
		applyActiveState(&rec, active, time.Now())
		data, err := encoding.Marshal(rec)
		if err != nil {
			return nil, err
		}
		if err := b.db.Set(subKey(subID), data, pebble.Sync); err != nil {
			return nil, fmt.Errorf("failed to update subscription: %w", err)
		}
	}
	return subscriptionFromRecord(subID, rec), nil
}

func applyActiveState(rec *subRecord, active bool, now time.Time) {
	rec.Active = active
	if active {
		rec.Activated = now.UnixNano()
		rec.Deactivated = 0
	} else {
		rec.Deactivated = now.UnixNano()
		rec.Activated = 0
	}
}

// Unsubscribe deletes the subscription and its queued messages.
func (b *Backend) Unsubscribe(ctx context.Context, subID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribeLocked(subID)
}

func (b *Backend) unsubscribeLocked(subID uint64) error {
	var rec subRecord
	found, err := b.getRecord(subKey(subID), &rec)
	if err != nil {
		return err
	}
	if !found {
		return &apubsub.NotFoundError{Entity: "subscription", Ref: strconv.FormatUint(subID, 10)}
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	if err := b.dropSubscription(batch, rec.Channel, subID); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// Send records one message envelope and fans it out, in a single batch, to
// every active non-excluded subscription of the target channels.
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
		var chRec channelRecord
		found, err := b.getRecord(channelKey(channelID), &chRec)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, &apubsub.NotFoundError{Entity: "channel", Ref: channelID}
		}

		subPrefix := []byte(prefixSubByChan + channelID + "/")
		iter, err := b.newPrefixIter(subPrefix)
		if err != nil {
			return nil, err
		}
		for iter.SeekGE(subPrefix); iter.Valid(); iter.Next() {
			subID, err := hexSuffix(iter.Key())
			if err != nil {
				continue
			}
			var rec subRecord
			found, err := b.getRecord(subKey(subID), &rec)
			if err != nil {
				iter.Close()
				return nil, err
			}
			if found {
				candidates = append(candidates, subscriptionFromRecord(subID, rec))
			}
		}
		if err := iter.Close(); err != nil {
			return nil, err
		}
	}

	sentAt := req.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	msgID := b.gen.NextID()

	batch := b.db.NewBatch()
	defer batch.Close()

	rec := msgRecord{
		Channel:  req.Channels[0],
		Contents: contents,
		Sent:     sentAt.UnixNano(),
		Type:     req.Type,
		Origin:   req.Origin,
		Level:    req.Level,
	}
	if err := setRecord(batch, msgKey(msgID), rec); err != nil {
		return nil, err
	}
	if err := batch.Set(msgByChanKey(rec.Channel, msgID), nil, nil); err != nil {
		return nil, err
	}

	recipients := apubsub.Recipients(candidates, req.Exclude)
	for _, subID := range recipients {
		if err := setRecord(batch, queueKey(subID, msgID), queueRecord{Unread: true}); err != nil {
			return nil, err
		}
		if err := batch.Set(queueByMsgKey(msgID, subID), nil, nil); err != nil {
			return nil, err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit send: %w", err)
	}

	telemetry.MessagesSentTotal.Inc()
	telemetry.DeliveriesTotal.Add(float64(len(recipients)))
	telemetry.FanoutRecipients.Observe(float64(len(recipients)))
	if len(req.Exclude) > 0 {
		eligible := apubsub.Recipients(candidates, nil)
		telemetry.ExclusionsSkippedTotal.Add(float64(len(eligible) - len(recipients)))
	}

	return b.messageFromRecord(msgID, rec, 0, nil)
}

// messageFromRecord builds the caller-facing message, carrying read state
// when fetched through a subscription queue row.
func (b *Backend) messageFromRecord(msgID uint64, rec msgRecord, subID uint64, row *queueRecord) (*apubsub.Message, error) {
	var decoded any
	if err := encoding.Unmarshal(rec.Contents, &decoded); err != nil {
		return nil, err
	}

	msg := &apubsub.Message{
		ID:        msgID,
		ChannelID: rec.Channel,
		Contents:  decoded,
		SentAt:    time.Unix(0, rec.Sent),
		Type:      rec.Type,
		Origin:    rec.Origin,
		Level:     rec.Level,
	}
	if row != nil {
		msg.SubscriptionID = subID
		msg.Unread = row.Unread
		msg.ReadAt = nanoTime(row.ReadAt)
	}
	msg.Attach(b)
	return msg, nil
}

// Subscriber returns a handle scoped to one subscriber id.
func (b *Backend) Subscriber(id string) *apubsub.Subscriber {
	return apubsub.NewSubscriber(b, id)
}
