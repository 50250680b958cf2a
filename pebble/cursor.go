package pebble

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"

	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/encoding"
	"github.com/makinacorpus/apubsub-sub001/telemetry"
)

// Channels returns a cursor over channels matching the filter.
func (b *Backend) Channels(filter apubsub.Filter) apubsub.ChannelCursor {
	query := apubsub.NewQuery(apubsub.EntityChannel, filter)
	return apubsub.NewCollectionCursor(query, apubsub.CollectionOps[*apubsub.Channel]{
		Collect: func(ctx context.Context) ([]*apubsub.Channel, error) {
			telemetry.CursorQueriesTotal.With(string(apubsub.EntityChannel)).Inc()

			prefix := []byte(prefixChannel)
			iter, err := b.newPrefixIter(prefix)
			if err != nil {
				return nil, err
			}
			defer iter.Close()

			var out []*apubsub.Channel
			for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
				var rec channelRecord
				val, err := iter.ValueAndErr()
				if err != nil {
					return nil, err
				}
				if err := encoding.Unmarshal(val, &rec); err != nil {
					return nil, err
				}
				ch := &apubsub.Channel{
					ID:        string(iter.Key()[len(prefixChannel):]),
					Label:     rec.Label,
					CreatedAt: time.Unix(0, rec.Created),
				}
				if apubsub.Match(ch, filter) {
					out = append(out, ch)
				}
			}
			return out, iter.Error()
		},
		Update: func(ctx context.Context, items []*apubsub.Channel, values map[apubsub.Field]any) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			label, _ := values[apubsub.FieldLabel].(string)
			updated := 0
			for _, ch := range items {
				var rec channelRecord
				found, err := b.getRecord(channelKey(ch.ID), &rec)
				if err != nil {
					return updated, err
				}
				if !found {
					continue
				}
				rec.Label = label
				data, err := encoding.Marshal(rec)
				if err != nil {
					return updated, err
				}
				if err := b.db.Set(channelKey(ch.ID), data, pebble.Sync); err != nil {
					return updated, err
				}
				updated++
			}
			return updated, nil
		},
		Delete: func(ctx context.Context, items []*apubsub.Channel) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			deleted := 0
			for _, ch := range items {
				if err := b.deleteChannelLocked(ch.ID); err == nil {
					deleted++
				}
			}
			return deleted, nil
		},
	})
}

// Subscriptions returns a cursor over subscriptions matching the filter.
func (b *Backend) Subscriptions(filter apubsub.Filter) apubsub.SubscriptionCursor {
	query := apubsub.NewQuery(apubsub.EntitySubscription, filter)
	return apubsub.NewCollectionCursor(query, apubsub.CollectionOps[*apubsub.Subscription]{
		Collect: func(ctx context.Context) ([]*apubsub.Subscription, error) {
			telemetry.CursorQueriesTotal.With(string(apubsub.EntitySubscription)).Inc()

			prefix := []byte(prefixSub)
			iter, err := b.newPrefixIter(prefix)
			if err != nil {
				return nil, err
			}
			defer iter.Close()

			var out []*apubsub.Subscription
			for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
				subID, err := hexSuffix(iter.Key())
				if err != nil {
					continue
				}
				val, err := iter.ValueAndErr()
				if err != nil {
					return nil, err
				}
				var rec subRecord
				if err := encoding.Unmarshal(val, &rec); err != nil {
					return nil, err
				}
				sub := subscriptionFromRecord(subID, rec)
				if apubsub.Match(sub, filter) {
					out = append(out, sub)
				}
			}
			return out, iter.Error()
		},
		Update: func(ctx context.Context, items []*apubsub.Subscription, values map[apubsub.Field]any) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			active, hasActive := apubsub.AsBool(values[apubsub.FieldActive])
			now := time.Now()
			updated := 0
			for _, sub := range items {
				var rec subRecord
				found, err := b.getRecord(subKey(sub.ID), &rec)
				if err != nil {
					return updated, err
				}
				if !found {
					continue
				}
				if hasActive && rec.Active != active {
					applyActiveState(&rec, active, now)
					data, err := encoding.Marshal(rec)
					if err != nil {
						return updated, err
					}
					if err := b.db.Set(subKey(sub.ID), data, pebble.Sync); err != nil {
						return updated, err
					}
				}
				updated++
			}
			return updated, nil
		},
		Delete: func(ctx context.Context, items []*apubsub.Subscription) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			deleted := 0
			for _, sub := range items {
				if err := b.unsubscribeLocked(sub.ID); err == nil {
					deleted++
				}
			}
			return deleted, nil
		},
	})
}

// Fetch returns a cursor over queued messages matching the filter. Rows are
// the /q/ keys joined with their message records; deleting rows dequeues
// without touching the envelopes.
func (b *Backend) Fetch(filter apubsub.Filter) apubsub.MessageCursor {
	query := apubsub.NewQuery(apubsub.EntityMessage, filter)
	return apubsub.NewCollectionCursor(query, apubsub.CollectionOps[*apubsub.Message]{
		Collect: func(ctx context.Context) ([]*apubsub.Message, error) {
			telemetry.CursorQueriesTotal.With(string(apubsub.EntityMessage)).Inc()

			prefix := []byte(prefixQueue)
			iter, err := b.newPrefixIter(prefix)
			if err != nil {
				return nil, err
			}
			defer iter.Close()

			// Envelopes repeat across recipients; load each once.
			records := make(map[uint64]*msgRecord)

			var out []*apubsub.Message
			for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
				key := iter.Key()
				msgID, err := hexSuffix(key)
				if err != nil {
					continue
				}
				subID, err := hexSuffix(key[:len(key)-17])
				if err != nil {
					continue
				}

				val, err := iter.ValueAndErr()
				if err != nil {
					return nil, err
				}
				var row queueRecord
				if err := encoding.Unmarshal(val, &row); err != nil {
					return nil, err
				}

				rec, ok := records[msgID]
				if !ok {
					var loaded msgRecord
					found, err := b.getRecord(msgKey(msgID), &loaded)
					if err != nil {
						return nil, err
					}
					if !found {
						continue
					}
					rec = &loaded
					records[msgID] = rec
				}

				msg, err := b.messageFromRecord(msgID, *rec, subID, &row)
				if err != nil {
					return nil, err
				}
				if apubsub.Match(msg, filter) {
					out = append(out, msg)
				}
			}
			return out, iter.Error()
		},
		Update: func(ctx context.Context, items []*apubsub.Message, values map[apubsub.Field]any) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			now := time.Now()
			batch := b.db.NewBatch()
			defer batch.Close()

			updated := 0
			for _, msg := range items {
				var row queueRecord
				found, err := b.getRecord(queueKey(msg.SubscriptionID, msg.ID), &row)
				if err != nil {
					return 0, err
				}
				if !found {
					continue
				}
				applyReadState(&row, values, now)
				if err := setRecord(batch, queueKey(msg.SubscriptionID, msg.ID), row); err != nil {
					return 0, err
				}
				updated++
			}
			if err := batch.Commit(pebble.Sync); err != nil {
				return 0, err
			}
			return updated, nil
		},
		Delete: func(ctx context.Context, items []*apubsub.Message) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			batch := b.db.NewBatch()
			defer batch.Close()

			deleted := 0
			for _, msg := range items {
				var row queueRecord
				found, err := b.getRecord(queueKey(msg.SubscriptionID, msg.ID), &row)
				if err != nil {
					return 0, err
				}
				if !found {
					continue
				}
				if err := batch.Delete(queueKey(msg.SubscriptionID, msg.ID), nil); err != nil {
					return 0, err
				}
				if err := batch.Delete(queueByMsgKey(msg.ID, msg.SubscriptionID), nil); err != nil {
					return 0, err
				}
				deleted++
			}
			if err := batch.Commit(pebble.Sync); err != nil {
				return 0, err
			}
			return deleted, nil
		},
	})
}

// applyReadState mutates a queue row from validated update values. Marking
// unread clears the read timestamp; marking read stamps it unless an
// explicit timestamp is part of the same update.
func applyReadState(row *queueRecord, values map[apubsub.Field]any, now time.Time) {
	if v, ok := values[apubsub.FieldUnread]; ok {
		if unread, ok := apubsub.AsBool(v); ok {
			row.Unread = unread
			if unread {
				row.ReadAt = 0
			} else if _, explicit := values[apubsub.FieldReadAt]; !explicit {
				row.ReadAt = now.UnixNano()
			}
		}
	}
	if v, ok := values[apubsub.FieldReadAt]; ok {
		if t, ok := apubsub.AsTime(v); ok {
			if t.IsZero() {
				row.ReadAt = 0
			} else {
				row.ReadAt = t.UnixNano()
			}
		}
	}
}
