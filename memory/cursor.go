package memory

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	apubsub "github.com/makinacorpus/apubsub-sub001"
)

// Channels returns a cursor over channels matching the filter.
func (b *Backend) Channels(filter apubsub.Filter) apubsub.ChannelCursor {
	query := apubsub.NewQuery(apubsub.EntityChannel, filter)
	return apubsub.NewCollectionCursor(query, apubsub.CollectionOps[*apubsub.Channel]{
		Collect: func(ctx context.Context) ([]*apubsub.Channel, error) {
			b.mu.RLock()
			defer b.mu.RUnlock()

			var out []*apubsub.Channel
			b.channels.Range(func(_ string, ch *apubsub.Channel) bool {
				if apubsub.Match(ch, filter) {
					clone := *ch
					out = append(out, &clone)
				}
				return true
			})
			return out, nil
		},
		Update: func(ctx context.Context, items []*apubsub.Channel, values map[apubsub.Field]any) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			updated := 0
			for _, item := range items {
				ch, ok := b.channels.Load(item.ID)
				if !ok {
					continue
				}
				// Stored records are immutable; point readers clone them
				// without the mutex, so updates swap in a new record.
				clone := *ch
				if label, ok := values[apubsub.FieldLabel]; ok {
					clone.Label, _ = label.(string)
				}
				b.channels.Store(item.ID, &clone)
				updated++
			}
			return updated, nil
		},
		Delete: func(ctx context.Context, items []*apubsub.Channel) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			deleted := 0
			for _, item := range items {
				if err := b.deleteChannelLocked(item.ID); err == nil {
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
			b.mu.RLock()
			defer b.mu.RUnlock()

			var out []*apubsub.Subscription
			b.subs.Range(func(_ uint64, sub *apubsub.Subscription) bool {
				if apubsub.Match(sub, filter) {
					clone := *sub
					out = append(out, &clone)
				}
				return true
			})
			return out, nil
		},
		Update: func(ctx context.Context, items []*apubsub.Subscription, values map[apubsub.Field]any) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			now := time.Now()
			updated := 0
			for _, item := range items {
				sub, ok := b.subs.Load(item.ID)
				if !ok {
					continue
				}
				if v, ok := values[apubsub.FieldActive]; ok {
					if active, ok := apubsub.AsBool(v); ok && active != sub.Active {
						// Swap in a new record; readers clone without the
						// mutex.
						clone := *sub
						setActiveState(&clone, active, now)
						b.subs.Store(item.ID, &clone)
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
			for _, item := range items {
				if err := b.unsubscribeLocked(item.ID); err == nil {
					deleted++
				}
			}
			return deleted, nil
		},
	})
}

// Fetch returns a cursor over queued messages matching the filter. Each row
// is one (subscription, message) pair; deleting rows dequeues them without
// touching the shared envelopes.
func (b *Backend) Fetch(filter apubsub.Filter) apubsub.MessageCursor {
	query := apubsub.NewQuery(apubsub.EntityMessage, filter)
	return apubsub.NewCollectionCursor(query, apubsub.CollectionOps[*apubsub.Message]{
		Collect: func(ctx context.Context) ([]*apubsub.Message, error) {
			b.mu.RLock()
			defer b.mu.RUnlock()

			var out []*apubsub.Message
			var failure error
			b.queues.Range(func(subID uint64, rows *xsync.MapOf[uint64, *queueRow]) bool {
				rows.Range(func(msgID uint64, row *queueRow) bool {
					env, ok := b.msgs.Load(msgID)
					if !ok {
						return true
					}
					msg, err := b.envelopeView(env, subID, row)
					if err != nil {
						failure = err
						return false
					}
					if apubsub.Match(msg, filter) {
						out = append(out, msg)
					}
					return true
				})
				return failure == nil
			})
			if failure != nil {
				return nil, failure
			}
			return out, nil
		},
		Update: func(ctx context.Context, items []*apubsub.Message, values map[apubsub.Field]any) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			now := time.Now()
			updated := 0
			for _, item := range items {
				rows, ok := b.queues.Load(item.SubscriptionID)
				if !ok {
					continue
				}
				row, ok := rows.Load(item.ID)
				if !ok {
					continue
				}
				applyReadState(row, values, now)
				updated++
			}
			return updated, nil
		},
		Delete: func(ctx context.Context, items []*apubsub.Message) (int, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			deleted := 0
			for _, item := range items {
				rows, ok := b.queues.Load(item.SubscriptionID)
				if !ok {
					continue
				}
				if _, ok := rows.LoadAndDelete(item.ID); ok {
					deleted++
				}
			}
			return deleted, nil
		},
	})
}

// applyReadState mutates a queue row from validated update values. Marking
// unread clears the read timestamp; marking read stamps it unless an explicit
// timestamp is part of the same update.
func applyReadState(row *queueRow, values map[apubsub.Field]any, now time.Time) {
	if v, ok := values[apubsub.FieldUnread]; ok {
		if unread, ok := apubsub.AsBool(v); ok {
			row.unread = unread
			if unread {
				row.readAt = time.Time{}
			} else if _, explicit := values[apubsub.FieldReadAt]; !explicit {
				row.readAt = now
			}
		}
	}
	if v, ok := values[apubsub.FieldReadAt]; ok {
		if t, ok := apubsub.AsTime(v); ok {
			row.readAt = t
		}
	}
}
