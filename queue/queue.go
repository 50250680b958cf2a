// Package queue provides a bounded, ordered in-memory view over one
// subscription's messages, for callers keeping a working set (an unread
// widget, a notification tray) without re-querying storage on every access.
package queue

import (
	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/telemetry"
)

// entry pairs a stored message with its append recency. Eviction always
// takes the lowest seq, regardless of the entry's current position.
type entry struct {
	msg *apubsub.Message
	seq uint64
}

// MessageQueue keeps up to limit messages in insertion order. Stored
// messages are detached copies; mutating them never reaches storage, the
// queue only tracks that it diverged so the owner knows to write back.
//
// Appending to a full queue is refused; prepending to a full queue evicts
// the earliest-appended message still present. New items displace old ones,
// never the other way around.
type MessageQueue struct {
	limit    int
	items    []entry
	nextSeq  uint64
	modified bool
}

// New creates a queue bounded to limit messages. apubsub.NoLimit disables
// the bound; zero is a valid bound that holds nothing.
func New(limit int) *MessageQueue {
	if limit < 0 {
		limit = apubsub.NoLimit
	}
	return &MessageQueue{limit: limit}
}

// Limit returns the configured bound, apubsub.NoLimit when unbounded.
func (q *MessageQueue) Limit() int {
	return q.limit
}

func (q *MessageQueue) bounded() bool {
	return q.limit != apubsub.NoLimit
}

// Len returns the number of queued messages.
func (q *MessageQueue) Len() int {
	return len(q.items)
}

// IsEmpty reports whether the queue holds no messages.
func (q *MessageQueue) IsEmpty() bool {
	return len(q.items) == 0
}

// Modified reports whether the queue mutated since load or the last
// ClearModified (inserts, removals, evictions, read-state flips).
func (q *MessageQueue) Modified() bool {
	return q.modified
}

// ClearModified resets the divergence flag, typically after the owner wrote
// the state back to storage.
func (q *MessageQueue) ClearModified() {
	q.modified = false
}

// Append adds a message at the tail. A bounded queue that is full refuses
// the message with CapacityExceeded.
func (q *MessageQueue) Append(msg *apubsub.Message) error {
	if q.bounded() && len(q.items) >= q.limit {
		telemetry.QueueRefusalsTotal.Inc()
		return &apubsub.CapacityExceededError{Limit: q.limit}
	}
	q.items = append(q.items, entry{msg: msg.Detach(), seq: q.nextSeq})
	q.nextSeq++
	q.modified = true
	return nil
}

// Prepend adds a message at the head, evicting the earliest-appended
// message when the bound is exceeded. Never fails: newest-first callers
// prefer losing the oldest message over losing the newest.
func (q *MessageQueue) Prepend(msg *apubsub.Message) {
	q.items = append([]entry{{msg: msg.Detach(), seq: q.nextSeq}}, q.items...)
	q.nextSeq++
	q.modified = true
	q.EnsureLimit()
}

// EnsureLimit drops messages, earliest-appended first, until the queue fits
// its bound and returns how many were evicted.
func (q *MessageQueue) EnsureLimit() int {
	if !q.bounded() || len(q.items) <= q.limit {
		return 0
	}
	evicted := 0
	for len(q.items) > q.limit {
		oldest := 0
		for i := 1; i < len(q.items); i++ {
			if q.items[i].seq < q.items[oldest].seq {
				oldest = i
			}
		}
		q.items = append(q.items[:oldest], q.items[oldest+1:]...)
		evicted++
	}
	if evicted > 0 {
		telemetry.QueueEvictionsTotal.Add(float64(evicted))
		q.modified = true
	}
	return evicted
}

// Remove drops the message with the given id, reporting whether it was
// present.
func (q *MessageQueue) Remove(msgID uint64) bool {
	for i, e := range q.items {
		if e.msg.ID == msgID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.modified = true
			return true
		}
	}
	return false
}

// Get returns the queued message with the given id.
func (q *MessageQueue) Get(msgID uint64) (*apubsub.Message, bool) {
	for _, e := range q.items {
		if e.msg.ID == msgID {
			return e.msg, true
		}
	}
	return nil, false
}

// Messages returns the queued messages in order.
func (q *MessageQueue) Messages() []*apubsub.Message {
	out := make([]*apubsub.Message, len(q.items))
	for i, e := range q.items {
		out[i] = e.msg
	}
	return out
}

// SetUnread flips the read state of one queued message.
func (q *MessageQueue) SetUnread(msgID uint64, unread bool) bool {
	for _, e := range q.items {
		if e.msg.ID == msgID {
			if e.msg.Unread != unread {
				e.msg.Unread = unread
				q.modified = true
			}
			return true
		}
	}
	return false
}

// CountUnread returns the number of unread messages.
func (q *MessageQueue) CountUnread() int {
	count := 0
	for _, e := range q.items {
		if e.msg.Unread {
			count++
		}
	}
	return count
}

// HasUnread reports whether any queued message is unread.
func (q *MessageQueue) HasUnread() bool {
	for _, e := range q.items {
		if e.msg.Unread {
			return true
		}
	}
	return false
}
