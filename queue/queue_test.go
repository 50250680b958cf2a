package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub001"
)

func msg(id uint64, unread bool) *apubsub.Message {
	return &apubsub.Message{ID: id, ChannelID: "mail", Unread: unread}
}

func TestQueueAppendCapacity(t *testing.T) {
	q := New(2)

	require.NoError(t, q.Append(msg(1, true)))
	require.NoError(t, q.Append(msg(2, true)))
	require.Equal(t, 2, q.Len())

	err := q.Append(msg(3, true))
	require.True(t, apubsub.IsCapacityExceeded(err))
	require.Equal(t, 2, q.Len())

	// Unbounded queues never refuse.
	unbounded := New(apubsub.NoLimit)
	for i := uint64(1); i <= 100; i++ {
		require.NoError(t, unbounded.Append(msg(i, true)))
	}
	require.Equal(t, 100, unbounded.Len())
}

func TestQueuePrependEvictsOldestAppended(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Append(msg(1, true)))
	require.NoError(t, q.Append(msg(2, true)))
	require.True(t, apubsub.IsCapacityExceeded(q.Append(msg(3, true))))

	// Prepend on a full queue keeps the newcomer and drops the message
	// that has been in the queue the longest, not the positional tail.
	q.Prepend(msg(4, true))
	require.Equal(t, 2, q.Len())

	got := q.Messages()
	require.Equal(t, uint64(4), got[0].ID)
	require.Equal(t, uint64(2), got[1].ID)
	_, found := q.Get(1)
	require.False(t, found)
	require.True(t, q.Modified())
}

func TestQueueRepeatedPrependEvictionOrder(t *testing.T) {
	q := New(3)
	require.NoError(t, q.Append(msg(1, true)))
	require.NoError(t, q.Append(msg(2, true)))
	require.NoError(t, q.Append(msg(3, true)))

	// Each prepend displaces the earliest surviving append.
	q.Prepend(msg(4, true))
	q.Prepend(msg(5, true))

	got := q.Messages()
	require.Equal(t, uint64(5), got[0].ID)
	require.Equal(t, uint64(4), got[1].ID)
	require.Equal(t, uint64(3), got[2].ID)
}

func TestQueueModifiedOnInsert(t *testing.T) {
	q := New(apubsub.NoLimit)

	require.NoError(t, q.Append(msg(1, true)))
	require.True(t, q.Modified())

	q.ClearModified()
	q.Prepend(msg(2, true))
	require.True(t, q.Modified())
}

func TestQueueRemove(t *testing.T) {
	q := New(apubsub.NoLimit)
	require.NoError(t, q.Append(msg(1, true)))
	require.NoError(t, q.Append(msg(2, true)))
	q.ClearModified()

	require.True(t, q.Remove(1))
	require.False(t, q.Remove(1))
	require.Equal(t, 1, q.Len())
	require.True(t, q.Modified())

	q.ClearModified()
	require.False(t, q.Modified())
}

func TestQueueReadState(t *testing.T) {
	q := New(apubsub.NoLimit)
	require.NoError(t, q.Append(msg(1, true)))
	require.NoError(t, q.Append(msg(2, false)))
	require.NoError(t, q.Append(msg(3, true)))
	q.ClearModified()

	require.Equal(t, 2, q.CountUnread())
	require.True(t, q.HasUnread())
	require.False(t, q.Modified())

	require.True(t, q.SetUnread(1, false))
	require.Equal(t, 1, q.CountUnread())
	require.True(t, q.Modified())

	// Flipping to the current state is a no-op for the modified flag.
	q.ClearModified()
	require.True(t, q.SetUnread(1, false))
	require.False(t, q.Modified())

	require.False(t, q.SetUnread(99, true))
}

func TestQueueDetachesEntries(t *testing.T) {
	q := New(apubsub.NoLimit)
	original := msg(1, true)
	require.NoError(t, q.Append(original))

	// The queue holds a copy; mutating it leaves the original alone.
	stored, found := q.Get(1)
	require.True(t, found)
	stored.Unread = false
	require.True(t, original.Unread)

	require.False(t, stored.Attached())
}

func TestQueueZeroLimitHoldsNothing(t *testing.T) {
	q := New(0)
	require.Equal(t, 0, q.Limit())

	require.True(t, apubsub.IsCapacityExceeded(q.Append(msg(1, true))))
	q.Prepend(msg(2, true))
	require.True(t, q.IsEmpty())
}

func TestQueueEnsureLimit(t *testing.T) {
	q := New(apubsub.NoLimit)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.Append(msg(i, true)))
	}
	// Unbounded: nothing to trim.
	require.Zero(t, q.EnsureLimit())
	require.Equal(t, 5, q.Len())
	require.False(t, q.IsEmpty())
	require.Equal(t, apubsub.NoLimit, q.Limit())
}
