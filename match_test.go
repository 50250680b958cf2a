package apubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatchScalar(t *testing.T) {
	msg := &Message{ID: 7, ChannelID: "mail", Level: 3, Unread: true}

	require.True(t, Match(msg, Filter{FieldChannel: "mail"}))
	require.True(t, Match(msg, Filter{FieldID: uint64(7)}))
	require.True(t, Match(msg, Filter{FieldLevel: 3}))
	require.True(t, Match(msg, Filter{FieldUnread: true}))

	require.False(t, Match(msg, Filter{FieldChannel: "chat"}))
	require.False(t, Match(msg, Filter{FieldUnread: false}))

	// nil filter matches everything.
	require.True(t, Match(msg, nil))
}

func TestMatchInList(t *testing.T) {
	sub := &Subscription{ID: 42, ChannelID: "mail", SubscriberID: "alice"}

	require.True(t, Match(sub, Filter{FieldID: []uint64{1, 42, 9}}))
	require.False(t, Match(sub, Filter{FieldID: []uint64{1, 9}}))
	require.True(t, Match(sub, Filter{FieldChannel: []string{"mail", "chat"}}))

	// An empty list matches nothing, it is not "no condition".
	require.False(t, Match(sub, Filter{FieldID: []uint64{}}))
}

func TestMatchTime(t *testing.T) {
	now := time.Now()
	ch := &Channel{ID: "mail", CreatedAt: now}

	require.True(t, Match(ch, Filter{FieldCreated: now}))
	require.False(t, Match(ch, Filter{FieldCreated: now.Add(time.Second)}))
}

func TestSortSlice(t *testing.T) {
	msgs := []*Message{
		{ID: 3, Level: 1},
		{ID: 1, Level: 2},
		{ID: 2, Level: 1},
	}

	SortSlice(msgs, []SortKey{{Field: FieldID, Order: Asc}})
	require.Equal(t, uint64(1), msgs[0].ID)
	require.Equal(t, uint64(3), msgs[2].ID)

	// Primary key level descending, id ascending breaking the tie.
	SortSlice(msgs, []SortKey{
		{Field: FieldLevel, Order: Desc},
		{Field: FieldID, Order: Asc},
	})
	require.Equal(t, uint64(1), msgs[0].ID)
	require.Equal(t, uint64(2), msgs[1].ID)
	require.Equal(t, uint64(3), msgs[2].ID)
}

func TestAsBool(t *testing.T) {
	for _, v := range []any{true, 1, int64(5), uint64(1)} {
		got, ok := AsBool(v)
		require.True(t, ok)
		require.True(t, got)
	}
	for _, v := range []any{false, 0, int64(0)} {
		got, ok := AsBool(v)
		require.True(t, ok)
		require.False(t, got)
	}
	_, ok := AsBool("yes")
	require.False(t, ok)
}

func TestAsTime(t *testing.T) {
	now := time.Now()

	got, ok := AsTime(now)
	require.True(t, ok)
	require.Equal(t, now, got)

	got, ok = AsTime(now.UnixNano())
	require.True(t, ok)
	require.Equal(t, now.UnixNano(), got.UnixNano())

	got, ok = AsTime(int64(0))
	require.True(t, ok)
	require.True(t, got.IsZero())

	_, ok = AsTime("soon")
	require.False(t, ok)
}
