// Package drivertest is the storage driver contract suite. Every driver's
// own test package runs it against a fresh backend so the three
// implementations cannot drift apart on delivery, cursor or lifecycle
// semantics.
package drivertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub001"
)

// Factory opens a fresh, empty backend. Cleanup runs via t.Cleanup.
type Factory func(t *testing.T) apubsub.Backend

// Run executes the contract suite against the driver behind open.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b apubsub.Backend)
	}{
		{"ChannelLifecycle", testChannelLifecycle},
		{"DuplicateChannel", testDuplicateChannel},
		{"SubscriptionLifecycle", testSubscriptionLifecycle},
		{"SendToActiveOnly", testSendToActiveOnly},
		{"CountIgnoresLimit", testCountIgnoresLimit},
		{"BulkUpdateFullSet", testBulkUpdateFullSet},
		{"ExclusionList", testExclusionList},
		{"MultiChannelSingleCopy", testMultiChannelSingleCopy},
		{"SendWithoutRecipients", testSendWithoutRecipients},
		{"CascadeDeleteChannel", testCascadeDeleteChannel},
		{"UnsubscribeDropsQueue", testUnsubscribeDropsQueue},
		{"ContentsRoundTrip", testContentsRoundTrip},
		{"CursorAlreadyExecuted", testCursorAlreadyExecuted},
		{"CursorResume", testCursorResume},
		{"CursorSortOrder", testCursorSortOrder},
		{"CursorRange", testCursorRange},
		{"UnsupportedSortAndFilter", testUnsupportedSortAndFilter},
		{"QueueRowDelete", testQueueRowDelete},
		{"ChannelCursorUpdate", testChannelCursorUpdate},
		{"SubscriberHandle", testSubscriberHandle},
		{"AnonymousSubscription", testAnonymousSubscription},
		{"DeactivateNoReplay", testDeactivateNoReplay},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := open(t)
			t.Cleanup(func() { b.Close() })
			tc.fn(t, b)
		})
	}
}

// activeSub creates a channel subscription and activates it.
func activeSub(t *testing.T, b apubsub.Backend, channel, subscriber string) *apubsub.Subscription {
	t.Helper()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, channel, subscriber)
	require.NoError(t, err)
	sub, err = b.SetActive(ctx, sub.ID, true)
	require.NoError(t, err)
	require.True(t, sub.Active)
	return sub
}

func send(t *testing.T, b apubsub.Backend, channel string, contents any) *apubsub.Message {
	t.Helper()

	msg, err := b.Send(context.Background(), apubsub.SendRequest{
		Channels: []string{channel},
		Contents: contents,
	})
	require.NoError(t, err)
	require.NotZero(t, msg.ID)
	return msg
}

func collectMessages(t *testing.T, cur apubsub.MessageCursor) []*apubsub.Message {
	t.Helper()

	var out []*apubsub.Message
	for {
		msg, ok, err := cur.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

func testChannelLifecycle(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	ch, err := b.CreateChannel(ctx, "mail", "Mailbox")
	require.NoError(t, err)
	require.Equal(t, "mail", ch.ID)
	require.Equal(t, "Mailbox", ch.Label)
	require.False(t, ch.CreatedAt.IsZero())

	loaded, err := b.Channel(ctx, "mail")
	require.NoError(t, err)
	require.Equal(t, ch.ID, loaded.ID)
	require.Equal(t, ch.Label, loaded.Label)

	require.NoError(t, b.DeleteChannel(ctx, "mail"))

	_, err = b.Channel(ctx, "mail")
	require.True(t, apubsub.IsNotFound(err))

	err = b.DeleteChannel(ctx, "mail")
	require.True(t, apubsub.IsNotFound(err))
}

func testDuplicateChannel(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "first")
	require.NoError(t, err)

	_, err = b.CreateChannel(ctx, "mail", "second")
	require.True(t, apubsub.IsDuplicateChannel(err))

	// The original is untouched.
	ch, err := b.Channel(ctx, "mail")
	require.NoError(t, err)
	require.Equal(t, "first", ch.Label)
}

func testSubscriptionLifecycle(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)

	sub, err := b.Subscribe(ctx, "mail", "alice")
	require.NoError(t, err)
	require.False(t, sub.Active)
	require.False(t, sub.CreatedAt.IsZero())

	// Inactive: no start time, a (zero) stop time.
	_, err = sub.StartTime()
	require.True(t, apubsub.IsInvalidState(err))
	stop, err := sub.StopTime()
	require.NoError(t, err)
	require.True(t, stop.IsZero())

	sub, err = b.SetActive(ctx, sub.ID, true)
	require.NoError(t, err)
	require.True(t, sub.Active)

	start, err := sub.StartTime()
	require.NoError(t, err)
	require.False(t, start.IsZero())
	_, err = sub.StopTime()
	require.True(t, apubsub.IsInvalidState(err))

	sub, err = b.SetActive(ctx, sub.ID, false)
	require.NoError(t, err)
	require.False(t, sub.Active)

	stop, err = sub.StopTime()
	require.NoError(t, err)
	require.False(t, stop.IsZero())
	_, err = sub.StartTime()
	require.True(t, apubsub.IsInvalidState(err))

	// Subscribing to a missing channel fails.
	_, err = b.Subscribe(ctx, "nope", "alice")
	require.True(t, apubsub.IsNotFound(err))

	_, err = b.Subscription(ctx, 424242)
	require.True(t, apubsub.IsNotFound(err))
}

func testSendToActiveOnly(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)

	active := activeSub(t, b, "mail", "alice")
	idle, err := b.Subscribe(ctx, "mail", "bob")
	require.NoError(t, err)

	send(t, b, "mail", "hello")

	got := collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: active.ID}))
	require.Len(t, got, 1)
	require.True(t, got[0].Unread)
	require.Equal(t, active.ID, got[0].SubscriptionID)

	got = collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: idle.ID}))
	require.Empty(t, got)
}

func testCountIgnoresLimit(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	sub := activeSub(t, b, "mail", "alice")

	for i := 0; i < 10; i++ {
		send(t, b, "mail", i)
	}

	cur := b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID})
	require.NoError(t, cur.SetLimit(3))

	count, err := cur.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, count)

	got := collectMessages(t, cur)
	require.Len(t, got, 3)

	// Count is stable after iteration too.
	count, err = cur.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, count)
}

func testBulkUpdateFullSet(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	sub := activeSub(t, b, "mail", "alice")

	for i := 0; i < 6; i++ {
		send(t, b, "mail", i)
	}

	// A paged cursor still mutates the whole filtered set.
	cur := b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID})
	require.NoError(t, cur.SetLimit(2))
	affected, err := cur.Update(ctx, map[apubsub.Field]any{apubsub.FieldUnread: false})
	require.NoError(t, err)
	require.Equal(t, 6, affected)

	unread := collectMessages(t, b.Fetch(apubsub.Filter{
		apubsub.FieldSubscription: sub.ID,
		apubsub.FieldUnread:       true,
	}))
	require.Empty(t, unread)

	read := collectMessages(t, b.Fetch(apubsub.Filter{
		apubsub.FieldSubscription: sub.ID,
		apubsub.FieldUnread:       false,
	}))
	require.Len(t, read, 6)
	for _, msg := range read {
		require.False(t, msg.ReadAt.IsZero())
	}
}

func testExclusionList(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)

	subs := make([]*apubsub.Subscription, 4)
	for i, name := range []string{"a", "b", "c", "d"} {
		subs[i] = activeSub(t, b, "mail", name)
	}

	_, err = b.Send(ctx, apubsub.SendRequest{
		Channels: []string{"mail"},
		Contents: "partial",
		Exclude:  []uint64{subs[1].ID, subs[3].ID},
	})
	require.NoError(t, err)

	for i, sub := range subs {
		got := collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID}))
		if i == 1 || i == 3 {
			require.Empty(t, got, "excluded subscription %d", i)
		} else {
			require.Len(t, got, 1, "subscription %d", i)
		}
	}

	// Exclusion is per send only.
	send(t, b, "mail", "full")
	got := collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: subs[1].ID}))
	require.Len(t, got, 1)
}

func testMultiChannelSingleCopy(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "a", "")
	require.NoError(t, err)
	_, err = b.CreateChannel(ctx, "b", "")
	require.NoError(t, err)

	// Alice subscribes to both target channels.
	subA := activeSub(t, b, "a", "alice")
	subB := activeSub(t, b, "b", "alice")

	msg, err := b.Send(ctx, apubsub.SendRequest{
		Channels: []string{"a", "b"},
		Contents: "both",
	})
	require.NoError(t, err)
	require.Equal(t, "a", msg.ChannelID)

	// One copy per subscription, not per target channel.
	for _, sub := range []*apubsub.Subscription{subA, subB} {
		got := collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID}))
		require.Len(t, got, 1)
		require.Equal(t, msg.ID, got[0].ID)
	}

	// A send naming the same channel twice still delivers once.
	msg2, err := b.Send(ctx, apubsub.SendRequest{
		Channels: []string{"a", "a"},
		Contents: "twice",
	})
	require.NoError(t, err)
	got := collectMessages(t, b.Fetch(apubsub.Filter{
		apubsub.FieldSubscription: subA.ID,
		apubsub.FieldID:           msg2.ID,
	}))
	require.Len(t, got, 1)
}

func testSendWithoutRecipients(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "empty", "")
	require.NoError(t, err)

	msg := send(t, b, "empty", "nobody home")
	require.Equal(t, "empty", msg.ChannelID)

	// The envelope can still resolve its channel.
	ch, err := msg.Channel(ctx)
	require.NoError(t, err)
	require.Equal(t, "empty", ch.ID)

	// Sending to a missing channel fails outright.
	_, err = b.Send(ctx, apubsub.SendRequest{Channels: []string{"nope"}, Contents: "x"})
	require.True(t, apubsub.IsNotFound(err))
}

func testCascadeDeleteChannel(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	sub := activeSub(t, b, "mail", "alice")
	send(t, b, "mail", "gone soon")

	require.NoError(t, b.DeleteChannel(ctx, "mail"))

	_, err = b.Subscription(ctx, sub.ID)
	require.True(t, apubsub.IsNotFound(err))

	count, err := b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID}).Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func testUnsubscribeDropsQueue(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	keep := activeSub(t, b, "mail", "alice")
	drop := activeSub(t, b, "mail", "bob")
	send(t, b, "mail", "hello")

	require.NoError(t, b.Unsubscribe(ctx, drop.ID))
	require.True(t, apubsub.IsNotFound(b.Unsubscribe(ctx, drop.ID)))

	got := collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: drop.ID}))
	require.Empty(t, got)
	got = collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: keep.ID}))
	require.Len(t, got, 1)
}

func testContentsRoundTrip(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	sub := activeSub(t, b, "mail", "alice")

	_, err = b.Send(ctx, apubsub.SendRequest{
		Channels: []string{"mail"},
		Contents: map[string]any{"subject": "hi", "body": "text"},
		Type:     "mail.incoming",
		Origin:   "node-1",
		Level:    3,
	})
	require.NoError(t, err)

	got := collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID}))
	require.Len(t, got, 1)

	msg := got[0]
	require.Equal(t, "mail.incoming", msg.Type)
	require.Equal(t, "node-1", msg.Origin)
	require.Equal(t, 3, msg.Level)
	require.False(t, msg.SentAt.IsZero())

	contents, ok := msg.Contents.(map[string]any)
	require.True(t, ok, "contents decoded as %T", msg.Contents)
	require.Equal(t, "hi", contents["subject"])
	require.Equal(t, "text", contents["body"])
}

func testCursorAlreadyExecuted(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	sub := activeSub(t, b, "mail", "alice")
	send(t, b, "mail", "one")

	cur := b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID})
	require.NoError(t, cur.SetLimit(5))

	_, _, err = cur.Next(ctx)
	require.NoError(t, err)

	require.True(t, apubsub.IsAlreadyExecuted(cur.SetLimit(1)))
	require.True(t, apubsub.IsAlreadyExecuted(cur.SetRange(0, 1)))
}

func testCursorResume(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	sub := activeSub(t, b, "mail", "alice")

	sent := make([]uint64, 5)
	for i := range sent {
		sent[i] = send(t, b, "mail", i).ID
	}

	cur := b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID})

	var seen []uint64
	for i := 0; i < 2; i++ {
		msg, ok, err := cur.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		seen = append(seen, msg.ID)
	}

	// Picking the cursor back up resumes, it does not restart.
	for {
		msg, ok, err := cur.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		seen = append(seen, msg.ID)
	}
	require.Equal(t, sent, seen)

	// Exhausted stays exhausted.
	_, ok, err := cur.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func testCursorSortOrder(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	sub := activeSub(t, b, "mail", "alice")

	sent := make([]uint64, 4)
	for i := range sent {
		sent[i] = send(t, b, "mail", i).ID
	}

	// Default order is id ascending, which is send order.
	got := collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID}))
	require.Len(t, got, 4)
	for i, msg := range got {
		require.Equal(t, sent[i], msg.ID)
	}

	cur := b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID})
	require.NoError(t, cur.AddSort(apubsub.FieldID, apubsub.Desc))
	got = collectMessages(t, cur)
	require.Len(t, got, 4)
	for i, msg := range got {
		require.Equal(t, sent[len(sent)-1-i], msg.ID)
	}
}

func testCursorRange(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	sub := activeSub(t, b, "mail", "alice")

	sent := make([]uint64, 6)
	for i := range sent {
		sent[i] = send(t, b, "mail", i).ID
	}

	cur := b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID})
	require.NoError(t, cur.SetRange(2, 3))
	got := collectMessages(t, cur)
	require.Len(t, got, 3)
	require.Equal(t, sent[2:5], []uint64{got[0].ID, got[1].ID, got[2].ID})

	// An offset past the end yields nothing.
	cur = b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID})
	require.NoError(t, cur.SetRange(10, 3))
	require.Empty(t, collectMessages(t, cur))

	// NoLimit with an offset yields the tail.
	cur = b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID})
	require.NoError(t, cur.SetRange(4, apubsub.NoLimit))
	require.Len(t, collectMessages(t, cur), 2)
}

func testUnsupportedSortAndFilter(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)

	cur := b.Channels(nil)
	var sortErr *apubsub.UnsupportedSortError
	require.ErrorAs(t, cur.AddSort(apubsub.FieldUnread, apubsub.Asc), &sortErr)

	// Filter fields are validated on first use.
	bad := b.Channels(apubsub.Filter{apubsub.FieldSubscription: uint64(1)})
	_, _, err = bad.Next(ctx)
	var filterErr *apubsub.UnsupportedFilterError
	require.ErrorAs(t, err, &filterErr)
}

func testQueueRowDelete(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	alice := activeSub(t, b, "mail", "alice")
	bob := activeSub(t, b, "mail", "bob")

	for i := 0; i < 3; i++ {
		send(t, b, "mail", i)
	}

	cur := b.Fetch(apubsub.Filter{apubsub.FieldSubscription: alice.ID})
	deleted, err := cur.Delete(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, deleted)

	// Count recomputes after Delete.
	count, err := cur.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	// Bob's queue is untouched.
	got := collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: bob.ID}))
	require.Len(t, got, 3)
}

func testChannelCursorUpdate(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := b.CreateChannel(ctx, id, "old")
		require.NoError(t, err)
	}

	cur := b.Channels(apubsub.Filter{apubsub.FieldID: []string{"a", "c"}})
	affected, err := cur.Update(ctx, map[apubsub.Field]any{apubsub.FieldLabel: "new"})
	require.NoError(t, err)
	require.Equal(t, 2, affected)

	for id, want := range map[string]string{"a": "new", "b": "old", "c": "new"} {
		ch, err := b.Channel(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, ch.Label, "channel %s", id)
	}

	deleted, err := b.Channels(apubsub.Filter{apubsub.FieldID: "b"}).Delete(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	_, err = b.Channel(ctx, "b")
	require.True(t, apubsub.IsNotFound(err))
}

func testSubscriberHandle(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	for _, id := range []string{"mail", "chat"} {
		_, err := b.CreateChannel(ctx, id, "")
		require.NoError(t, err)
	}

	alice := b.Subscriber("alice")
	require.Equal(t, "alice", alice.ID())

	subMail, err := alice.Subscribe(ctx, "mail")
	require.NoError(t, err)
	_, err = b.SetActive(ctx, subMail.ID, true)
	require.NoError(t, err)

	subChat, err := alice.Subscribe(ctx, "chat")
	require.NoError(t, err)
	_, err = b.SetActive(ctx, subChat.ID, true)
	require.NoError(t, err)

	bobSub := activeSub(t, b, "mail", "bob")

	send(t, b, "mail", "to mail")
	send(t, b, "chat", "to chat")

	// The handle's fetch spans all of alice's subscriptions and nobody
	// else's.
	cur, err := alice.Fetch(ctx, nil)
	require.NoError(t, err)
	got := collectMessages(t, cur)
	require.Len(t, got, 2)
	for _, msg := range got {
		require.Contains(t, []uint64{subMail.ID, subChat.ID}, msg.SubscriptionID)
	}

	// Unsubscribing someone else's subscription is NotFound from here.
	require.True(t, apubsub.IsNotFound(alice.Unsubscribe(ctx, bobSub.ID)))
	_, err = b.Subscription(ctx, bobSub.ID)
	require.NoError(t, err)

	require.NoError(t, alice.Unsubscribe(ctx, subChat.ID))
	_, err = b.Subscription(ctx, subChat.ID)
	require.True(t, apubsub.IsNotFound(err))
}

func testAnonymousSubscription(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)

	anon := activeSub(t, b, "mail", "")
	require.Empty(t, anon.SubscriberID)

	send(t, b, "mail", "hello")
	got := collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: anon.ID}))
	require.Len(t, got, 1)
}

func testDeactivateNoReplay(t *testing.T, b apubsub.Backend) {
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)
	sub := activeSub(t, b, "mail", "alice")

	send(t, b, "mail", "while active")

	_, err = b.SetActive(ctx, sub.ID, false)
	require.NoError(t, err)
	send(t, b, "mail", "while inactive")

	_, err = b.SetActive(ctx, sub.ID, true)
	require.NoError(t, err)
	send(t, b, "mail", "active again")

	// The message sent while inactive is gone for good; the queued one
	// survived the toggle.
	got := collectMessages(t, b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID}))
	require.Len(t, got, 2)
	require.Equal(t, "while active", got[0].Contents)
	require.Equal(t, "active again", got[1].Contents)
}
