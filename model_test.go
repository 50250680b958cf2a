package apubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscriptionLifecycleTimes(t *testing.T) {
	now := time.Now()

	active := &Subscription{ID: 1, Active: true, ActivatedAt: now}
	start, err := active.StartTime()
	require.NoError(t, err)
	require.Equal(t, now, start)
	_, err = active.StopTime()
	require.True(t, IsInvalidState(err))

	inactive := &Subscription{ID: 2, Active: false, DeactivatedAt: now}
	stop, err := inactive.StopTime()
	require.NoError(t, err)
	require.Equal(t, now, stop)
	_, err = inactive.StartTime()
	require.True(t, IsInvalidState(err))
}

func TestMessageDetach(t *testing.T) {
	var backend Backend // nil is fine, attachment is what is under test

	msg := &Message{ID: 1, ChannelID: "mail"}
	require.False(t, msg.Attached())

	msg.Attach(backend)
	require.False(t, msg.Attached())

	detached := msg.Detach()
	require.False(t, detached.Attached())
	require.Equal(t, msg.ID, detached.ID)

	// The clone is independent.
	detached.Unread = true
	require.False(t, msg.Unread)

	_, err := detached.Channel(context.Background())
	require.True(t, IsDetached(err))
}

func TestSendRequestValidate(t *testing.T) {
	req := &SendRequest{}
	require.True(t, IsNotFound(req.Validate()))

	req.Channels = []string{"mail"}
	require.NoError(t, req.Validate())
}
