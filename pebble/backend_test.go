package pebble

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/drivertest"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()

	b, err := New(filepath.Join(t.TempDir(), "apubsub.pebble"), 8)
	require.NoError(t, err)
	return b
}

func TestPebbleBackend_Contract(t *testing.T) {
	drivertest.Run(t, func(t *testing.T) apubsub.Backend {
		return openTestBackend(t)
	})
}

func TestPebbleBackend_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apubsub.pebble")
	ctx := context.Background()

	b, err := New(path, 8)
	require.NoError(t, err)

	_, err = b.CreateChannel(ctx, "mail", "persisted")
	require.NoError(t, err)
	sub, err := b.Subscribe(ctx, "mail", "alice")
	require.NoError(t, err)
	_, err = b.SetActive(ctx, sub.ID, true)
	require.NoError(t, err)
	_, err = b.Send(ctx, apubsub.SendRequest{Channels: []string{"mail"}, Contents: "durable"})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = New(path, 8)
	require.NoError(t, err)
	defer b.Close()

	ch, err := b.Channel(ctx, "mail")
	require.NoError(t, err)
	require.Equal(t, "persisted", ch.Label)

	got, ok, err := b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID}).Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "durable", got.Contents)
	require.True(t, got.Unread)
}

func TestPrefixUpperBound(t *testing.T) {
	prefix := []byte("/sub/")
	upper := prefixUpperBound(prefix)
	require.Greater(t, string(upper), string(prefix))
	require.Greater(t, string(upper), string(append(prefix, []byte("ffffffffffffffff")...)))
}
