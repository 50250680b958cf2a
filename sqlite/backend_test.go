package sqlite

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

	path := filepath.Join(t.TempDir(), "apubsub_test.db")
	b, err := New(path, 5000)
	require.NoError(t, err)
	return b
}

func TestSQLiteBackend_Contract(t *testing.T) {
	drivertest.Run(t, func(t *testing.T) apubsub.Backend {
		return openTestBackend(t)
	})
}

func TestSQLiteBackend_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apubsub_test.db")
	ctx := context.Background()

	b, err := New(path, 5000)
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

	b, err = New(path, 5000)
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

func TestSQLiteBackend_SubscribeChecksStoredRow(t *testing.T) {
	b := openTestBackend(t)
	defer b.Close()
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)

	// Warm the channel cache, then drop the row behind the driver's back, as
	// a concurrent deleter would. Subscribe checks the table inside its
	// transaction, so it reports NotFound instead of a constraint error.
	_, err = b.Channel(ctx, "mail")
	require.NoError(t, err)
	_, err = b.writeDB.ExecContext(ctx, `DELETE FROM apubsub_channel WHERE id = ?`, "mail")
	require.NoError(t, err)

	_, err = b.Subscribe(ctx, "mail", "alice")
	require.True(t, apubsub.IsNotFound(err))
}

func TestSQLiteBackend_ChannelCacheInvalidation(t *testing.T) {
	b := openTestBackend(t)
	defer b.Close()
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "old")
	require.NoError(t, err)

	// Warm the cache, then update through the cursor path.
	_, err = b.Channel(ctx, "mail")
	require.NoError(t, err)

	affected, err := b.Channels(apubsub.Filter{apubsub.FieldID: "mail"}).
		Update(ctx, map[apubsub.Field]any{apubsub.FieldLabel: "new"})
	require.NoError(t, err)
	require.Equal(t, 1, affected)

	ch, err := b.Channel(ctx, "mail")
	require.NoError(t, err)
	require.Equal(t, "new", ch.Label)
}
