package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/drivertest"
)

func TestMemoryBackend_Contract(t *testing.T) {
	drivertest.Run(t, func(t *testing.T) apubsub.Backend {
		return New()
	})
}

func TestMemoryBackend_ConcurrentSend(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "")
	require.NoError(t, err)

	sub, err := b.Subscribe(ctx, "mail", "alice")
	require.NoError(t, err)
	_, err = b.SetActive(ctx, sub.ID, true)
	require.NoError(t, err)

	const senders = 8
	const perSender = 25

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_, err := b.Send(ctx, apubsub.SendRequest{
					Channels: []string{"mail"},
					Contents: "racing",
				})
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	count, err := b.Fetch(apubsub.Filter{apubsub.FieldSubscription: sub.ID}).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, senders*perSender, count)
}

func TestMemoryBackend_ConcurrentUpdateAndRead(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	_, err := b.CreateChannel(ctx, "mail", "v0")
	require.NoError(t, err)
	sub, err := b.Subscribe(ctx, "mail", "alice")
	require.NoError(t, err)

	// Point readers run lock-free against records that bulk updates
	// replace; the race detector flags any write-through.
	const rounds = 200

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := b.Channels(apubsub.Filter{apubsub.FieldID: "mail"}).
				Update(ctx, map[apubsub.Field]any{apubsub.FieldLabel: "v1"})
			require.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			ch, err := b.Channel(ctx, "mail")
			require.NoError(t, err)
			require.Equal(t, "mail", ch.ID)
		}
	}()
	go func() {
		defer wg.Done()
		active := true
		for i := 0; i < rounds; i++ {
			_, err := b.Subscriptions(apubsub.Filter{apubsub.FieldID: sub.ID}).
				Update(ctx, map[apubsub.Field]any{apubsub.FieldActive: active})
			require.NoError(t, err)
			active = !active
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			got, err := b.Subscription(ctx, sub.ID)
			require.NoError(t, err)
			require.Equal(t, sub.ID, got.ID)
		}
	}()
	wg.Wait()

	ch, err := b.Channel(ctx, "mail")
	require.NoError(t, err)
	require.Equal(t, "v1", ch.Label)
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	created, err := b.CreateChannel(ctx, "mail", "original")
	require.NoError(t, err)

	// Mutating a returned record must not leak into the store.
	created.Label = "mutated"

	loaded, err := b.Channel(ctx, "mail")
	require.NoError(t, err)
	require.Equal(t, "original", loaded.Label)
}
