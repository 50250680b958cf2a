package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/memory"
)

func TestBackendSignalsOnSend(t *testing.T) {
	hub := NewHub()
	b := Wrap(memory.New(), hub)
	defer b.Close()
	ctx := context.Background()

	for _, id := range []string{"mail", "chat"} {
		_, err := b.CreateChannel(ctx, id, "")
		require.NoError(t, err)
	}

	signals, cancel, err := hub.Subscribe(Filter{Channels: []string{"mail"}})
	require.NoError(t, err)
	defer cancel()

	msg, err := b.Send(ctx, apubsub.SendRequest{
		Channels: []string{"mail", "chat"},
		Contents: "hello",
		Type:     "mail.incoming",
	})
	require.NoError(t, err)

	sig := recv(t, signals)
	require.Equal(t, "mail", sig.Channel)
	require.Equal(t, msg.ID, sig.MessageID)
	require.Equal(t, "mail.incoming", sig.Type)

	// The chat signal was filtered out.
	select {
	case sig := <-signals:
		t.Fatalf("unexpected signal for %s", sig.Channel)
	default:
	}
}

func TestBackendFailedSendStaysSilent(t *testing.T) {
	hub := NewHub()
	b := Wrap(memory.New(), hub)
	defer b.Close()

	signals, cancel, err := hub.Subscribe(Filter{})
	require.NoError(t, err)
	defer cancel()

	_, err = b.Send(context.Background(), apubsub.SendRequest{
		Channels: []string{"missing"},
		Contents: "x",
	})
	require.True(t, apubsub.IsNotFound(err))

	select {
	case <-signals:
		t.Fatal("no signal expected for a failed send")
	default:
	}
}
