package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, signals <-chan Signal) Signal {
	t.Helper()
	select {
	case sig := <-signals:
		return sig
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for signal")
		return Signal{}
	}
}

func TestHubBasicSubscribeSignal(t *testing.T) {
	hub := NewHub()

	signals, cancel, err := hub.Subscribe(Filter{})
	require.NoError(t, err)
	defer cancel()

	hub.Signal(Signal{Channel: "mail", MessageID: 1, Type: "mail.incoming"})

	sig := recv(t, signals)
	require.Equal(t, "mail", sig.Channel)
	require.Equal(t, uint64(1), sig.MessageID)
}

func TestHubChannelGlobFilter(t *testing.T) {
	hub := NewHub()

	signals, cancel, err := hub.Subscribe(Filter{Channels: []string{"mail.*"}})
	require.NoError(t, err)
	defer cancel()

	hub.Signal(Signal{Channel: "chat.room1", MessageID: 1})
	hub.Signal(Signal{Channel: "mail.inbox", MessageID: 2})

	sig := recv(t, signals)
	require.Equal(t, "mail.inbox", sig.Channel)

	select {
	case sig := <-signals:
		t.Fatalf("unexpected signal for %s", sig.Channel)
	default:
	}
}

func TestHubTypeFilter(t *testing.T) {
	hub := NewHub()

	signals, cancel, err := hub.Subscribe(Filter{Types: []string{"alert"}})
	require.NoError(t, err)
	defer cancel()

	hub.Signal(Signal{Channel: "ops", MessageID: 1, Type: "info"})
	hub.Signal(Signal{Channel: "ops", MessageID: 2, Type: "alert"})

	sig := recv(t, signals)
	require.Equal(t, uint64(2), sig.MessageID)
}

func TestHubBadPattern(t *testing.T) {
	hub := NewHub()

	_, _, err := hub.Subscribe(Filter{Channels: []string{"[unclosed"}})
	require.Error(t, err)
}

func TestHubCancelIdempotent(t *testing.T) {
	hub := NewHub()

	signals, cancel, err := hub.Subscribe(Filter{})
	require.NoError(t, err)

	cancel()
	cancel()

	_, open := <-signals
	require.False(t, open)

	// Signaling after cancel reaches nobody and does not panic.
	hub.Signal(Signal{Channel: "mail", MessageID: 1})
}

func TestHubDropsWhenSlow(t *testing.T) {
	hub := NewHub()

	signals, cancel, err := hub.Subscribe(Filter{})
	require.NoError(t, err)
	defer cancel()

	// Overfill the buffer; the hub must not block.
	for i := 0; i < defaultSignalBufferSize*2; i++ {
		hub.Signal(Signal{Channel: "mail", MessageID: uint64(i)})
	}

	received := 0
	for {
		select {
		case <-signals:
			received++
			continue
		default:
		}
		break
	}
	require.Equal(t, defaultSignalBufferSize, received)
}
