package notify

import (
	"context"

	apubsub "github.com/makinacorpus/apubsub-sub001"
)

// Backend decorates a storage driver so every successful send raises one
// signal per target channel. Everything else passes through.
type Backend struct {
	apubsub.Backend
	hub *Hub
}

var _ apubsub.Backend = (*Backend)(nil)

// Wrap decorates inner with arrival signaling on hub.
func Wrap(inner apubsub.Backend, hub *Hub) *Backend {
	return &Backend{Backend: inner, hub: hub}
}

// Hub returns the hub signals are raised on.
func (b *Backend) Hub() *Hub {
	return b.hub
}

// Send stores the message through the wrapped driver, then signals each
// target channel.
func (b *Backend) Send(ctx context.Context, req apubsub.SendRequest) (*apubsub.Message, error) {
	msg, err := b.Backend.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, channelID := range req.Channels {
		b.hub.Signal(Signal{
			Channel:   channelID,
			MessageID: msg.ID,
			Type:      msg.Type,
		})
	}
	return msg, nil
}

// Subscriber returns a handle bound to the decorated backend so sends made
// through it signal too.
func (b *Backend) Subscriber(id string) *apubsub.Subscriber {
	return apubsub.NewSubscriber(b, id)
}
