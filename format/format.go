// Package format renders raw messages into displayable content. Message
// types map to registered formatter factories; what happens on an
// unregistered type is a registry policy, strict registries fail while
// lenient ones degrade to a neutral fallback.
package format

import (
	"fmt"

	"github.com/rs/zerolog/log"

	apubsub "github.com/makinacorpus/apubsub-sub001"
)

// Display is the rendered form of one message.
type Display struct {
	Text string
	Icon string
}

// Formatter renders messages of one type.
type Formatter interface {
	Format(msg *apubsub.Message) Display
}

// Factory builds a formatter for the type it was registered under.
type Factory func(msgType string) Formatter

// NullFormatter is the lenient fallback: it renders the raw contents as
// text, never fails, and carries no icon.
type NullFormatter struct{}

var _ Formatter = NullFormatter{}

func (NullFormatter) Format(msg *apubsub.Message) Display {
	if msg == nil || msg.Contents == nil {
		return Display{}
	}
	if s, ok := msg.Contents.(string); ok {
		return Display{Text: s}
	}
	return Display{Text: fmt.Sprintf("%v", msg.Contents)}
}

// Registry maps message types to formatter factories.
type Registry struct {
	strict    bool
	factories map[string]Factory
}

// NewRegistry creates a registry. A strict registry fails Instance calls for
// unregistered types; a lenient one logs and falls back to NullFormatter.
func NewRegistry(strict bool) *Registry {
	return &Registry{
		strict:    strict,
		factories: make(map[string]Factory),
	}
}

// Register binds a factory to a message type, replacing any previous one.
func (r *Registry) Register(msgType string, factory Factory) {
	r.factories[msgType] = factory
}

// TypeExists reports whether a factory is registered for the type.
func (r *Registry) TypeExists(msgType string) bool {
	_, ok := r.factories[msgType]
	return ok
}

// Instance returns a formatter for the type.
func (r *Registry) Instance(msgType string) (Formatter, error) {
	if factory, ok := r.factories[msgType]; ok {
		return factory(msgType), nil
	}
	if r.strict {
		return nil, &apubsub.NotFoundError{Entity: "formatter", Ref: msgType}
	}
	log.Warn().Str("type", msgType).Msg("no formatter registered, using fallback")
	return NullFormatter{}, nil
}
