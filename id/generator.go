package id

import (
	"math/rand"

	"github.com/makinacorpus/apubsub-sub001/hlc"
)

// Generator provides unique, driver-assigned identifiers for messages and
// subscriptions. IDs are guaranteed unique within a store instance and
// roughly time-ordered, so the default id sort approximates arrival order.
type Generator interface {
	NextID() uint64
}

// HLCGenerator generates unique IDs using the hybrid logical clock.
// Thread-safe via the clock's internal mutex.
type HLCGenerator struct {
	clock *hlc.Clock
}

// NewHLCGenerator creates an ID generator backed by the given clock.
func NewHLCGenerator(clock *hlc.Clock) *HLCGenerator {
	return &HLCGenerator{clock: clock}
}

// NewGenerator creates an ID generator with a random store instance tag.
// Suitable for drivers that don't carry a configured instance id.
func NewGenerator() *HLCGenerator {
	return NewHLCGenerator(hlc.NewClock(rand.Uint64()))
}

// NextID generates a unique 64-bit ID.
// Format: (physical_ms << 22) | (instance_id << 16) | logical.
// See hlc.Timestamp.ToID for bit allocation details.
func (g *HLCGenerator) NextID() uint64 {
	return g.clock.Now().ToID()
}
