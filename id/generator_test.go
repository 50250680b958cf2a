package id

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/makinacorpus/apubsub-sub001/hlc"
)

func TestNextIDIncreases(t *testing.T) {
	gen := NewGenerator()

	prev := gen.NextID()
	for i := 0; i < 1000; i++ {
		next := gen.NextID()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestGeneratorsWithDistinctInstances(t *testing.T) {
	a := NewHLCGenerator(hlc.NewClock(1))
	b := NewHLCGenerator(hlc.NewClock(2))

	seen := make(map[uint64]bool)
	for i := 0; i < 200; i++ {
		seen[a.NextID()] = true
		seen[b.NextID()] = true
	}

	require.Len(t, seen, 400)
}
