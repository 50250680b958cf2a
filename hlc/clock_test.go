package hlc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNowMonotonic(t *testing.T) {
	clock := NewClock(1)

	prev := clock.Now()
	for i := 0; i < 1000; i++ {
		ts := clock.Now()
		require.Equal(t, -1, Compare(prev, ts), "timestamps must strictly increase")
		prev = ts
	}
}

func TestNowConcurrentUnique(t *testing.T) {
	clock := NewClock(1)

	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[uint64]bool, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				local = append(local, clock.Now().ToID())
			}
			mu.Lock()
			for _, id := range local {
				require.False(t, seen[id], "duplicate id %d", id)
				seen[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}

func TestCompare(t *testing.T) {
	a := Timestamp{WallTime: 100, Logical: 1, InstanceID: 1}

	require.Equal(t, 0, Compare(a, a))
	require.Equal(t, -1, Compare(a, Timestamp{WallTime: 101, Logical: 0, InstanceID: 0}))
	require.Equal(t, 1, Compare(a, Timestamp{WallTime: 99, Logical: 9, InstanceID: 9}))
	require.Equal(t, -1, Compare(a, Timestamp{WallTime: 100, Logical: 2, InstanceID: 0}))
	require.Equal(t, -1, Compare(a, Timestamp{WallTime: 100, Logical: 1, InstanceID: 2}))
}

func TestToIDOrdering(t *testing.T) {
	early := Timestamp{WallTime: 1_000_000 * 5000, Logical: 10, InstanceID: 3}
	late := Timestamp{WallTime: 1_000_000 * 5001, Logical: 0, InstanceID: 3}

	require.Less(t, early.ToID(), late.ToID())

	// Within a millisecond the logical counter orders ids.
	next := Timestamp{WallTime: early.WallTime, Logical: 11, InstanceID: 3}
	require.Less(t, early.ToID(), next.ToID())
}

func TestToIDInstanceMask(t *testing.T) {
	a := Timestamp{WallTime: 1_000_000, Logical: 1, InstanceID: 2}
	b := Timestamp{WallTime: 1_000_000, Logical: 1, InstanceID: 2 + instanceIDMask + 1}

	// Instance ids collapse into 6 bits.
	require.Equal(t, a.ToID(), b.ToID())
}

func TestPhysicalTime(t *testing.T) {
	ts := Timestamp{WallTime: 1_500_000_000}
	require.Equal(t, int64(1_500_000_000), ts.PhysicalTime().UnixNano())
}
