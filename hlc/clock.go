// Package hlc implements a hybrid logical clock used to mint unique,
// roughly time-ordered identifiers for messages and subscriptions in the
// non-relational storage drivers.
package hlc

import (
	"sync"
	"time"
)

// Clock combines physical time with a logical counter so that identifiers
// minted in the same millisecond stay unique and ordered.
type Clock struct {
	instanceID uint64
	wallTime   int64
	logical    int32
	lastMS     int64 // logical resets when the millisecond changes
	mu         sync.Mutex
}

// Timestamp is a point on the hybrid timeline.
type Timestamp struct {
	WallTime   int64
	Logical    int32
	InstanceID uint64
}

// NewClock creates a clock tagged with a store instance id. The tag keeps
// ids from colliding when two backends of the same process mint ids in the
// same millisecond.
func NewClock(instanceID uint64) *Clock {
	now := time.Now().UnixNano()
	return &Clock{
		instanceID: instanceID,
		wallTime:   now,
		lastMS:     now / 1_000_000,
	}
}

// Now generates a new timestamp.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := time.Now().UnixNano()
	currentMS := physicalNow / 1_000_000

	if physicalNow > c.wallTime {
		c.wallTime = physicalNow
	}

	// Reset logical when the millisecond changes so the counter never
	// overflows into the physical bits of ToID.
	if currentMS > c.lastMS {
		c.lastMS = currentMS
		c.logical = 0
	}

	// Exhausted the logical counter for this millisecond: spin until the
	// next one to preserve id uniqueness.
	for c.logical >= maxLogical {
		time.Sleep(100 * time.Microsecond)
		now := time.Now().UnixNano()
		nowMS := now / 1_000_000
		if nowMS > c.lastMS {
			c.wallTime = now
			c.lastMS = nowMS
			c.logical = 0
			break
		}
	}

	c.logical++

	return Timestamp{
		WallTime:   c.wallTime,
		Logical:    c.logical,
		InstanceID: c.instanceID,
	}
}

// Compare orders two timestamps: -1 if a < b, 0 if equal, 1 if a > b.
// Instance id breaks wall/logical ties.
func Compare(a, b Timestamp) int {
	if a.WallTime != b.WallTime {
		if a.WallTime < b.WallTime {
			return -1
		}
		return 1
	}
	if a.Logical != b.Logical {
		if a.Logical < b.Logical {
			return -1
		}
		return 1
	}
	if a.InstanceID != b.InstanceID {
		if a.InstanceID < b.InstanceID {
			return -1
		}
		return 1
	}
	return 0
}

// PhysicalTime returns the physical component as time.Time.
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime)
}

// Bit allocation for ToID (64 bits total):
//   - 42 bits of wall time in milliseconds (~139 years from epoch)
//   - 6 bits of store instance id
//   - 16 bits of logical counter (~65k ids per millisecond per instance)
const (
	logicalBits    = 16
	maxLogical     = (1 << logicalBits) - 1
	instanceIDBits = 6
	instanceIDMask = (1 << instanceIDBits) - 1
	totalShiftBits = instanceIDBits + logicalBits
)

// ToID converts the timestamp to a unique 64-bit identifier.
// Format: (physical_ms << 22) | (instance_id << 16) | logical.
func (t Timestamp) ToID() uint64 {
	physicalMS := uint64(t.WallTime / 1_000_000)
	instance := t.InstanceID & instanceIDMask
	logical := uint64(t.Logical) & maxLogical
	return (physicalMS << totalShiftBits) | (instance << logicalBits) | logical
}
