package apubsub

import "context"

// Cursor queries one entity kind with filtering, sorting and pagination.
//
// Iteration is lazy, finite and not restartable: Next after partial
// consumption resumes. Range and limit scope iteration only; Count, Update
// and Delete always act on the full filtered set, so a UI can render one
// page while "mark all as read" still affects every matching row. That
// asymmetry is deliberate and part of the contract.
type Cursor[T any] interface {
	// AddSort appends a sort key; later calls add secondary keys of a
	// stable multi-key ordering. Fails with UnsupportedSort for fields
	// outside the entity's sortable set.
	AddSort(field Field, order SortOrder) error

	// SetRange and SetLimit bound iteration. NoLimit disables bounding.
	// Both fail with AlreadyExecuted once Next has produced a result.
	SetRange(offset, limit int) error
	SetLimit(limit int) error

	// Next returns the next entity in resolved sort order, or ok=false when
	// the sequence is exhausted.
	Next(ctx context.Context) (item T, ok bool, err error)

	// Count returns the number of rows matching the filter ignoring
	// range/limit. The value is stable across repeated calls on the same
	// cursor and recomputed after Delete.
	Count(ctx context.Context) (int, error)

	// Update applies the assignments to every row matching the filter
	// (ignoring range/limit) and returns the affected row count. This is the
	// only sanctioned bulk mutation path for message read state.
	Update(ctx context.Context, values map[Field]any) (int, error)

	// Delete removes every row matching the filter (ignoring range/limit),
	// cascading per entity rules, and invalidates any cached Count.
	Delete(ctx context.Context) (int, error)
}

// ChannelCursor, SubscriptionCursor and MessageCursor are the three typed
// cursors the Backend contract hands out.
type (
	ChannelCursor      = Cursor[*Channel]
	SubscriptionCursor = Cursor[*Subscription]
	MessageCursor      = Cursor[*Message]
)

// CollectionOps are the driver callbacks behind a collection cursor.
// Collect returns every row matching the filter, unsorted and unpaged;
// Update and Delete apply the bulk mutation to the rows Collect found.
type CollectionOps[T any] struct {
	Collect func(ctx context.Context) ([]T, error)
	Update  func(ctx context.Context, items []T, values map[Field]any) (int, error)
	Delete  func(ctx context.Context, items []T) (int, error)
}

// collectionCursor materializes the filtered set on first use and serves the
// cursor protocol over it. The memory and pebble drivers build their cursors
// on it; the sqlite driver pushes the same semantics into SQL instead.
type collectionCursor[T any] struct {
	query *Query
	ops   CollectionOps[T]

	window  []T
	pos     int
	started bool

	count   int
	counted bool
}

// NewCollectionCursor builds a cursor over driver collection callbacks.
func NewCollectionCursor[T any](query *Query, ops CollectionOps[T]) Cursor[T] {
	return &collectionCursor[T]{query: query, ops: ops}
}

func (c *collectionCursor[T]) AddSort(field Field, order SortOrder) error {
	return c.query.AddSort(field, order)
}

func (c *collectionCursor[T]) SetRange(offset, limit int) error {
	return c.query.SetRange(offset, limit)
}

func (c *collectionCursor[T]) SetLimit(limit int) error {
	return c.query.SetLimit(limit)
}

func (c *collectionCursor[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T

	if !c.started {
		if err := c.query.Validate(); err != nil {
			return zero, false, err
		}
		items, err := c.ops.Collect(ctx)
		if err != nil {
			return zero, false, err
		}
		SortSlice(items, c.query.Sorts())
		c.window = applyRange(items, c.query.Offset(), c.query.Limit())
		c.started = true
		c.query.MarkExecuted()
	}

	if c.pos >= len(c.window) {
		return zero, false, nil
	}
	item := c.window[c.pos]
	c.pos++
	return item, true, nil
}

func (c *collectionCursor[T]) Count(ctx context.Context) (int, error) {
	if c.counted {
		return c.count, nil
	}
	if err := c.query.Validate(); err != nil {
		return 0, err
	}
	items, err := c.ops.Collect(ctx)
	if err != nil {
		return 0, err
	}
	c.count = len(items)
	c.counted = true
	return c.count, nil
}

func (c *collectionCursor[T]) Update(ctx context.Context, values map[Field]any) (int, error) {
	if err := c.query.Validate(); err != nil {
		return 0, err
	}
	if err := c.query.ValidateUpdate(values); err != nil {
		return 0, err
	}
	items, err := c.ops.Collect(ctx)
	if err != nil {
		return 0, err
	}
	return c.ops.Update(ctx, items, values)
}

func (c *collectionCursor[T]) Delete(ctx context.Context) (int, error) {
	if err := c.query.Validate(); err != nil {
		return 0, err
	}
	items, err := c.ops.Collect(ctx)
	if err != nil {
		return 0, err
	}
	deleted, err := c.ops.Delete(ctx, items)
	c.counted = false
	return deleted, err
}

func applyRange[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit < 0 {
		// NoLimit and anything below it mean unbounded.
		return items
	}
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}
