package apubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeStore backs a collection cursor with a plain slice so the protocol
// semantics are testable without a driver.
type fakeStore struct {
	items    []*Channel
	collects int
}

func (s *fakeStore) cursor(filter Filter) Cursor[*Channel] {
	return NewCollectionCursor(NewQuery(EntityChannel, filter), CollectionOps[*Channel]{
		Collect: func(ctx context.Context) ([]*Channel, error) {
			s.collects++
			var out []*Channel
			for _, ch := range s.items {
				if Match(ch, filter) {
					out = append(out, ch)
				}
			}
			return out, nil
		},
		Update: func(ctx context.Context, items []*Channel, values map[Field]any) (int, error) {
			label, _ := values[FieldLabel].(string)
			for _, ch := range items {
				ch.Label = label
			}
			return len(items), nil
		},
		Delete: func(ctx context.Context, items []*Channel) (int, error) {
			drop := make(map[string]bool, len(items))
			for _, ch := range items {
				drop[ch.ID] = true
			}
			var kept []*Channel
			for _, ch := range s.items {
				if !drop[ch.ID] {
					kept = append(kept, ch)
				}
			}
			deleted := len(s.items) - len(kept)
			s.items = kept
			return deleted, nil
		},
	})
}

func newFakeStore(n int) *fakeStore {
	s := &fakeStore{}
	for i := 0; i < n; i++ {
		s.items = append(s.items, &Channel{ID: string(rune('a' + i)), Label: "x"})
	}
	return s
}

func TestCollectionCursorWindow(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore(5)

	cur := s.cursor(nil)
	require.NoError(t, cur.SetRange(1, 2))

	var ids []string
	for {
		ch, ok, err := cur.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		ids = append(ids, ch.ID)
	}
	require.Equal(t, []string{"b", "c"}, ids)
}

func TestCollectionCursorCountCaching(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore(4)

	cur := s.cursor(nil)

	count, err := cur.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.Equal(t, 1, s.collects)

	// Cached: no second collection.
	count, err = cur.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.Equal(t, 1, s.collects)

	// Delete invalidates the cache.
	deleted, err := cur.Delete(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, deleted)

	count, err = cur.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCollectionCursorUpdateIgnoresWindow(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore(6)

	cur := s.cursor(nil)
	require.NoError(t, cur.SetLimit(2))

	affected, err := cur.Update(ctx, map[Field]any{FieldLabel: "y"})
	require.NoError(t, err)
	require.Equal(t, 6, affected)
	for _, ch := range s.items {
		require.Equal(t, "y", ch.Label)
	}
}

func TestCollectionCursorRejectsBadUpdate(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore(2)

	cur := s.cursor(nil)
	_, err := cur.Update(ctx, map[Field]any{FieldCreated: 1})
	var filterErr *UnsupportedFilterError
	require.ErrorAs(t, err, &filterErr)
}

func TestApplyRange(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	require.Equal(t, items, applyRange(items, 0, NoLimit))
	require.Equal(t, []int{3, 4, 5}, applyRange(items, 2, NoLimit))
	require.Equal(t, []int{1, 2}, applyRange(items, 0, 2))
	require.Equal(t, []int{3, 4}, applyRange(items, 2, 2))
	require.Empty(t, applyRange(items, 9, 2))
	require.Empty(t, applyRange(items, 0, 0))
}
