package apubsub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryDefaults(t *testing.T) {
	q := NewQuery(EntityMessage, nil)

	require.Equal(t, NoLimit, q.Limit())
	require.Zero(t, q.Offset())

	// Unsorted queries fall back to id ascending.
	sorts := q.Sorts()
	require.Len(t, sorts, 1)
	require.Equal(t, FieldID, sorts[0].Field)
	require.Equal(t, Asc, sorts[0].Order)
}

func TestQueryAddSort(t *testing.T) {
	q := NewQuery(EntityMessage, nil)

	require.NoError(t, q.AddSort(FieldSent, Desc))
	require.NoError(t, q.AddSort(FieldID, Asc))

	sorts := q.Sorts()
	require.Len(t, sorts, 2)
	require.Equal(t, SortKey{Field: FieldSent, Order: Desc}, sorts[0])
	require.Equal(t, SortKey{Field: FieldID, Order: Asc}, sorts[1])

	var sortErr *UnsupportedSortError
	require.ErrorAs(t, q.AddSort(FieldLabel, Asc), &sortErr)
	require.Equal(t, FieldLabel, sortErr.Field)
}

func TestQueryRangeAfterExecution(t *testing.T) {
	q := NewQuery(EntityChannel, nil)
	require.NoError(t, q.SetRange(5, 10))
	require.Equal(t, 5, q.Offset())
	require.Equal(t, 10, q.Limit())

	q.MarkExecuted()
	require.True(t, IsAlreadyExecuted(q.SetRange(0, 1)))
	require.True(t, IsAlreadyExecuted(q.SetLimit(1)))
	// Sorts stay frozen too; the window was already resolved.
	require.Equal(t, 5, q.Offset())
}

func TestQueryValidateFilter(t *testing.T) {
	q := NewQuery(EntityChannel, Filter{FieldLabel: "x"})
	require.NoError(t, q.Validate())

	q = NewQuery(EntityChannel, Filter{FieldSubscription: uint64(1)})
	var filterErr *UnsupportedFilterError
	require.ErrorAs(t, q.Validate(), &filterErr)
	require.Equal(t, FieldSubscription, filterErr.Field)
}

func TestQueryValidateUpdate(t *testing.T) {
	q := NewQuery(EntityMessage, nil)
	require.NoError(t, q.ValidateUpdate(map[Field]any{FieldUnread: false}))
	require.NoError(t, q.ValidateUpdate(map[Field]any{FieldReadAt: nil}))

	// Envelope fields are immutable through cursors.
	var filterErr *UnsupportedFilterError
	require.ErrorAs(t, q.ValidateUpdate(map[Field]any{FieldOrigin: "x"}), &filterErr)

	q = NewQuery(EntitySubscription, nil)
	require.NoError(t, q.ValidateUpdate(map[Field]any{FieldActive: true}))
	require.ErrorAs(t, q.ValidateUpdate(map[Field]any{FieldChannel: "x"}), &filterErr)
}
