package apubsub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecipients(t *testing.T) {
	subs := []*Subscription{
		{ID: 1, Active: true},
		{ID: 2, Active: false},
		{ID: 3, Active: true},
		{ID: 4, Active: true},
	}

	require.Equal(t, []uint64{1, 3, 4}, Recipients(subs, nil))
	require.Equal(t, []uint64{1, 4}, Recipients(subs, []uint64{3}))
	require.Empty(t, Recipients(subs, []uint64{1, 3, 4}))

	// Excluding an inactive or unknown subscription changes nothing.
	require.Equal(t, []uint64{1, 3, 4}, Recipients(subs, []uint64{2, 99}))
}

func TestRecipientsDedupe(t *testing.T) {
	// The same subscription seen through two target channels delivers once,
	// keeping first-seen order.
	subs := []*Subscription{
		{ID: 5, Active: true},
		{ID: 6, Active: true},
		{ID: 5, Active: true},
	}
	require.Equal(t, []uint64{5, 6}, Recipients(subs, nil))
}

func TestRecipientsEmpty(t *testing.T) {
	require.Empty(t, Recipients(nil, nil))
	require.Empty(t, Recipients([]*Subscription{{ID: 1, Active: false}}, nil))
}
