package apubsub

// Recipients resolves the queue fan-out for one send: the ids of every
// active subscription not on the exclusion list, de-duplicated by
// subscription id, in input order. Multi-channel sends pass the
// subscriptions of every target channel concatenated; the dedupe guarantees
// at most one copy per subscription even when a subscriber holds
// subscriptions on more than one targeted channel.
//
// Every driver routes its Send through this so the invariant cannot drift
// between backends.
func Recipients(subs []*Subscription, exclude []uint64) []uint64 {
	excluded := make(map[uint64]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	seen := make(map[uint64]struct{}, len(subs))
	ids := make([]uint64, 0, len(subs))
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		if _, ok := excluded[sub.ID]; ok {
			continue
		}
		if _, ok := seen[sub.ID]; ok {
			continue
		}
		seen[sub.ID] = struct{}{}
		ids = append(ids, sub.ID)
	}
	return ids
}
