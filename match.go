package apubsub

import (
	"reflect"
	"sort"
	"strconv"
	"time"
)

// FieldValue extracts a field from a record. The second return is false for
// fields the record kind does not carry. Drivers that evaluate filters in Go
// (memory, pebble) build on this so all backends resolve fields identically.
func FieldValue(rec any, field Field) (any, bool) {
	switch r := rec.(type) {
	case *Channel:
		switch field {
		case FieldID:
			return r.ID, true
		case FieldLabel:
			return r.Label, true
		case FieldCreated:
			return r.CreatedAt, true
		}
	case *Subscription:
		switch field {
		case FieldID:
			return r.ID, true
		case FieldChannel:
			return r.ChannelID, true
		case FieldSubscriber:
			return r.SubscriberID, true
		case FieldActive:
			return r.Active, true
		case FieldCreated:
			return r.CreatedAt, true
		}
	case *Message:
		switch field {
		case FieldID:
			return r.ID, true
		case FieldChannel:
			return r.ChannelID, true
		case FieldSubscription:
			return r.SubscriptionID, true
		case FieldSent:
			return r.SentAt, true
		case FieldType:
			return r.Type, true
		case FieldOrigin:
			return r.Origin, true
		case FieldLevel:
			return r.Level, true
		case FieldUnread:
			return r.Unread, true
		case FieldReadAt:
			return r.ReadAt, true
		}
	}
	return nil, false
}

// Match evaluates a filter against a record: conditions are ANDed, a slice
// value means IN. An empty slice matches nothing.
func Match(rec any, filter Filter) bool {
	for field, want := range filter {
		have, ok := FieldValue(rec, field)
		if !ok {
			return false
		}
		if !matchValue(have, want) {
			return false
		}
	}
	return true
}

func matchValue(have, want any) bool {
	rv := reflect.ValueOf(want)
	if want != nil && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		for i := 0; i < rv.Len(); i++ {
			if valueEqual(have, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}
	return valueEqual(have, want)
}

func valueEqual(a, b any) bool {
	cmp, ok := compareValues(a, b)
	return ok && cmp == 0
}

// compareValues orders two field values. Strings compare as strings, times
// as UnixNano, booleans as 0/1, and every integer kind as int64, so a filter
// written with int matches a record carrying uint64 and vice versa.
func compareValues(a, b any) (int, bool) {
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case sa < sb:
			return -1, true
		case sa > sb:
			return 1, true
		}
		return 0, true
	}

	na, ok := toInt64(a)
	if !ok {
		return 0, false
	}
	nb, ok := toInt64(b)
	if !ok {
		return 0, false
	}
	switch {
	case na < nb:
		return -1, true
	case na > nb:
		return 1, true
	}
	return 0, true
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case time.Time:
		if x.IsZero() {
			return 0, true
		}
		return x.UnixNano(), true
	}
	return 0, false
}

// SortSlice orders records by the given keys, stably, later keys breaking
// ties of earlier ones.
func SortSlice[T any](items []T, sorts []SortKey) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, key := range sorts {
			vi, _ := FieldValue(items[i], key.Field)
			vj, _ := FieldValue(items[j], key.Field)
			cmp, ok := compareValues(vi, vj)
			if !ok || cmp == 0 {
				continue
			}
			if key.Order == Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// AsBool coerces a validated update value to a boolean. Numeric values are
// truthy when non-zero.
func AsBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if n, ok := toInt64(v); ok {
		return n != 0, true
	}
	return false, false
}

// AsTime coerces a validated update value to a timestamp. Integers are read
// as Unix nanoseconds, zero meaning the zero time.
func AsTime(v any) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	if n, ok := toInt64(v); ok {
		if n == 0 {
			return time.Time{}, true
		}
		return time.Unix(0, n), true
	}
	return time.Time{}, false
}
