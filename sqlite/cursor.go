package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"

	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/encoding"
	"github.com/makinacorpus/apubsub-sub001/telemetry"
)

var dialect = goqu.Dialect("sqlite3")

// Column mapping per entity; message queries read the queue/message join.
var (
	channelColumns = map[apubsub.Field]string{
		apubsub.FieldID:      "id",
		apubsub.FieldLabel:   "label",
		apubsub.FieldCreated: "created",
	}
	subscriptionColumns = map[apubsub.Field]string{
		apubsub.FieldID:         "id",
		apubsub.FieldChannel:    "channel_id",
		apubsub.FieldSubscriber: "subscriber",
		apubsub.FieldActive:     "active",
		apubsub.FieldCreated:    "created",
	}
	messageColumns = map[apubsub.Field]string{
		apubsub.FieldID:           "m.id",
		apubsub.FieldChannel:      "m.channel_id",
		apubsub.FieldSubscription: "q.sub_id",
		apubsub.FieldSent:         "m.sent",
		apubsub.FieldType:         "m.type",
		apubsub.FieldOrigin:       "m.origin",
		apubsub.FieldLevel:        "m.level",
		apubsub.FieldUnread:       "q.unread",
		apubsub.FieldReadAt:       "q.read_at",
	}
)

// cursorConfig binds one entity's SQL shape to the shared cursor loop.
type cursorConfig[T any] struct {
	columns map[apubsub.Field]string
	base    func() *goqu.SelectDataset
	scan    func(*sql.Rows) (T, error)
	update  func(ctx context.Context, items []T, values map[apubsub.Field]any) (int, error)
	remove  func(ctx context.Context, items []T) (int, error)
}

// sqlCursor pushes filtering, sorting and pagination into SQL. The windowed
// result set is materialized on first Next; Count, Update and Delete always
// re-query the full filtered set.
type sqlCursor[T any] struct {
	b     *Backend
	query *apubsub.Query
	cfg   cursorConfig[T]

	window  []T
	pos     int
	started bool

	count   int
	counted bool
}

func newSQLCursor[T any](b *Backend, entity apubsub.Entity, filter apubsub.Filter, cfg cursorConfig[T]) *sqlCursor[T] {
	return &sqlCursor[T]{
		b:     b,
		query: apubsub.NewQuery(entity, filter),
		cfg:   cfg,
	}
}

func (c *sqlCursor[T]) AddSort(field apubsub.Field, order apubsub.SortOrder) error {
	return c.query.AddSort(field, order)
}

func (c *sqlCursor[T]) SetRange(offset, limit int) error {
	return c.query.SetRange(offset, limit)
}

func (c *sqlCursor[T]) SetLimit(limit int) error {
	return c.query.SetLimit(limit)
}

func (c *sqlCursor[T]) filtered() (*goqu.SelectDataset, error) {
	exprs, err := whereExprs(c.query.Entity(), c.query.Filter(), c.cfg.columns)
	if err != nil {
		return nil, err
	}
	return c.cfg.base().Where(exprs...), nil
}

func (c *sqlCursor[T]) collect(ctx context.Context, windowed bool) ([]T, error) {
	ds, err := c.filtered()
	if err != nil {
		return nil, err
	}

	if windowed {
		var orders []exp.OrderedExpression
		for _, key := range c.query.Sorts() {
			ident := goqu.I(c.cfg.columns[key.Field])
			if key.Order == apubsub.Desc {
				orders = append(orders, ident.Desc())
			} else {
				orders = append(orders, ident.Asc())
			}
		}
		ds = ds.Order(orders...)

		limit := c.query.Limit()
		offset := c.query.Offset()
		if limit >= 0 {
			ds = ds.Limit(uint(limit))
		} else if offset > 0 {
			// SQLite refuses OFFSET without LIMIT.
			ds = ds.Limit(uint(math.MaxInt64))
		}
		if offset > 0 {
			ds = ds.Offset(uint(offset))
		}
	}

	stmt, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := c.b.readDB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	telemetry.CursorQueriesTotal.With(string(c.query.Entity())).Inc()

	var out []T
	for rows.Next() {
		item, err := c.cfg.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (c *sqlCursor[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T

	if !c.started {
		if err := c.query.Validate(); err != nil {
			return zero, false, err
		}
		window, err := c.collect(ctx, true)
		if err != nil {
			return zero, false, err
		}
		c.window = window
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

func (c *sqlCursor[T]) Count(ctx context.Context) (int, error) {
	if c.counted {
		return c.count, nil
	}
	if err := c.query.Validate(); err != nil {
		return 0, err
	}

	ds, err := c.filtered()
	if err != nil {
		return 0, err
	}
	stmt, args, err := ds.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int
	if err := c.b.readDB.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	c.count = count
	c.counted = true
	return count, nil
}

func (c *sqlCursor[T]) Update(ctx context.Context, values map[apubsub.Field]any) (int, error) {
	if err := c.query.Validate(); err != nil {
		return 0, err
	}
	if err := c.query.ValidateUpdate(values); err != nil {
		return 0, err
	}
	items, err := c.collect(ctx, false)
	if err != nil {
		return 0, err
	}
	telemetry.CursorMutationsTotal.With(string(c.query.Entity()), "update").Inc()
	return c.cfg.update(ctx, items, values)
}

func (c *sqlCursor[T]) Delete(ctx context.Context) (int, error) {
	if err := c.query.Validate(); err != nil {
		return 0, err
	}
	items, err := c.collect(ctx, false)
	if err != nil {
		return 0, err
	}
	deleted, err := c.cfg.remove(ctx, items)
	c.counted = false
	telemetry.CursorMutationsTotal.With(string(c.query.Entity()), "delete").Inc()
	return deleted, err
}

// whereExprs translates a validated filter into goqu expressions; slices
// become IN lists, an empty slice matches nothing.
func whereExprs(entity apubsub.Entity, filter apubsub.Filter, columns map[apubsub.Field]string) ([]goqu.Expression, error) {
	var exprs []goqu.Expression
	for field, value := range filter {
		col, ok := columns[field]
		if !ok {
			return nil, &apubsub.UnsupportedFilterError{Entity: string(entity), Field: field}
		}

		rv := reflect.ValueOf(value)
		if value != nil && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
			if rv.Len() == 0 {
				exprs = append(exprs, goqu.L("1 = 0"))
				continue
			}
			args := make([]any, 0, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				args = append(args, toArg(rv.Index(i).Interface()))
			}
			exprs = append(exprs, goqu.I(col).In(args...))
			continue
		}
		exprs = append(exprs, goqu.I(col).Eq(toArg(value)))
	}
	return exprs, nil
}

// toArg converts filter and update values to their column representation.
func toArg(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case uint64:
		return int64(x)
	case time.Time:
		if x.IsZero() {
			return int64(0)
		}
		return x.UnixNano()
	}
	return v
}

// Channels returns a cursor over channels matching the filter.
func (b *Backend) Channels(filter apubsub.Filter) apubsub.ChannelCursor {
	return newSQLCursor(b, apubsub.EntityChannel, filter, cursorConfig[*apubsub.Channel]{
		columns: channelColumns,
		base: func() *goqu.SelectDataset {
			return dialect.From(tableChannel).Select("id", "label", "created")
		},
		scan: func(rows *sql.Rows) (*apubsub.Channel, error) {
			var chanID, label string
			var created int64
			if err := rows.Scan(&chanID, &label, &created); err != nil {
				return nil, err
			}
			return &apubsub.Channel{ID: chanID, Label: label, CreatedAt: time.Unix(0, created)}, nil
		},
		update: b.updateChannels,
		remove: b.deleteChannels,
	})
}

func (b *Backend) updateChannels(ctx context.Context, items []*apubsub.Channel, values map[apubsub.Field]any) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	label, _ := values[apubsub.FieldLabel].(string)

	ids := make([]any, 0, len(items))
	for _, ch := range items {
		ids = append(ids, ch.ID)
		b.channels.Remove(ch.ID)
	}

	stmt, args, err := dialect.Update(tableChannel).
		Set(goqu.Record{"label": label}).
		Where(goqu.I("id").In(ids...)).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, err
	}
	res, err := b.writeDB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update channels: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (b *Backend) deleteChannels(ctx context.Context, items []*apubsub.Channel) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ids := make([]any, 0, len(items))
	for _, ch := range items {
		ids = append(ids, ch.ID)
		b.channels.Remove(ch.ID)
	}

	stmt, args, err := dialect.Delete(tableChannel).
		Where(goqu.I("id").In(ids...)).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, err
	}
	res, err := b.writeDB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete channels: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// Subscriptions returns a cursor over subscriptions matching the filter.
func (b *Backend) Subscriptions(filter apubsub.Filter) apubsub.SubscriptionCursor {
	return newSQLCursor(b, apubsub.EntitySubscription, filter, cursorConfig[*apubsub.Subscription]{
		columns: subscriptionColumns,
		base: func() *goqu.SelectDataset {
			return dialect.From(tableSubscription).
				Select("id", "channel_id", "subscriber", "active", "created", "activated", "deactivated")
		},
		scan: func(rows *sql.Rows) (*apubsub.Subscription, error) {
			return scanSubscription(rows)
		},
		update: b.updateSubscriptions,
		remove: b.deleteSubscriptions,
	})
}

func (b *Backend) updateSubscriptions(ctx context.Context, items []*apubsub.Subscription, values map[apubsub.Field]any) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	active, ok := apubsub.AsBool(values[apubsub.FieldActive])
	if !ok {
		return len(items), nil
	}

	ids := make([]any, 0, len(items))
	for _, sub := range items {
		ids = append(ids, int64(sub.ID))
	}

	now := time.Now().UnixNano()
	record := goqu.Record{"active": 1, "activated": now, "deactivated": 0}
	current := 0
	if !active {
		record = goqu.Record{"active": 0, "deactivated": now, "activated": 0}
		current = 1
	}

	// Rows already in the target state keep their timestamps; the affected
	// count still reports the full filtered set.
	stmt, args, err := dialect.Update(tableSubscription).
		Set(record).
		Where(goqu.I("id").In(ids...), goqu.I("active").Eq(current)).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, err
	}
	if _, err := b.writeDB.ExecContext(ctx, stmt, args...); err != nil {
		return 0, fmt.Errorf("failed to update subscriptions: %w", err)
	}
	return len(items), nil
}

func (b *Backend) deleteSubscriptions(ctx context.Context, items []*apubsub.Subscription) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ids := make([]any, 0, len(items))
	for _, sub := range items {
		ids = append(ids, int64(sub.ID))
	}

	stmt, args, err := dialect.Delete(tableSubscription).
		Where(goqu.I("id").In(ids...)).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, err
	}
	res, err := b.writeDB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// Fetch returns a cursor over queued messages matching the filter. Rows come
// from the queue/message join; deleting them dequeues without touching the
// message envelopes.
func (b *Backend) Fetch(filter apubsub.Filter) apubsub.MessageCursor {
	return newSQLCursor(b, apubsub.EntityMessage, filter, cursorConfig[*apubsub.Message]{
		columns: messageColumns,
		base: func() *goqu.SelectDataset {
			return dialect.From(goqu.T(tableQueue).As("q")).
				Join(goqu.T(tableMessage).As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("q.msg_id")))).
				Select("m.id", "m.channel_id", "m.contents", "m.sent", "m.type", "m.origin", "m.level",
					"q.sub_id", "q.unread", "q.read_at")
		},
		scan:   b.scanMessage,
		update: b.updateMessages,
		remove: b.deleteMessages,
	})
}

func (b *Backend) scanMessage(rows *sql.Rows) (*apubsub.Message, error) {
	var msgID, subID, sent, readAt int64
	var channelID, msgType, origin string
	var contents []byte
	var level, unread int
	err := rows.Scan(&msgID, &channelID, &contents, &sent, &msgType, &origin, &level, &subID, &unread, &readAt)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := encoding.Unmarshal(contents, &decoded); err != nil {
		return nil, err
	}

	msg := &apubsub.Message{
		ID:             uint64(msgID),
		ChannelID:      channelID,
		Contents:       decoded,
		SentAt:         time.Unix(0, sent),
		Type:           msgType,
		Origin:         origin,
		Level:          level,
		SubscriptionID: uint64(subID),
		Unread:         unread != 0,
		ReadAt:         nanoTime(readAt),
	}
	msg.Attach(b)
	return msg, nil
}

func (b *Backend) updateMessages(ctx context.Context, items []*apubsub.Message, values map[apubsub.Field]any) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	record := goqu.Record{}
	now := time.Now().UnixNano()
	if v, ok := values[apubsub.FieldUnread]; ok {
		if unread, ok := apubsub.AsBool(v); ok {
			if unread {
				record["unread"] = 1
				record["read_at"] = 0
			} else {
				record["unread"] = 0
				if _, explicit := values[apubsub.FieldReadAt]; !explicit {
					record["read_at"] = now
				}
			}
		}
	}
	if v, ok := values[apubsub.FieldReadAt]; ok {
		if t, ok := apubsub.AsTime(v); ok {
			record["read_at"] = toArg(t)
		}
	}
	if len(record) == 0 {
		return len(items), nil
	}

	tx, err := b.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, msg := range items {
		stmt, args, err := dialect.Update(tableQueue).
			Set(record).
			Where(goqu.I("sub_id").Eq(int64(msg.SubscriptionID)), goqu.I("msg_id").Eq(int64(msg.ID))).
			Prepared(true).ToSQL()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return 0, fmt.Errorf("failed to update queue row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (b *Backend) deleteMessages(ctx context.Context, items []*apubsub.Message) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := b.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	deleted := 0
	for _, msg := range items {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM apubsub_queue WHERE sub_id = ? AND msg_id = ?
		`, int64(msg.SubscriptionID), int64(msg.ID))
		if err != nil {
			return 0, fmt.Errorf("failed to delete queue row: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		deleted += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}
