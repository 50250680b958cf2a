// Package sqlite implements the storage driver contract on a local SQLite
// database: one write connection, a small read pool, WAL journaling, and
// foreign keys carrying the cascade rules.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"

	apubsub "github.com/makinacorpus/apubsub-sub001"
	"github.com/makinacorpus/apubsub-sub001/encoding"
	"github.com/makinacorpus/apubsub-sub001/id"
	"github.com/makinacorpus/apubsub-sub001/telemetry"
)

const channelCacheSize = 256

// Backend is the SQLite-backed storage driver.
type Backend struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
	gen     id.Generator

	// Channel rows are tiny, read constantly and written rarely; cache them.
	channels *lru.Cache[string, apubsub.Channel]
}

var _ apubsub.Backend = (*Backend)(nil)

// New opens (creating if needed) the database at path and prepares the
// schema. busyTimeoutMS bounds lock waits on the shared file.
func New(path string, busyTimeoutMS int) (*Backend, error) {
	isMemoryDB := strings.Contains(path, ":memory:")

	writeDSN := path
	if !isMemoryDB {
		if strings.Contains(writeDSN, "?") {
			writeDSN += fmt.Sprintf("&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", busyTimeoutMS)
		} else {
			writeDSN += fmt.Sprintf("?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", busyTimeoutMS)
		}
	}

	writeDB, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	readDSN := path
	if !isMemoryDB {
		if strings.Contains(readDSN, "?") {
			readDSN += fmt.Sprintf("&_journal_mode=WAL&_busy_timeout=%d", busyTimeoutMS)
		} else {
			readDSN += fmt.Sprintf("?_journal_mode=WAL&_busy_timeout=%d", busyTimeoutMS)
		}
	}

	readDB, err := sql.Open("sqlite3", readDSN)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(0)

	for _, db := range []*sql.DB{writeDB, readDB} {
		pragmas := []string{"PRAGMA foreign_keys=ON"}
		if !isMemoryDB {
			pragmas = append(pragmas,
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA cache_size=-16000",
				"PRAGMA temp_store=MEMORY",
			)
		}
		for _, pragma := range pragmas {
			if _, err := db.Exec(pragma); err != nil {
				writeDB.Close()
				readDB.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	for _, schema := range Schemas() {
		if _, err := writeDB.Exec(schema); err != nil {
			writeDB.Close()
			readDB.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	cache, err := lru.New[string, apubsub.Channel](channelCacheSize)
	if err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, err
	}

	return &Backend{
		writeDB:  writeDB,
		readDB:   readDB,
		path:     path,
		gen:      id.NewGenerator(),
		channels: cache,
	}, nil
}

// Close closes both connection pools.
func (b *Backend) Close() error {
	var writeErr, readErr error
	if b.writeDB != nil {
		writeErr = b.writeDB.Close()
	}
	if b.readDB != nil {
		readErr = b.readDB.Close()
	}
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

// CreateChannel creates a channel, failing with DuplicateChannel on id
// collision.
func (b *Backend) CreateChannel(ctx context.Context, chanID, label string) (*apubsub.Channel, error) {
	now := time.Now()
	res, err := b.writeDB.ExecContext(ctx, `
		INSERT OR IGNORE INTO apubsub_channel (id, label, created)
		VALUES (?, ?, ?)
	`, chanID, label, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, &apubsub.DuplicateChannelError{ID: chanID}
	}

	ch := apubsub.Channel{ID: chanID, Label: label, CreatedAt: now}
	b.channels.Add(chanID, ch)
	clone := ch
	return &clone, nil
}

// Channel returns a channel by id, from cache when possible.
func (b *Backend) Channel(ctx context.Context, chanID string) (*apubsub.Channel, error) {
	if ch, ok := b.channels.Get(chanID); ok {
		clone := ch
		return &clone, nil
	}

	var label string
	var created int64
	err := b.readDB.QueryRowContext(ctx, `
		SELECT label, created FROM apubsub_channel WHERE id = ?
	`, chanID).Scan(&label, &created)
	if err == sql.ErrNoRows {
		return nil, &apubsub.NotFoundError{Entity: "channel", Ref: chanID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load channel: %w", err)
	}

	ch := apubsub.Channel{ID: chanID, Label: label, CreatedAt: time.Unix(0, created)}
	b.channels.Add(chanID, ch)
	clone := ch
	return &clone, nil
}

// DeleteChannel removes the channel; foreign keys cascade to subscriptions,
// messages and queue rows.
func (b *Backend) DeleteChannel(ctx context.Context, chanID string) error {
	res, err := b.writeDB.ExecContext(ctx, `
		DELETE FROM apubsub_channel WHERE id = ?
	`, chanID)
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	b.channels.Remove(chanID)
	if affected == 0 {
		return &apubsub.NotFoundError{Entity: "channel", Ref: chanID}
	}
	return nil
}

// Subscribe creates an inactive subscription on the channel. Existence
// check and insert share one transaction so a concurrent channel delete
// surfaces as NotFound, not as a constraint error.
func (b *Backend) Subscribe(ctx context.Context, channelID, subscriberID string) (*apubsub.Subscription, error) {
	tx, err := b.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin subscribe transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM apubsub_channel WHERE id = ?
	`, channelID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, &apubsub.NotFoundError{Entity: "channel", Ref: channelID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check channel: %w", err)
	}

	sub := &apubsub.Subscription{
		ID:           b.gen.NextID(),
		ChannelID:    channelID,
		SubscriberID: subscriberID,
		CreatedAt:    time.Now(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO apubsub_subscription (id, channel_id, subscriber, active, created)
		VALUES (?, ?, ?, 0, ?)
	`, int64(sub.ID), channelID, subscriberID, sub.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit subscription: %w", err)
	}
	return sub, nil
}

// Subscription returns a subscription by id.
func (b *Backend) Subscription(ctx context.Context, subID uint64) (*apubsub.Subscription, error) {
	row := b.readDB.QueryRowContext(ctx, `
		SELECT id, channel_id, subscriber, active, created, activated, deactivated
		FROM apubsub_subscription WHERE id = ?
	`, int64(subID))
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, &apubsub.NotFoundError{Entity: "subscription", Ref: strconv.FormatUint(subID, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

// SetActive toggles the subscription lifecycle state. Re-asserting the
// current state leaves the timestamps alone.
func (b *Backend) SetActive(ctx context.Context, subID uint64, active bool) (*apubsub.Subscription, error) {
	now := time.Now().UnixNano()
	var stmt string
	if active {
		stmt = `UPDATE apubsub_subscription
			SET active = 1, activated = ?, deactivated = 0
			WHERE id = ? AND active = 0`
	} else {
		stmt = `UPDATE apubsub_subscription
			SET active = 0, deactivated = ?, activated = 0
			WHERE id = ? AND active = 1`
	}
	if _, err := b.writeDB.ExecContext(ctx, stmt, now, int64(subID)); err != nil {
		return nil, fmt.Errorf("failed to update subscription state: %w", err)
	}
	return b.Subscription(ctx, subID)
}

// Unsubscribe deletes the subscription; the queue cascade drops its rows.
func (b *Backend) Unsubscribe(ctx context.Context, subID uint64) error {
	res, err := b.writeDB.ExecContext(ctx, `
		DELETE FROM apubsub_subscription WHERE id = ?
	`, int64(subID))
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &apubsub.NotFoundError{Entity: "subscription", Ref: strconv.FormatUint(subID, 10)}
	}
	return nil
}

// Send records one message envelope and fans it out, in a single
// transaction, to every active non-excluded subscription of the target
// channels.
func (b *Backend) Send(ctx context.Context, req apubsub.SendRequest) (*apubsub.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	contents, err := encoding.Marshal(req.Contents)
	if err != nil {
		return nil, err
	}

	tx, err := b.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin send transaction: %w", err)
	}
	defer tx.Rollback()

	var candidates []*apubsub.Subscription
	for _, channelID := range req.Channels {
		var one int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM apubsub_channel WHERE id = ?
		`, channelID).Scan(&one)
		if err == sql.ErrNoRows {
			return nil, &apubsub.NotFoundError{Entity: "channel", Ref: channelID}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check channel: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, channel_id, subscriber, active, created, activated, deactivated
			FROM apubsub_subscription WHERE channel_id = ?
		`, channelID)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for rows.Next() {
			sub, err := scanSubscription(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			candidates = append(candidates, sub)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}

	sentAt := req.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	msgID := b.gen.NextID()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO apubsub_message (id, channel_id, contents, sent, type, origin, level)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, int64(msgID), req.Channels[0], contents, sentAt.UnixNano(), req.Type, req.Origin, req.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	recipients := apubsub.Recipients(candidates, req.Exclude)
	for _, subID := range recipients {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO apubsub_queue (sub_id, msg_id, unread, read_at)
			VALUES (?, ?, 1, 0)
		`, int64(subID), int64(msgID))
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit send: %w", err)
	}

	telemetry.MessagesSentTotal.Inc()
	telemetry.DeliveriesTotal.Add(float64(len(recipients)))
	telemetry.FanoutRecipients.Observe(float64(len(recipients)))
	if len(req.Exclude) > 0 {
		eligible := apubsub.Recipients(candidates, nil)
		telemetry.ExclusionsSkippedTotal.Add(float64(len(eligible) - len(recipients)))
	}

	// Decode the stored blob so the returned contents look exactly like a
	// later fetch would.
	var decoded any
	if err := encoding.Unmarshal(contents, &decoded); err != nil {
		return nil, err
	}

	msg := &apubsub.Message{
		ID:        msgID,
		ChannelID: req.Channels[0],
		Contents:  decoded,
		SentAt:    sentAt,
		Type:      req.Type,
		Origin:    req.Origin,
		Level:     req.Level,
	}
	msg.Attach(b)
	return msg, nil
}

// Subscriber returns a handle scoped to one subscriber id.
func (b *Backend) Subscriber(id string) *apubsub.Subscriber {
	return apubsub.NewSubscriber(b, id)
}

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*apubsub.Subscription, error) {
	var subID int64
	var channelID, subscriber string
	var active int
	var created, activated, deactivated int64
	if err := row.Scan(&subID, &channelID, &subscriber, &active, &created, &activated, &deactivated); err != nil {
		return nil, err
	}
	return &apubsub.Subscription{
		ID:            uint64(subID),
		ChannelID:     channelID,
		SubscriberID:  subscriber,
		Active:        active != 0,
		CreatedAt:     time.Unix(0, created),
		ActivatedAt:   nanoTime(activated),
		DeactivatedAt: nanoTime(deactivated),
	}, nil
}

func nanoTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
