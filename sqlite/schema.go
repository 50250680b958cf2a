package sqlite

// Table names, shared between the statement builders and the schema.
const (
	tableChannel      = "apubsub_channel"
	tableSubscription = "apubsub_subscription"
	tableMessage      = "apubsub_message"
	tableQueue        = "apubsub_queue"
)

// Schemas returns the DDL statements creating the pub/sub tables. All
// timestamps are Unix nanoseconds, zero meaning "not set". Message contents
// are stored as an opaque msgpack blob.
func Schemas() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS apubsub_channel (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			created INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS apubsub_subscription (
			id INTEGER PRIMARY KEY,
			channel_id TEXT NOT NULL REFERENCES apubsub_channel(id) ON DELETE CASCADE,
			subscriber TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 0,
			created INTEGER NOT NULL,
			activated INTEGER NOT NULL DEFAULT 0,
			deactivated INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS apubsub_subscription_channel
			ON apubsub_subscription(channel_id)`,
		`CREATE INDEX IF NOT EXISTS apubsub_subscription_subscriber
			ON apubsub_subscription(subscriber)`,

		`CREATE TABLE IF NOT EXISTS apubsub_message (
			id INTEGER PRIMARY KEY,
			channel_id TEXT NOT NULL REFERENCES apubsub_channel(id) ON DELETE CASCADE,
			contents BLOB NOT NULL,
			sent INTEGER NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS apubsub_message_channel
			ON apubsub_message(channel_id)`,

		// One row per (subscription, message) delivery; the read state lives
		// here, never on the message itself. Cascades dequeue on unsubscribe
		// and on channel or message removal.
		`CREATE TABLE IF NOT EXISTS apubsub_queue (
			sub_id INTEGER NOT NULL REFERENCES apubsub_subscription(id) ON DELETE CASCADE,
			msg_id INTEGER NOT NULL REFERENCES apubsub_message(id) ON DELETE CASCADE,
			unread INTEGER NOT NULL DEFAULT 1,
			read_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (sub_id, msg_id)
		)`,
		`CREATE INDEX IF NOT EXISTS apubsub_queue_message
			ON apubsub_queue(msg_id)`,
	}
}
