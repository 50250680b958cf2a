// Package apubsub defines the storage-driver contract for a backend-agnostic
// publish/subscribe message store: producers send messages into named
// channels, subscribers hold subscriptions to channels and pull undelivered
// messages through a filterable, sortable, paginated cursor.
//
// The package holds the entity records (Channel, Subscription, Message), the
// Backend interface every storage driver implements, the Cursor query
// protocol, the error taxonomy, and the recipient-resolution invariant shared
// by all drivers. Concrete drivers live in the memory, sqlite and pebble
// packages.
//
// Concurrency is storage-driver-bound: each driver owns its locking and
// transaction discipline. The one invariant enforced here regardless of
// driver is at-most-one-copy-per-subscription for multi-channel sends, and
// read state tracked per subscription rather than per message.
package apubsub
