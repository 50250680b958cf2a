package telemetry

// FanoutBuckets cover typical recipient counts of a single send, from a
// private channel up to a broadcast.
var FanoutBuckets = []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000}

var (
	// MessagesSentTotal counts message envelopes recorded by Send.
	MessagesSentTotal Counter = NoopStat{}

	// DeliveriesTotal counts queue rows created by fan-out.
	DeliveriesTotal Counter = NoopStat{}

	// ExclusionsSkippedTotal counts active subscriptions skipped because the
	// sender excluded them.
	ExclusionsSkippedTotal Counter = NoopStat{}

	// FanoutRecipients measures recipients per send.
	FanoutRecipients Histogram = NoopStat{}

	// CursorQueriesTotal counts cursor reads by entity (channel,
	// subscription, message).
	CursorQueriesTotal CounterVec = noopCounterVec{}

	// CursorMutationsTotal counts bulk cursor writes by entity and op
	// (update, delete).
	CursorMutationsTotal CounterVec = noopCounterVec{}

	// QueueEvictionsTotal counts messages evicted from capped in-memory
	// queues.
	QueueEvictionsTotal Counter = NoopStat{}

	// QueueRefusalsTotal counts appends refused by a full capped queue.
	QueueRefusalsTotal Counter = NoopStat{}
)

func initMetrics() {
	MessagesSentTotal = NewCounter(
		"messages_sent_total",
		"Message envelopes recorded",
	)
	DeliveriesTotal = NewCounter(
		"deliveries_total",
		"Queue rows created by fan-out",
	)
	ExclusionsSkippedTotal = NewCounter(
		"exclusions_skipped_total",
		"Active subscriptions skipped by sender exclusion",
	)
	FanoutRecipients = NewHistogram(
		"fanout_recipients",
		"Recipients per send",
		FanoutBuckets,
	)
	CursorQueriesTotal = NewCounterVec(
		"cursor_queries_total",
		"Cursor reads by entity",
		[]string{"entity"},
	)
	CursorMutationsTotal = NewCounterVec(
		"cursor_mutations_total",
		"Bulk cursor writes by entity and operation",
		[]string{"entity", "op"},
	)
	QueueEvictionsTotal = NewCounter(
		"queue_evictions_total",
		"Messages evicted from capped queues",
	)
	QueueRefusalsTotal = NewCounter(
		"queue_refusals_total",
		"Appends refused by full capped queues",
	)
}
