package apubsub

// Field identifies an entity attribute usable in cursor filters, sort keys
// and bulk updates. Each entity kind supports its own subset.
type Field string

const (
	FieldID           Field = "id"
	FieldLabel        Field = "label"
	FieldChannel      Field = "channel"
	FieldSubscriber   Field = "subscriber"
	FieldActive       Field = "active"
	FieldCreated      Field = "created"
	FieldSubscription Field = "subscription"
	FieldSent         Field = "sent"
	FieldType         Field = "type"
	FieldOrigin       Field = "origin"
	FieldLevel        Field = "level"
	FieldUnread       Field = "unread"
	FieldReadAt       Field = "read_at"
)

// SortOrder is the direction of a sort key.
type SortOrder int

const (
	Asc SortOrder = iota
	Desc
)

// SortKey is a single key of a stable multi-key ordering.
type SortKey struct {
	Field Field
	Order SortOrder
}

// Filter maps fields to match values. Conditions are ANDed; a field mapped
// to a slice means IN. A nil Filter matches everything.
type Filter map[Field]any

// NoLimit is the distinguished "no limit" sentinel for cursor ranges and the
// message queue cache bound. Zero is a valid (empty) limit, not "unlimited".
const NoLimit = -1

// Entity names an entity kind for query validation.
type Entity string

const (
	EntityChannel      Entity = "channel"
	EntitySubscription Entity = "subscription"
	EntityMessage      Entity = "message"
)
