package apubsub

// Per-entity field sets. Filterable and sortable sets are identical; the
// updatable sets are the few fields the contract lets bulk Update touch.
var (
	channelFields = map[Field]bool{
		FieldID:      true,
		FieldLabel:   true,
		FieldCreated: true,
	}
	subscriptionFields = map[Field]bool{
		FieldID:         true,
		FieldChannel:    true,
		FieldSubscriber: true,
		FieldActive:     true,
		FieldCreated:    true,
	}
	messageFields = map[Field]bool{
		FieldID:           true,
		FieldChannel:      true,
		FieldSubscription: true,
		FieldSent:         true,
		FieldType:         true,
		FieldOrigin:       true,
		FieldLevel:        true,
		FieldUnread:       true,
		FieldReadAt:       true,
	}

	channelUpdatable = map[Field]bool{
		FieldLabel: true,
	}
	subscriptionUpdatable = map[Field]bool{
		FieldActive: true,
	}
	messageUpdatable = map[Field]bool{
		FieldUnread: true,
		FieldReadAt: true,
	}
)

func fieldsFor(entity Entity) map[Field]bool {
	switch entity {
	case EntityChannel:
		return channelFields
	case EntitySubscription:
		return subscriptionFields
	default:
		return messageFields
	}
}

func updatableFor(entity Entity) map[Field]bool {
	switch entity {
	case EntityChannel:
		return channelUpdatable
	case EntitySubscription:
		return subscriptionUpdatable
	default:
		return messageUpdatable
	}
}

// Query carries the resolved state of one cursor: entity kind, filter, sort
// keys and range. Drivers embed it in their cursor implementations so the
// protocol rules (sortable-field checks, the AlreadyExecuted guard, the
// NoLimit sentinel) behave identically across backends.
type Query struct {
	entity   Entity
	filter   Filter
	sorts    []SortKey
	offset   int
	limit    int
	executed bool
}

// NewQuery builds a query for one entity kind. The filter is validated
// lazily, on the first cursor operation.
func NewQuery(entity Entity, filter Filter) *Query {
	return &Query{
		entity: entity,
		filter: filter,
		limit:  NoLimit,
	}
}

// Entity returns the entity kind queried.
func (q *Query) Entity() Entity {
	return q.entity
}

// Filter returns the filter conditions.
func (q *Query) Filter() Filter {
	return q.filter
}

// AddSort appends a sort key. Later calls add secondary keys of a stable
// multi-key ordering. Fields outside the entity's sortable set fail with
// UnsupportedSort.
func (q *Query) AddSort(field Field, order SortOrder) error {
	if !fieldsFor(q.entity)[field] {
		return &UnsupportedSortError{Entity: string(q.entity), Field: field}
	}
	q.sorts = append(q.sorts, SortKey{Field: field, Order: order})
	return nil
}

// SetRange sets the iteration window. Fails with AlreadyExecuted once the
// cursor has begun producing results.
func (q *Query) SetRange(offset, limit int) error {
	if q.executed {
		return &AlreadyExecutedError{Op: "set range"}
	}
	q.offset = offset
	q.limit = limit
	return nil
}

// SetLimit sets the iteration limit, keeping the current offset.
// NoLimit disables bounding; zero is a valid empty window.
func (q *Query) SetLimit(limit int) error {
	if q.executed {
		return &AlreadyExecutedError{Op: "set limit"}
	}
	q.limit = limit
	return nil
}

// Sorts returns the sort keys, defaulting to id ascending so every driver
// paginates deterministically when the caller never sorted.
func (q *Query) Sorts() []SortKey {
	if len(q.sorts) == 0 {
		return []SortKey{{Field: FieldID, Order: Asc}}
	}
	return q.sorts
}

// Offset returns the iteration offset.
func (q *Query) Offset() int {
	return q.offset
}

// Limit returns the iteration limit, NoLimit meaning unbounded.
func (q *Query) Limit() int {
	return q.limit
}

// MarkExecuted freezes range/limit mutation. Drivers call it when the cursor
// produces its first result.
func (q *Query) MarkExecuted() {
	q.executed = true
}

// Executed reports whether the cursor has begun producing results.
func (q *Query) Executed() bool {
	return q.executed
}

// Validate checks every filter field against the entity's supported set.
func (q *Query) Validate() error {
	supported := fieldsFor(q.entity)
	for field := range q.filter {
		if !supported[field] {
			return &UnsupportedFilterError{Entity: string(q.entity), Field: field}
		}
	}
	return nil
}

// ValidateUpdate checks bulk update assignments against the entity's
// updatable set.
func (q *Query) ValidateUpdate(values map[Field]any) error {
	updatable := updatableFor(q.entity)
	for field := range values {
		if !updatable[field] {
			return &UnsupportedFilterError{Entity: string(q.entity), Field: field}
		}
	}
	return nil
}
