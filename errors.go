package apubsub

import (
	"errors"
	"fmt"
)

// NotFoundError indicates an unknown channel, subscription or message id.
type NotFoundError struct {
	Entity string // "channel", "subscription", "message", "formatter"
	Ref    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Ref)
}

// DuplicateChannelError indicates an id collision on channel creation.
type DuplicateChannelError struct {
	ID string
}

func (e *DuplicateChannelError) Error() string {
	return fmt.Sprintf("channel %q already exists", e.ID)
}

// InvalidStateError indicates a lifecycle precondition violation, such as
// reading the start time of an inactive subscription.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not available while subscription is %s", e.Op, e.State)
}

// UnsupportedSortError indicates a sort on a field outside the entity's
// sortable field set.
type UnsupportedSortError struct {
	Entity string
	Field  Field
}

func (e *UnsupportedSortError) Error() string {
	return fmt.Sprintf("field %q is not sortable on %s", e.Field, e.Entity)
}

// UnsupportedFilterError indicates a filter or update on a field the entity
// does not support.
type UnsupportedFilterError struct {
	Entity string
	Field  Field
}

func (e *UnsupportedFilterError) Error() string {
	return fmt.Sprintf("field %q is not supported on %s", e.Field, e.Entity)
}

// AlreadyExecutedError indicates a range or limit mutation on a cursor that
// has begun producing results.
type AlreadyExecutedError struct {
	Op string
}

func (e *AlreadyExecutedError) Error() string {
	return fmt.Sprintf("cannot %s: cursor already executed", e.Op)
}

// DetachedEntityError indicates an operation that needs a live storage
// context on an entity decoupled from its backend (e.g. a cached copy).
type DetachedEntityError struct {
	Op string
}

func (e *DetachedEntityError) Error() string {
	return fmt.Sprintf("cannot %s on a detached entity", e.Op)
}

// CapacityExceededError indicates a rejected append on a bounded queue.
type CapacityExceededError struct {
	Limit int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("queue at capacity (%d)", e.Limit)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsDuplicateChannel reports whether err is a DuplicateChannelError.
func IsDuplicateChannel(err error) bool {
	var e *DuplicateChannelError
	return errors.As(err, &e)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

// IsAlreadyExecuted reports whether err is an AlreadyExecutedError.
func IsAlreadyExecuted(err error) bool {
	var e *AlreadyExecutedError
	return errors.As(err, &e)
}

// IsDetached reports whether err is a DetachedEntityError.
func IsDetached(err error) bool {
	var e *DetachedEntityError
	return errors.As(err, &e)
}

// IsCapacityExceeded reports whether err is a CapacityExceededError.
func IsCapacityExceeded(err error) bool {
	var e *CapacityExceededError
	return errors.As(err, &e)
}
