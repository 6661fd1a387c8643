package loom

import (
	"context"

	"github.com/loomdata/loom/schema"
)

// Op represents a comparison operator in a predicate.
type Op int

const (
	OpEqual Op = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpIsNull
	OpIsNotNull
)

// String returns the string representation of the operator.
func (o Op) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	default:
		return "UNKNOWN"
	}
}

// Predicate is a single structured field condition. Predicates on the same
// field combine with logical AND, in the order added. For OpIn and OpNotIn
// the value must be a []interface{}.
type Predicate struct {
	Field string
	Op    Op
	Value interface{}
}

// Ordering is a single ORDER BY directive.
type Ordering struct {
	Field string
	Desc  bool
}

// Query is the structured descriptor handed to a storage executor. The core
// never generates SQL itself; executors translate descriptors into whatever
// the underlying engine accepts.
type Query struct {
	Schema     *schema.Schema
	Predicates []Predicate
	Order      []Ordering
	Limit      *int
	Offset     *int
}

// WriteOp is the kind of write operation.
type WriteOp int

const (
	OpInsert WriteOp = iota
	OpUpdate
)

// String returns the string representation of the write operation.
func (w WriteOp) String() string {
	switch w {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Write is the structured descriptor for an insert or update. For updates,
// ID carries the identity of the row to modify and Values holds only the
// changed fields.
type Write struct {
	Schema *schema.Schema
	Op     WriteOp
	Values map[string]interface{}
	ID     interface{}
}

// Executor is the narrow interface to the external storage engine. Both
// methods may block on I/O; implementations must honor the context.
type Executor interface {
	ExecuteQuery(ctx context.Context, q Query) ([]*Record, error)
	ExecuteWrite(ctx context.Context, w Write) (*Record, error)
}

// Transactor is optionally implemented by executors that can scope a group
// of writes to a single transaction. The changeset commit uses it, when
// available, to make a nested-association commit atomic.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(Executor) error) error
}
