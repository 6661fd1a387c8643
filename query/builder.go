// Package query provides a composable, lazily-evaluated query builder over a
// registered schema. Every chain method returns a new builder value and
// leaves the receiver unchanged, so a builder is safely shareable and
// reusable as the base for derived scopes. No storage access happens until a
// terminal operation runs.
package query

import (
	"context"
	"fmt"

	"github.com/loomdata/loom"
	"github.com/loomdata/loom/preload"
	"github.com/loomdata/loom/schema"
)

// Builder accumulates a predicate set and a preload request tree over one
// schema. Construct with New and derive variants through the chain methods.
type Builder struct {
	schema  *schema.Schema
	exec    loom.Executor
	planner *preload.Planner

	preds    []loom.Predicate
	filters  []func(*loom.Record) bool
	order    []loom.Ordering
	limit    *int
	offset   *int
	preloads []preload.Request
}

// New creates the base builder for a schema: an empty predicate set and an
// empty preload request. The planner may be nil when no preloads are used.
func New(s *schema.Schema, exec loom.Executor, planner *preload.Planner) *Builder {
	return &Builder{
		schema:  s,
		exec:    exec,
		planner: planner,
	}
}

// clone copies the builder so chain methods never mutate their receiver.
func (b *Builder) clone() *Builder {
	next := &Builder{
		schema:  b.schema,
		exec:    b.exec,
		planner: b.planner,
	}
	next.preds = append([]loom.Predicate(nil), b.preds...)
	next.filters = make([]func(*loom.Record) bool, len(b.filters))
	copy(next.filters, b.filters)
	next.order = append([]loom.Ordering(nil), b.order...)
	next.preloads = append([]preload.Request(nil), b.preloads...)
	if b.limit != nil {
		limit := *b.limit
		next.limit = &limit
	}
	if b.offset != nil {
		offset := *b.offset
		next.offset = &offset
	}
	return next
}

// Where returns a new builder with a structured field condition appended.
// Conditions on the same field combine with logical AND, in the order added.
// An unknown field or a value whose Go type does not match the field's
// semantic type panics with a *loom.ConstructionError: it is a
// construction-time error, not a runtime query failure.
func (b *Builder) Where(field string, op loom.Op, value interface{}) *Builder {
	f, ok := b.schema.Field(field)
	if !ok {
		panic(&loom.ConstructionError{
			Schema:  b.schema.Name(),
			Field:   field,
			Message: "unknown field",
		})
	}
	checkOperand(b.schema.Name(), f, op, value)

	next := b.clone()
	next.preds = append(next.preds, loom.Predicate{Field: field, Op: op, Value: value})
	return next
}

// WhereFunc returns a new builder with an opaque predicate closure appended.
// Closures cannot be pushed to the storage executor; they are applied in
// memory after the structured query returns, before limit and offset.
func (b *Builder) WhereFunc(fn func(*loom.Record) bool) *Builder {
	next := b.clone()
	next.filters = append(next.filters, fn)
	return next
}

// OrderByAsc returns a new builder ordered ascending by the given field.
func (b *Builder) OrderByAsc(field string) *Builder {
	return b.orderBy(field, false)
}

// OrderByDesc returns a new builder ordered descending by the given field.
func (b *Builder) OrderByDesc(field string) *Builder {
	return b.orderBy(field, true)
}

func (b *Builder) orderBy(field string, desc bool) *Builder {
	if !b.schema.HasField(field) {
		panic(&loom.ConstructionError{
			Schema:  b.schema.Name(),
			Field:   field,
			Message: "unknown field",
		})
	}
	next := b.clone()
	next.order = append(next.order, loom.Ordering{Field: field, Desc: desc})
	return next
}

// Limit returns a new builder with a row limit.
func (b *Builder) Limit(n int) *Builder {
	next := b.clone()
	next.limit = &n
	return next
}

// Offset returns a new builder with a row offset.
func (b *Builder) Offset(n int) *Builder {
	next := b.clone()
	next.offset = &n
	return next
}

// Preload returns a new builder that eager-loads the named association after
// the primary query, optionally scoped or nested via preload options. An
// unknown association panics with a *loom.ConstructionError.
func (b *Builder) Preload(assoc string, opts ...preload.Option) *Builder {
	if _, ok := b.schema.Association(assoc); !ok {
		panic(&loom.ConstructionError{
			Schema:  b.schema.Name(),
			Field:   assoc,
			Message: "unknown association",
		})
	}
	next := b.clone()
	next.preloads = append(next.preloads, preload.NewRequest(assoc, opts...))
	return next
}

// Scope is a reusable, named query fragment: a function from builder to
// further-chained builder. Derived scopes compose with Apply.
type Scope func(*Builder) *Builder

// Apply returns a new builder with each scope applied in order.
func (b *Builder) Apply(scopes ...Scope) *Builder {
	next := b
	for _, s := range scopes {
		next = s(next)
	}
	return next
}

// Descriptor compiles the accumulated predicate set into the structured
// query handed to the storage executor. Closure predicates are excluded:
// they run in memory, and when any are present limit/offset are also
// withheld from the descriptor so they apply after filtering.
func (b *Builder) Descriptor() loom.Query {
	q := loom.Query{
		Schema:     b.schema,
		Predicates: append([]loom.Predicate(nil), b.preds...),
		Order:      append([]loom.Ordering(nil), b.order...),
	}
	if len(b.filters) == 0 {
		q.Limit = b.limit
		q.Offset = b.offset
	}
	return q
}

// All executes the query and returns all matching records, with any
// requested preloads attached. An empty result is a valid empty slice.
func (b *Builder) All(ctx context.Context) ([]*loom.Record, error) {
	records, err := b.exec.ExecuteQuery(ctx, b.Descriptor())
	if err != nil {
		return nil, loom.WrapStorage("query", err)
	}

	if len(b.filters) > 0 {
		records = b.applyFilters(records)
	}

	if len(b.preloads) > 0 && len(records) > 0 {
		if b.planner == nil {
			return nil, fmt.Errorf("query: preload requested but no planner configured")
		}
		if err := b.planner.Load(ctx, records, b.schema, b.preloads); err != nil {
			return nil, err
		}
	}

	if records == nil {
		records = []*loom.Record{}
	}
	return records, nil
}

// applyFilters runs closure predicates in memory, then applies offset and
// limit to the filtered sequence.
func (b *Builder) applyFilters(records []*loom.Record) []*loom.Record {
	filtered := make([]*loom.Record, 0, len(records))
	for _, rec := range records {
		keep := true
		for _, fn := range b.filters {
			if !fn(rec) {
				keep = false
				break
			}
		}
		if keep {
			filtered = append(filtered, rec)
		}
	}

	if b.offset != nil {
		if *b.offset >= len(filtered) {
			return []*loom.Record{}
		}
		filtered = filtered[*b.offset:]
	}
	if b.limit != nil && *b.limit < len(filtered) {
		filtered = filtered[:*b.limit]
	}
	return filtered
}

// First executes the query and returns the first matching record, or a
// *loom.NotFoundError when nothing matches.
func (b *Builder) First(ctx context.Context) (*loom.Record, error) {
	records, err := b.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &loom.NotFoundError{Label: b.schema.Name()}
	}
	return records[0], nil
}

// Last executes the query with the ordering reversed and returns the first
// record of the reversed sequence. Without an explicit ordering it orders by
// primary key descending.
func (b *Builder) Last(ctx context.Context) (*loom.Record, error) {
	reversed := b.clone()
	if len(reversed.order) == 0 {
		reversed.order = []loom.Ordering{{Field: b.schema.PrimaryKey().Name, Desc: true}}
	} else {
		flipped := make([]loom.Ordering, len(reversed.order))
		for i, o := range reversed.order {
			flipped[i] = loom.Ordering{Field: o.Field, Desc: !o.Desc}
		}
		reversed.order = flipped
	}

	records, err := reversed.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &loom.NotFoundError{Label: b.schema.Name()}
	}
	return records[0], nil
}

// Each executes the query and invokes fn for every record in order,
// stopping at the first error.
func (b *Builder) Each(ctx context.Context, fn func(*loom.Record) error) error {
	records, err := b.All(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Count executes the query and returns the number of matching records.
func (b *Builder) Count(ctx context.Context) (int, error) {
	records, err := b.All(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Exists reports whether any record matches the query.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	records, err := b.Limit(1).All(ctx)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// checkOperand validates an operator's operand against the field's semantic
// type at construction time.
func checkOperand(schemaName string, f *schema.Field, op loom.Op, value interface{}) {
	fail := func(msg string) {
		panic(&loom.ConstructionError{
			Schema:  schemaName,
			Field:   f.Name,
			Message: msg,
		})
	}

	switch op {
	case loom.OpIsNull, loom.OpIsNotNull:
		if value != nil {
			fail(fmt.Sprintf("%s takes no operand", op))
		}
	case loom.OpIn, loom.OpNotIn:
		values, ok := value.([]interface{})
		if !ok {
			fail(fmt.Sprintf("%s requires a []interface{} operand, got %T", op, value))
		}
		for _, v := range values {
			if err := f.Check(v); err != nil {
				fail(err.Error())
			}
		}
	default:
		if err := f.Check(value); err != nil {
			fail(err.Error())
		}
	}
}
