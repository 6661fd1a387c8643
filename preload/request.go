// Package preload implements batched eager loading of declared associations.
// Given a batch of primary records and a tree of preload requests, the
// planner issues exactly one secondary query per association node,
// independent of the batch size, and attaches the loaded records back onto
// each primary record.
package preload

import (
	"github.com/loomdata/loom"
)

// Request is one node of a preload tree: an association accessor name, an
// optional scoping predicate set applied to the associated rows, and
// optional nested requests resolved against the loaded records.
type Request struct {
	Assoc  string
	Scope  []loom.Predicate
	Nested []Request
}

// Option configures a Request.
type Option func(*Request)

// NewRequest builds a request node for the named association.
func NewRequest(assoc string, opts ...Option) Request {
	req := Request{Assoc: assoc}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// Where adds a scoping predicate filtering the associated rows as they are
// loaded. Scoping a preload does not filter the primary records.
func Where(field string, op loom.Op, value interface{}) Option {
	return func(r *Request) {
		r.Scope = append(r.Scope, loom.Predicate{Field: field, Op: op, Value: value})
	}
}

// Nested adds a nested request loaded against the records this node loads.
func Nested(assoc string, opts ...Option) Option {
	return func(r *Request) {
		r.Nested = append(r.Nested, NewRequest(assoc, opts...))
	}
}
