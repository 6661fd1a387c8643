// Package changeset implements a staged, validated set of field mutations
// targeting the insert or update of one record. A changeset carries an
// allow-list of mutable fields, staged values, an ordered validation and
// transformation pipeline, lifecycle callbacks around the commit boundary,
// and nested changesets for inline association payloads.
package changeset

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorMap maps field names to ordered validation messages, and association
// field names to the per-item error maps of their nested changesets.
// Presence of any entry means the changeset is invalid; validity is only
// meaningful after the pipeline has run.
//
// Validation failure is a normal result inspected through the map, never an
// error return: callers distinguish invalid input from storage failure.
type ErrorMap struct {
	fields map[string][]string
	nested map[string][]*ErrorMap
	order  []string
}

// NewErrorMap creates an empty ErrorMap.
func NewErrorMap() *ErrorMap {
	return &ErrorMap{
		fields: make(map[string][]string),
		nested: make(map[string][]*ErrorMap),
	}
}

// Add appends a message for a field. Multiple violations on the same field
// accumulate in order; they are never overwritten.
func (e *ErrorMap) Add(field, message string) {
	if _, seen := e.fields[field]; !seen {
		if _, seenNested := e.nested[field]; !seenNested {
			e.order = append(e.order, field)
		}
	}
	e.fields[field] = append(e.fields[field], message)
}

// AddNested records the per-item error maps of an association's nested
// changesets, index-aligned with the supplied payload items. Valid siblings
// contribute empty maps, preserving positions.
func (e *ErrorMap) AddNested(field string, items []*ErrorMap) {
	if _, seen := e.fields[field]; !seen {
		if _, seenNested := e.nested[field]; !seenNested {
			e.order = append(e.order, field)
		}
	}
	e.nested[field] = items
}

// Messages returns the ordered messages for a field.
func (e *ErrorMap) Messages(field string) []string {
	return e.fields[field]
}

// Nested returns the index-aligned nested error maps recorded for an
// association field, if any.
func (e *ErrorMap) Nested(field string) ([]*ErrorMap, bool) {
	items, ok := e.nested[field]
	return items, ok
}

// Fields returns the field names with entries, in first-added order.
func (e *ErrorMap) Fields() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Empty reports whether the map has no entries.
func (e *ErrorMap) Empty() bool {
	return len(e.fields) == 0 && len(e.nested) == 0
}

// Count returns the total number of messages, including nested ones.
func (e *ErrorMap) Count() int {
	count := 0
	for _, msgs := range e.fields {
		count += len(msgs)
	}
	for _, items := range e.nested {
		for _, item := range items {
			if item != nil {
				count += item.Count()
			}
		}
	}
	return count
}

// String renders the map for logs and test failures.
func (e *ErrorMap) String() string {
	if e.Empty() {
		return "no errors"
	}

	var parts []string
	for _, field := range e.order {
		for _, msg := range e.fields[field] {
			parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
		}
		if items, ok := e.nested[field]; ok {
			for i, item := range items {
				if item != nil && !item.Empty() {
					parts = append(parts, fmt.Sprintf("%s[%d]: %s", field, i, item.String()))
				}
			}
		}
	}
	return strings.Join(parts, "; ")
}

// MarshalJSON serializes the map for presentation layers.
func (e *ErrorMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.fields)+len(e.nested))
	for field, msgs := range e.fields {
		out[field] = msgs
	}
	for field, items := range e.nested {
		out[field] = items
	}
	return json.Marshal(out)
}
