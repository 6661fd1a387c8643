// Package loom is a schema-driven data-access layer: a composable,
// lazily-evaluated query builder with batched eager loading of associations,
// and a changeset pipeline that validates, transforms and persists partial
// field updates, including nested associated records.
//
// The root package defines the types shared by the whole layer: the Record
// snapshot, the structured query/write descriptors handed to a storage
// executor, and the error kinds. The builder lives in package query, the
// eager-load planner in package preload, the changeset pipeline in package
// changeset, and a database/sql reference executor in package sqlexec.
package loom

import (
	"github.com/loomdata/loom/schema"
)

// Record is an immutable snapshot of persisted field values for one entity,
// plus its identity and any preloaded associations. Absence of an association
// is not a failure; it means "not loaded".
type Record struct {
	schema *schema.Schema
	id     interface{}
	values map[string]interface{}

	// Preloaded associations, keyed by accessor name. A key that is present
	// with a nil/empty value still means "loaded, none found".
	one  map[string]*Record
	many map[string][]*Record
}

// NewRecord creates a record for the given schema from a column-value map.
// The map is copied; the identity is taken from the primary key field.
func NewRecord(s *schema.Schema, values map[string]interface{}) *Record {
	copied := make(map[string]interface{}, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Record{
		schema: s,
		id:     copied[s.PrimaryKey().Name],
		values: copied,
	}
}

// Schema returns the record's type descriptor.
func (r *Record) Schema() *schema.Schema { return r.schema }

// ID returns the primary key value.
func (r *Record) ID() interface{} { return r.id }

// Get returns the value of a field and whether the field is present.
func (r *Record) Get(field string) (interface{}, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Values returns a copy of all field values.
func (r *Record) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// One returns a preloaded single-valued association (belongs-to). The second
// return value reports whether the association was loaded at all; a loaded
// association with no matching row yields (nil, true).
func (r *Record) One(assoc string) (*Record, bool) {
	rec, ok := r.one[assoc]
	return rec, ok
}

// Many returns a preloaded collection association (has-many). The second
// return value reports whether the association was loaded; a loaded
// association with no rows yields an empty, non-nil slice.
func (r *Record) Many(assoc string) ([]*Record, bool) {
	recs, ok := r.many[assoc]
	return recs, ok
}

// AttachOne attaches a loaded belongs-to association. It is called by the
// preload planner and the changeset commit; application code should treat
// records as read-only.
func (r *Record) AttachOne(assoc string, rec *Record) {
	if r.one == nil {
		r.one = make(map[string]*Record)
	}
	r.one[assoc] = rec
}

// AttachMany attaches a loaded has-many association.
func (r *Record) AttachMany(assoc string, recs []*Record) {
	if r.many == nil {
		r.many = make(map[string][]*Record)
	}
	if recs == nil {
		recs = []*Record{}
	}
	r.many[assoc] = recs
}
