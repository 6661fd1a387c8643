package changeset

import (
	"fmt"

	"github.com/loomdata/loom"
	"github.com/loomdata/loom/schema"
)

// Changeset stages field mutations for one record and resolves its validity
// by running its type's pipeline. A changeset is a single-use value: build
// it, optionally inspect Valid and Errors, then commit with Insert or
// Update. It must not be shared across concurrent operations.
type Changeset struct {
	typ      *Type
	schema   *schema.Schema
	existing *loom.Record

	staged     map[string]interface{}
	children   map[string][]*Changeset
	childOrder []string

	// skipRequired marks fields whose value the commit pipeline supplies
	// later (a nested child's foreign key).
	skipRequired map[string]bool

	errs   *ErrorMap
	ran    bool
	record *loom.Record
}

// Schema returns the target schema.
func (c *Changeset) Schema() *schema.Schema { return c.schema }

// Existing returns the record an update changeset is bound to, or nil for
// an insert changeset.
func (c *Changeset) Existing() *loom.Record { return c.existing }

// Record returns the committed record, or nil before a successful commit.
func (c *Changeset) Record() *loom.Record { return c.record }

// Get returns a staged value. It does not fall back to the existing record.
func (c *Changeset) Get(field string) (interface{}, bool) {
	v, ok := c.staged[field]
	return v, ok
}

// Current returns the staged value for a field, falling back to the bound
// record's persisted value for update changesets.
func (c *Changeset) Current(field string) (interface{}, bool) {
	if v, ok := c.staged[field]; ok {
		return v, true
	}
	if c.existing != nil {
		return c.existing.Get(field)
	}
	return nil, false
}

// Put stages a value for an allow-listed field, checking it against the
// field's semantic type. Used by callbacks to derive values; staging nil on
// an update marks the field as explicitly cleared.
func (c *Changeset) Put(field string, value interface{}) error {
	if !c.allowed(field) {
		return &loom.ConstructionError{
			Schema:  c.schema.Name(),
			Field:   field,
			Message: "field is not in the allow-list",
		}
	}
	f, ok := c.schema.Field(field)
	if !ok {
		return &loom.ConstructionError{
			Schema:  c.schema.Name(),
			Field:   field,
			Message: "unknown field",
		}
	}
	if err := f.Check(value); err != nil {
		return &loom.ConstructionError{
			Schema:  c.schema.Name(),
			Field:   field,
			Message: err.Error(),
		}
	}
	c.staged[field] = value
	return nil
}

// AddError appends a validation message for a field.
func (c *Changeset) AddError(field, message string) {
	if c.errs == nil {
		c.errs = NewErrorMap()
	}
	c.errs.Add(field, message)
}

// Children returns the nested changesets staged under an association, in
// payload order.
func (c *Changeset) Children(assoc string) []*Changeset {
	return c.children[assoc]
}

// Valid forces pipeline execution if it has not already run, memoizes the
// error map, and reports whether it is empty. Repeated calls do not re-run
// validations or transformations.
func (c *Changeset) Valid() bool {
	c.run()
	return c.errs.Empty()
}

// Errors returns the error map, running the pipeline first if needed.
func (c *Changeset) Errors() *ErrorMap {
	c.run()
	return c.errs
}

// Changes returns a copy of the staged field values, excluding association
// payloads.
func (c *Changeset) Changes() map[string]interface{} {
	out := make(map[string]interface{}, len(c.staged))
	for k, v := range c.staged {
		out[k] = v
	}
	return out
}

// run executes the pipeline exactly once: pre-validate callbacks, the
// automatic required-value validation derived from the schema, the type's
// declared steps in order, then nested association processing.
func (c *Changeset) run() {
	if c.ran {
		return
	}
	c.ran = true
	if c.errs == nil {
		c.errs = NewErrorMap()
	}

	for _, cb := range c.typ.callbacks {
		if cb.Phase != PreValidate {
			continue
		}
		if err := cb.Fn(c); err != nil {
			c.errs.Add(cb.Name, err.Error())
		}
	}

	c.validateRequired()

	for _, step := range c.typ.steps {
		step(c)
	}

	c.processAssociations()
}

// validateRequired yields a "required" error for every non-nullable field
// with no staged value on insert, or explicitly cleared on update. Nullable
// fields and fields the commit pipeline populates are exempt.
func (c *Changeset) validateRequired() {
	for _, f := range c.schema.Fields() {
		if f.Nullable || f.Auto || f.AutoUpdate {
			continue
		}
		if c.skipRequired[f.Name] {
			continue
		}

		value, staged := c.staged[f.Name]
		if c.existing == nil {
			if !staged || value == nil {
				c.errs.Add(f.Name, "is required")
			}
		} else if staged && value == nil {
			c.errs.Add(f.Name, "is required")
		}
	}
}

// processAssociations runs every nested changeset's pipeline. Failures do
// not abort siblings: all nested changesets run, and if any is invalid the
// parent records the association field mapped to the index-aligned error
// maps of all items.
func (c *Changeset) processAssociations() {
	for _, assoc := range c.childOrder {
		children := c.children[assoc]
		anyInvalid := false
		items := make([]*ErrorMap, len(children))
		for i, child := range children {
			if !child.Valid() {
				anyInvalid = true
			}
			items[i] = child.Errors()
		}
		if anyInvalid {
			c.errs.AddNested(assoc, items)
		}
	}
}

// allowed reports whether a name is in the type's allow-list.
func (c *Changeset) allowed(name string) bool {
	for _, a := range c.typ.allowed {
		if a == name {
			return true
		}
	}
	return false
}

// setForeign stages a system-supplied foreign key during commit, bypassing
// the allow-list: associating a nested record with its parent is driven by
// the declared association, not by caller input.
func (c *Changeset) setForeign(field string, value interface{}) {
	c.staged[field] = value
}

func (c *Changeset) String() string {
	op := "insert"
	if c.existing != nil {
		op = "update"
	}
	return fmt.Sprintf("changeset(%s %s, %d staged)", op, c.schema.Name(), len(c.staged))
}
