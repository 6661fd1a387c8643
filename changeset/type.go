package changeset

import (
	"fmt"

	"github.com/loomdata/loom"
	"github.com/loomdata/loom/schema"
)

// Params is an incoming value map, typically a decoded request payload.
// Values for fields absent from a changeset type's allow-list are silently
// ignored, so callers may over-supply data safely.
type Params map[string]interface{}

// Type describes the behavior of one kind of changeset: the target schema,
// the allow-list of mutable fields, the ordered pipeline of validation and
// transformation steps, lifecycle callbacks, and the nested changeset types
// used for inline association payloads.
//
// A derived type is built with Extend, which copies the parent's step list
// and appends the child's additions, so a derived pipeline always runs
// parent steps before its own.
type Type struct {
	schema    *schema.Schema
	allowed   []string
	steps     []Step
	callbacks []Callback
	nested    map[string]*Type
}

// TypeOption configures a Type.
type TypeOption func(*Type)

// WithSteps appends pipeline steps in declaration order.
func WithSteps(steps ...Step) TypeOption {
	return func(t *Type) {
		t.steps = append(t.steps, steps...)
	}
}

// WithCallbacks registers lifecycle callbacks in declaration order.
func WithCallbacks(callbacks ...Callback) TypeOption {
	return func(t *Type) {
		t.callbacks = append(t.callbacks, callbacks...)
	}
}

// WithNested declares the changeset type used to process inline payloads
// staged under the named association. The association must be in the
// allow-list for payloads to be staged.
func WithNested(assoc string, nested *Type) TypeOption {
	return func(t *Type) {
		t.nested[assoc] = nested
	}
}

// WithAllowed appends additional allow-listed field or association names.
// Primarily useful from Extend.
func WithAllowed(names ...string) TypeOption {
	return func(t *Type) {
		t.allowed = append(t.allowed, names...)
	}
}

// NewType creates a changeset type for a schema. Every allowed name must be
// a declared field or association; anything else panics, since the type is
// a static declaration normally built at startup.
func NewType(s *schema.Schema, allowed []string, opts ...TypeOption) *Type {
	t := &Type{
		schema:  s,
		allowed: append([]string(nil), allowed...),
		nested:  make(map[string]*Type),
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, name := range t.allowed {
		if s.HasField(name) {
			continue
		}
		if _, ok := s.Association(name); ok {
			continue
		}
		panic(fmt.Sprintf("changeset: %s allows unknown field %s", s.Name(), name))
	}
	return t
}

// Extend derives a new type from t: the schema and allow-list carry over,
// the parent's steps and callbacks are copied, and the options append the
// child's own. The resulting pipeline is strictly parent-then-child.
func (t *Type) Extend(opts ...TypeOption) *Type {
	child := &Type{
		schema:    t.schema,
		allowed:   append([]string(nil), t.allowed...),
		steps:     append([]Step(nil), t.steps...),
		callbacks: append([]Callback(nil), t.callbacks...),
		nested:    make(map[string]*Type, len(t.nested)),
	}
	for assoc, nested := range t.nested {
		child.nested[assoc] = nested
	}
	for _, opt := range opts {
		opt(child)
	}

	for _, name := range child.allowed {
		if !child.schema.HasField(name) {
			if _, ok := child.schema.Association(name); !ok {
				panic(fmt.Sprintf("changeset: %s allows unknown field %s", child.schema.Name(), name))
			}
		}
	}
	return child
}

// Schema returns the type's target schema.
func (t *Type) Schema() *schema.Schema { return t.schema }

// New builds an insert changeset from params. Only allow-listed fields are
// staged; a staged value whose Go type does not match the field's semantic
// type is a construction error and nothing is staged.
func (t *Type) New(params Params) (*Changeset, error) {
	return t.build(nil, params, nil)
}

// Update builds an update changeset against an existing record.
func (t *Type) Update(rec *loom.Record, params Params) (*Changeset, error) {
	if rec == nil {
		return nil, fmt.Errorf("changeset: Update requires an existing record")
	}
	return t.build(rec, params, nil)
}

// build stages allow-listed params and constructs nested changesets for
// association payloads. skipRequired marks fields whose values the commit
// pipeline supplies later (a nested child's foreign key).
func (t *Type) build(existing *loom.Record, params Params, skipRequired map[string]bool) (*Changeset, error) {
	c := &Changeset{
		typ:          t,
		schema:       t.schema,
		existing:     existing,
		staged:       make(map[string]interface{}),
		children:     make(map[string][]*Changeset),
		skipRequired: skipRequired,
	}

	for _, name := range t.allowed {
		value, present := params[name]
		if !present {
			continue
		}

		if assoc, ok := t.schema.Association(name); ok {
			nested, ok := t.nested[name]
			if !ok {
				return nil, &loom.ConstructionError{
					Schema:  t.schema.Name(),
					Field:   name,
					Message: "association payload supplied but no nested changeset type declared",
				}
			}
			if err := c.buildChildren(assoc, nested, value); err != nil {
				return nil, err
			}
			continue
		}

		field, _ := t.schema.Field(name)
		if err := field.Check(value); err != nil {
			return nil, &loom.ConstructionError{
				Schema:  t.schema.Name(),
				Field:   name,
				Message: err.Error(),
			}
		}
		c.staged[name] = value
	}

	return c, nil
}

// buildChildren constructs one nested changeset per payload item, preserving
// supply order. Has-many associations take a slice of payloads; belongs-to
// takes a single payload.
func (c *Changeset) buildChildren(assoc *schema.Association, nested *Type, value interface{}) error {
	payloadErr := func(msg string) error {
		return &loom.ConstructionError{
			Schema:  c.schema.Name(),
			Field:   assoc.Name,
			Message: msg,
		}
	}

	switch assoc.Kind {
	case schema.HasMany:
		items, err := toParamsSlice(value)
		if err != nil {
			return payloadErr(err.Error())
		}
		// Children are validated before the parent key exists, so their
		// foreign key is exempt from required validation here and filled in
		// by the commit pipeline.
		skip := map[string]bool{assoc.ForeignKey: true}
		for _, item := range items {
			child, err := nested.build(nil, item, skip)
			if err != nil {
				return err
			}
			c.children[assoc.Name] = append(c.children[assoc.Name], child)
		}
	case schema.BelongsTo:
		item, err := toParams(value)
		if err != nil {
			return payloadErr(err.Error())
		}
		child, err := nested.build(nil, item, nil)
		if err != nil {
			return err
		}
		c.children[assoc.Name] = []*Changeset{child}
		// The owning key lives on this record and is filled in from the
		// committed child, so it is exempt from required validation here.
		if c.skipRequired == nil {
			c.skipRequired = make(map[string]bool)
		}
		c.skipRequired[assoc.ForeignKey] = true
	}

	c.childOrder = append(c.childOrder, assoc.Name)
	return nil
}

// toParamsSlice normalizes a has-many payload collection.
func toParamsSlice(value interface{}) ([]Params, error) {
	switch v := value.(type) {
	case []Params:
		return v, nil
	case []map[string]interface{}:
		out := make([]Params, len(v))
		for i, item := range v {
			out[i] = Params(item)
		}
		return out, nil
	case []interface{}:
		out := make([]Params, len(v))
		for i, item := range v {
			p, err := toParams(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = p
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a slice of payload maps, got %T", value)
	}
}

// toParams normalizes a single payload.
func toParams(value interface{}) (Params, error) {
	switch v := value.(type) {
	case Params:
		return v, nil
	case map[string]interface{}:
		return Params(v), nil
	default:
		return nil, fmt.Errorf("expected a payload map, got %T", value)
	}
}
