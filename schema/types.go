// Package schema provides immutable type descriptors for record types: fields
// with semantic type tags and explicit nullability, plus declared associations
// between types. Descriptors are built once through the registration API and
// consulted read-only by query builders and changesets.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type represents the semantic type tag of a field.
type Type int

const (
	TypeString Type = iota
	TypeText
	TypeInt
	TypeBigInt
	TypeFloat
	TypeBool
	TypeTimestamp
	TypeUUID
	TypeJSON
)

// String returns the string representation of the type tag.
func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Field describes a single field of a record type.
type Field struct {
	Name     string
	Type     Type
	Nullable bool

	// PrimaryKey marks the identity field. Every schema has exactly one.
	PrimaryKey bool

	// Auto fields are populated by the commit pipeline when absent
	// (generated UUID keys, created_at/updated_at timestamps).
	Auto bool

	// AutoUpdate fields are touched on every update commit.
	AutoUpdate bool
}

// Check validates that a Go value is acceptable for the field's semantic type.
// A nil value is always accepted at staging time; nullability is enforced by
// the changeset's required-value validation, not here.
func (f *Field) Check(value interface{}) error {
	if value == nil {
		return nil
	}

	ok := false
	switch f.Type {
	case TypeString, TypeText:
		_, ok = value.(string)
	case TypeInt, TypeBigInt:
		switch value.(type) {
		case int, int32, int64:
			ok = true
		}
	case TypeFloat:
		switch value.(type) {
		case float32, float64:
			ok = true
		}
	case TypeBool:
		_, ok = value.(bool)
	case TypeTimestamp:
		_, ok = value.(time.Time)
	case TypeUUID:
		switch value.(type) {
		case uuid.UUID, string:
			ok = true
		}
	case TypeJSON:
		// JSON fields accept any marshalable value.
		ok = true
	}

	if !ok {
		return fmt.Errorf("field %s: expected %s, got %T", f.Name, f.Type, value)
	}
	return nil
}

// Kind represents the kind of association between two record types.
type Kind int

const (
	// BelongsTo is the owning side: the foreign key lives on this schema.
	BelongsTo Kind = iota
	// HasMany is the inverse view: the foreign key lives on the target schema
	// and is matched against this schema's primary key.
	HasMany
)

// String returns the string representation of the association kind.
func (k Kind) String() string {
	switch k {
	case BelongsTo:
		return "belongs_to"
	case HasMany:
		return "has_many"
	default:
		return "unknown"
	}
}

// Association describes a declared association to another record type.
type Association struct {
	Name   string // accessor name, e.g. "author" or "comments"
	Kind   Kind
	Target string // target schema name

	// ForeignKey names the key field: on this schema for belongs-to,
	// on the target schema for has-many.
	ForeignKey string
}

// FieldDef declares a field during schema registration.
type FieldDef struct {
	Name       string
	Type       Type
	Nullable   bool
	PrimaryKey bool
	Auto       bool
	AutoUpdate bool
}

// AssociationDef declares an association during schema registration.
type AssociationDef struct {
	Name       string
	Kind       Kind
	Target     string
	ForeignKey string
}

// Schema is the immutable descriptor for one record type. Instances are
// created once through New and shared read-only for the process lifetime.
type Schema struct {
	name   string
	table  string
	fields []*Field
	byName map[string]*Field
	pk     *Field

	assocs  []*Association
	byAssoc map[string]*Association
}

// New builds a Schema from field and association declarations. It validates
// structure only; cross-schema association targets are checked by the
// registry's ValidateAll.
func New(name string, fields []FieldDef, assocs []AssociationDef) (*Schema, error) {
	if name == "" {
		return nil, fmt.Errorf("schema name cannot be empty")
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema %s declares no fields", name)
	}

	s := &Schema{
		name:    name,
		table:   toTableName(name),
		byName:  make(map[string]*Field, len(fields)),
		byAssoc: make(map[string]*Association, len(assocs)),
	}

	for _, def := range fields {
		if def.Name == "" {
			return nil, fmt.Errorf("schema %s: field name cannot be empty", name)
		}
		if _, dup := s.byName[def.Name]; dup {
			return nil, fmt.Errorf("schema %s: duplicate field %s", name, def.Name)
		}
		f := &Field{
			Name:       def.Name,
			Type:       def.Type,
			Nullable:   def.Nullable,
			PrimaryKey: def.PrimaryKey,
			Auto:       def.Auto,
			AutoUpdate: def.AutoUpdate,
		}
		if f.PrimaryKey {
			if s.pk != nil {
				return nil, fmt.Errorf("schema %s: multiple primary keys (%s, %s)", name, s.pk.Name, f.Name)
			}
			s.pk = f
		}
		s.fields = append(s.fields, f)
		s.byName[f.Name] = f
	}

	if s.pk == nil {
		return nil, fmt.Errorf("schema %s has no primary key", name)
	}

	for _, def := range assocs {
		if def.Name == "" {
			return nil, fmt.Errorf("schema %s: association name cannot be empty", name)
		}
		if _, dup := s.byAssoc[def.Name]; dup {
			return nil, fmt.Errorf("schema %s: duplicate association %s", name, def.Name)
		}
		if _, clash := s.byName[def.Name]; clash {
			return nil, fmt.Errorf("schema %s: association %s collides with a field name", name, def.Name)
		}
		if def.Target == "" {
			return nil, fmt.Errorf("schema %s: association %s has no target", name, def.Name)
		}
		fk := def.ForeignKey
		if fk == "" {
			// Default foreign key: owner-side for belongs-to, inverse for has-many.
			if def.Kind == BelongsTo {
				fk = toSnakeCase(def.Target) + "_id"
			} else {
				fk = toSnakeCase(name) + "_id"
			}
		}
		if def.Kind == BelongsTo {
			if _, ok := s.byName[fk]; !ok {
				return nil, fmt.Errorf("schema %s: belongs_to %s references unknown foreign key field %s", name, def.Name, fk)
			}
		}
		a := &Association{
			Name:       def.Name,
			Kind:       def.Kind,
			Target:     def.Target,
			ForeignKey: fk,
		}
		s.assocs = append(s.assocs, a)
		s.byAssoc[a.Name] = a
	}

	return s, nil
}

// MustNew is like New but panics on error. Intended for package-level schema
// declarations that are validated at startup.
func MustNew(name string, fields []FieldDef, assocs []AssociationDef) *Schema {
	s, err := New(name, fields, assocs)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Table returns the storage table name (snake_case plural of the schema name).
func (s *Schema) Table() string { return s.table }

// PrimaryKey returns the primary key field.
func (s *Schema) PrimaryKey() *Field { return s.pk }

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []*Field {
	out := make([]*Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the field with the given name.
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// HasField returns true if the schema declares a field with the given name.
func (s *Schema) HasField(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Associations returns the declared associations in declaration order.
func (s *Schema) Associations() []*Association {
	out := make([]*Association, len(s.assocs))
	copy(out, s.assocs)
	return out
}

// Association returns the association with the given accessor name.
func (s *Schema) Association(name string) (*Association, bool) {
	a, ok := s.byAssoc[name]
	return a, ok
}

// toSnakeCase converts a string to snake_case.
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}

// pluralize adds simple pluralization.
func pluralize(s string) string {
	if strings.HasSuffix(s, "s") ||
		strings.HasSuffix(s, "x") ||
		strings.HasSuffix(s, "z") {
		return s + "es"
	}
	if strings.HasSuffix(s, "y") {
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}

// toTableName converts a schema name to a table name (snake_case plural).
func toTableName(name string) string {
	return pluralize(toSnakeCase(name))
}
