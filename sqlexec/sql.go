package sqlexec

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/loomdata/loom"
)

// Dialect selects the placeholder style and key-set binding strategy.
type Dialect int

const (
	// Postgres uses $n placeholders and array binding for key sets.
	Postgres Dialect = iota
	// SQLite uses ? placeholders and expands key sets inline.
	SQLite
)

// stmt accumulates a parameterized SQL statement.
type stmt struct {
	dialect Dialect
	sql     strings.Builder
	args    []interface{}
	n       int
}

func newStmt(dialect Dialect) *stmt {
	return &stmt{dialect: dialect, n: 1}
}

// placeholder appends an argument and returns its placeholder token.
func (s *stmt) placeholder(arg interface{}) string {
	s.args = append(s.args, arg)
	if s.dialect == SQLite {
		return "?"
	}
	token := fmt.Sprintf("$%d", s.n)
	s.n++
	return token
}

// writeQuery renders a query descriptor as a SELECT statement.
func (s *stmt) writeQuery(q loom.Query) error {
	fmt.Fprintf(&s.sql, "SELECT * FROM %s", pq.QuoteIdentifier(q.Schema.Table()))

	if len(q.Predicates) > 0 {
		s.sql.WriteString(" WHERE ")
		for i, pred := range q.Predicates {
			if i > 0 {
				s.sql.WriteString(" AND ")
			}
			if err := s.writePredicate(pred); err != nil {
				return err
			}
		}
	}

	if len(q.Order) > 0 {
		s.sql.WriteString(" ORDER BY ")
		for i, o := range q.Order {
			if i > 0 {
				s.sql.WriteString(", ")
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			fmt.Fprintf(&s.sql, "%s %s", pq.QuoteIdentifier(o.Field), dir)
		}
	}

	if q.Limit != nil {
		fmt.Fprintf(&s.sql, " LIMIT %s", s.placeholder(*q.Limit))
	}
	if q.Offset != nil {
		fmt.Fprintf(&s.sql, " OFFSET %s", s.placeholder(*q.Offset))
	}

	return nil
}

// writePredicate renders a single structured condition.
func (s *stmt) writePredicate(pred loom.Predicate) error {
	col := pq.QuoteIdentifier(pred.Field)

	switch pred.Op {
	case loom.OpEqual, loom.OpNotEqual, loom.OpGreaterThan, loom.OpGreaterThanOrEqual,
		loom.OpLessThan, loom.OpLessThanOrEqual, loom.OpLike:
		fmt.Fprintf(&s.sql, "%s %s %s", col, pred.Op, s.placeholder(pred.Value))

	case loom.OpIsNull:
		fmt.Fprintf(&s.sql, "%s IS NULL", col)

	case loom.OpIsNotNull:
		fmt.Fprintf(&s.sql, "%s IS NOT NULL", col)

	case loom.OpIn, loom.OpNotIn:
		values, ok := pred.Value.([]interface{})
		if !ok {
			return fmt.Errorf("sqlexec: %s requires a []interface{} value, got %T", pred.Op, pred.Value)
		}
		if len(values) == 0 {
			// IN over an empty set matches nothing; NOT IN matches everything.
			if pred.Op == loom.OpIn {
				s.sql.WriteString("FALSE")
			} else {
				s.sql.WriteString("TRUE")
			}
			return nil
		}

		if s.dialect == Postgres {
			// Single array parameter keeps the statement shape stable
			// regardless of key-set size.
			if pred.Op == loom.OpIn {
				fmt.Fprintf(&s.sql, "%s = ANY(%s)", col, s.placeholder(pq.Array(values)))
			} else {
				fmt.Fprintf(&s.sql, "%s <> ALL(%s)", col, s.placeholder(pq.Array(values)))
			}
			return nil
		}

		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = s.placeholder(v)
		}
		fmt.Fprintf(&s.sql, "%s %s (%s)", col, pred.Op, strings.Join(placeholders, ", "))

	default:
		return fmt.Errorf("sqlexec: unsupported operator %s", pred.Op)
	}

	return nil
}

// writeInsert renders an insert descriptor, returning the full row.
func (s *stmt) writeInsert(w loom.Write) error {
	var cols []string
	var placeholders []string

	// Schema declaration order keeps generated statements deterministic.
	for _, f := range w.Schema.Fields() {
		value, ok := w.Values[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, pq.QuoteIdentifier(f.Name))
		placeholders = append(placeholders, s.placeholder(value))
	}

	if len(cols) == 0 {
		return fmt.Errorf("sqlexec: no fields to insert")
	}

	fmt.Fprintf(&s.sql, "INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pq.QuoteIdentifier(w.Schema.Table()),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)
	return nil
}

// writeUpdate renders an update descriptor, returning the full row.
func (s *stmt) writeUpdate(w loom.Write) error {
	var sets []string
	for _, f := range w.Schema.Fields() {
		value, ok := w.Values[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", pq.QuoteIdentifier(f.Name), s.placeholder(value)))
	}

	if len(sets) == 0 {
		return fmt.Errorf("sqlexec: no fields to update")
	}

	fmt.Fprintf(&s.sql, "UPDATE %s SET %s WHERE %s = %s RETURNING *",
		pq.QuoteIdentifier(w.Schema.Table()),
		strings.Join(sets, ", "),
		pq.QuoteIdentifier(w.Schema.PrimaryKey().Name),
		s.placeholder(w.ID),
	)
	return nil
}
