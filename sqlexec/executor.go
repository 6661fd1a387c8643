// Package sqlexec provides a reference storage executor over database/sql.
// It translates the structured query and write descriptors into
// parameterized SQL for Postgres or SQLite, scans rows back into records
// using schema metadata, and converts driver errors into typed storage
// errors. It also implements loom.Transactor so a changeset commit spanning
// nested records runs in one transaction.
package sqlexec

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/loomdata/loom"
	"github.com/loomdata/loom/schema"
)

// querier abstracts *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Executor executes loom descriptors against a database/sql connection.
type Executor struct {
	db      *sql.DB // nil inside a transaction-scoped executor
	q       querier
	dialect Dialect
	log     *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithDialect selects the SQL dialect. The default is Postgres.
func WithDialect(d Dialect) Option {
	return func(e *Executor) {
		e.dialect = d
	}
}

// WithLogger sets the logger used for per-statement debug entries.
func WithLogger(log *zap.Logger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

// New creates an executor over db.
func New(db *sql.DB, opts ...Option) *Executor {
	e := &Executor{
		db:      db,
		q:       db,
		dialect: Postgres,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteQuery translates a query descriptor to SQL and returns the matching
// records. An empty result is an empty slice.
func (e *Executor) ExecuteQuery(ctx context.Context, q loom.Query) ([]*loom.Record, error) {
	s := newStmt(e.dialect)
	if err := s.writeQuery(q); err != nil {
		return nil, &loom.StorageError{Op: "query", Err: err}
	}

	e.log.Debug("execute query",
		zap.String("schema", q.Schema.Name()),
		zap.String("sql", s.sql.String()),
	)

	rows, err := e.q.QueryContext(ctx, s.sql.String(), s.args...)
	if err != nil {
		return nil, &loom.StorageError{Op: "query", Err: convertDBError(err)}
	}
	defer rows.Close()

	records, err := scanRecords(rows, q.Schema)
	if err != nil {
		return nil, &loom.StorageError{Op: "query", Err: err}
	}
	return records, nil
}

// ExecuteWrite translates a write descriptor to SQL and returns the full
// persisted row. An update against a missing row yields a not-found error.
func (e *Executor) ExecuteWrite(ctx context.Context, w loom.Write) (*loom.Record, error) {
	s := newStmt(e.dialect)
	var err error
	switch w.Op {
	case loom.OpInsert:
		err = s.writeInsert(w)
	case loom.OpUpdate:
		err = s.writeUpdate(w)
	default:
		err = fmt.Errorf("sqlexec: unsupported write operation %v", w.Op)
	}
	if err != nil {
		return nil, &loom.StorageError{Op: w.Op.String(), Err: err}
	}

	e.log.Debug("execute write",
		zap.String("schema", w.Schema.Name()),
		zap.String("op", w.Op.String()),
		zap.String("sql", s.sql.String()),
	)

	rows, err := e.q.QueryContext(ctx, s.sql.String(), s.args...)
	if err != nil {
		return nil, &loom.StorageError{Op: w.Op.String(), Err: convertDBError(err)}
	}
	defer rows.Close()

	records, err := scanRecords(rows, w.Schema)
	if err != nil {
		return nil, &loom.StorageError{Op: w.Op.String(), Err: err}
	}
	if len(records) == 0 {
		return nil, &loom.StorageError{
			Op:  w.Op.String(),
			Err: &loom.NotFoundError{Label: w.Schema.Name(), ID: w.ID},
		}
	}
	return records[0], nil
}

// WithTransaction implements loom.Transactor. The callback receives a
// transaction-scoped executor; any error rolls everything back. Nested
// calls reuse the enclosing transaction.
func (e *Executor) WithTransaction(ctx context.Context, fn func(loom.Executor) error) error {
	if e.db == nil {
		return fn(e)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return &loom.StorageError{Op: "begin", Err: err}
	}

	scoped := &Executor{q: tx, dialect: e.dialect, log: e.log}
	if err := fn(scoped); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return &loom.StorageError{Op: "commit", Err: convertDBError(err)}
	}
	return nil
}

// scanRecords scans all rows into records for the given schema.
func scanRecords(rows *sql.Rows, s *schema.Schema) ([]*loom.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []*loom.Record{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		records = append(records, loom.NewRecord(s, record))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
