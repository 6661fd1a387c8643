package changeset

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomdata/loom"
	"github.com/loomdata/loom/schema"
)

// Result is the tagged outcome of a commit: either a committed record or
// the error map of a failed validation. Storage failures are returned as a
// distinct error by Insert/Update, never folded into the map.
type Result struct {
	// Record is the persisted record on success, with committed nested
	// records attached under their association names.
	Record *loom.Record

	// Errors is the validation error map when the changeset (or any nested
	// changeset) was invalid. No storage mutation happened in that case.
	Errors *ErrorMap

	// CallbackErrs reports post-commit callback failures. The commit itself
	// succeeded; these are never unwound.
	CallbackErrs []error
}

// OK reports whether the commit persisted the record.
func (r *Result) OK() bool {
	return r.Errors == nil
}

// Insert runs the pipeline and, if the whole nested graph is valid,
// persists the record and its nested records. The operation is atomic:
// either everything is written or nothing is. When the executor implements
// loom.Transactor the graph commits inside one transaction.
func (c *Changeset) Insert(ctx context.Context, exec loom.Executor) (*Result, error) {
	if c.existing != nil {
		return nil, fmt.Errorf("changeset: Insert called on a changeset bound to an existing record")
	}
	return c.commit(ctx, exec)
}

// Update is the update-side counterpart of Insert; the changeset must have
// been built with Type.Update.
func (c *Changeset) Update(ctx context.Context, exec loom.Executor) (*Result, error) {
	if c.existing == nil {
		return nil, fmt.Errorf("changeset: Update called on a changeset with no existing record")
	}
	return c.commit(ctx, exec)
}

func (c *Changeset) commit(ctx context.Context, exec loom.Executor) (*Result, error) {
	if !c.Valid() {
		return &Result{Errors: c.errs}, nil
	}

	var rec *loom.Record
	if tx, ok := exec.(loom.Transactor); ok {
		err := tx.WithTransaction(ctx, func(e loom.Executor) error {
			var err error
			rec, err = c.commitGraph(ctx, e)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		rec, err = c.commitGraph(ctx, exec)
		if err != nil {
			return nil, err
		}
	}

	res := &Result{Record: rec}
	c.runPostCommit(&res.CallbackErrs)
	return res, nil
}

// commitGraph persists one changeset and its nested graph: pre-commit
// callbacks, belongs-to children (whose keys this record needs), auto
// fields, the write itself, then has-many children keyed to the new record.
func (c *Changeset) commitGraph(ctx context.Context, exec loom.Executor) (*loom.Record, error) {
	for _, cb := range c.typ.callbacks {
		if cb.Phase != PreCommit {
			continue
		}
		if err := cb.Fn(c); err != nil {
			return nil, fmt.Errorf("changeset: pre-commit callback %s: %w", cb.Name, err)
		}
	}

	// Belongs-to children commit first; the parent row references them.
	for _, name := range c.childOrder {
		assoc, _ := c.schema.Association(name)
		if assoc.Kind != schema.BelongsTo {
			continue
		}
		child := c.children[name][0]
		childRec, err := child.commitGraph(ctx, exec)
		if err != nil {
			return nil, err
		}
		c.setForeign(assoc.ForeignKey, childRec.ID())
	}

	c.populateAuto()

	op := loom.OpInsert
	var id interface{}
	if c.existing != nil {
		op = loom.OpUpdate
		id = c.existing.ID()
	}

	rec, err := exec.ExecuteWrite(ctx, loom.Write{
		Schema: c.schema,
		Op:     op,
		Values: c.Changes(),
		ID:     id,
	})
	if err != nil {
		return nil, loom.WrapStorage(op.String(), err)
	}
	c.record = rec

	for _, name := range c.childOrder {
		assoc, _ := c.schema.Association(name)
		switch assoc.Kind {
		case schema.BelongsTo:
			rec.AttachOne(name, c.children[name][0].record)
		case schema.HasMany:
			committed := make([]*loom.Record, 0, len(c.children[name]))
			for _, child := range c.children[name] {
				child.setForeign(assoc.ForeignKey, rec.ID())
				childRec, err := child.commitGraph(ctx, exec)
				if err != nil {
					return nil, err
				}
				committed = append(committed, childRec)
			}
			rec.AttachMany(name, committed)
		}
	}

	return rec, nil
}

// runPostCommit invokes post-commit callbacks across the committed graph in
// commit order, collecting failures without unwinding any write.
func (c *Changeset) runPostCommit(errs *[]error) {
	for _, name := range c.childOrder {
		assoc, _ := c.schema.Association(name)
		if assoc.Kind != schema.BelongsTo {
			continue
		}
		c.children[name][0].runPostCommit(errs)
	}

	for _, cb := range c.typ.callbacks {
		if cb.Phase != PostCommit {
			continue
		}
		if err := cb.Fn(c); err != nil {
			*errs = append(*errs, fmt.Errorf("changeset: post-commit callback %s: %w", cb.Name, err))
		}
	}

	for _, name := range c.childOrder {
		assoc, _ := c.schema.Association(name)
		if assoc.Kind != schema.HasMany {
			continue
		}
		for _, child := range c.children[name] {
			child.runPostCommit(errs)
		}
	}
}

// populateAuto fills generated fields the caller did not stage: UUID
// primary keys and creation timestamps on insert, touched timestamps on
// update.
func (c *Changeset) populateAuto() {
	now := time.Now()

	for _, f := range c.schema.Fields() {
		if c.existing == nil {
			if !f.Auto {
				continue
			}
			if _, staged := c.staged[f.Name]; staged {
				continue
			}
			switch f.Type {
			case schema.TypeUUID:
				c.staged[f.Name] = uuid.New()
			case schema.TypeTimestamp:
				c.staged[f.Name] = now
			}
		} else {
			if !f.AutoUpdate || f.Type != schema.TypeTimestamp {
				continue
			}
			if _, staged := c.staged[f.Name]; staged {
				continue
			}
			c.staged[f.Name] = now
		}
	}
}
