package preload

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/loomdata/loom"
	"github.com/loomdata/loom/schema"
)

// ErrUnknownAssociation is returned when a request names an association the
// schema does not declare.
var ErrUnknownAssociation = errors.New("preload: unknown association")

// Planner loads associations for batches of records. One query is issued per
// request node regardless of batch size; an empty batch or an empty key set
// issues no query at all.
type Planner struct {
	exec     loom.Executor
	registry *schema.Registry
	log      *zap.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithLogger sets the logger used for per-batch debug entries.
func WithLogger(log *zap.Logger) PlannerOption {
	return func(p *Planner) {
		p.log = log
	}
}

// NewPlanner creates a planner that loads associated records through exec,
// resolving association targets through the registry.
func NewPlanner(exec loom.Executor, registry *schema.Registry, opts ...PlannerOption) *Planner {
	p := &Planner{
		exec:     exec,
		registry: registry,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load walks the request tree and attaches every requested association to
// the given records. Each nested level is loaded only after its parent batch
// is fully loaded.
func (p *Planner) Load(ctx context.Context, records []*loom.Record, s *schema.Schema, reqs []Request) error {
	if len(records) == 0 || len(reqs) == 0 {
		return nil
	}

	for _, req := range reqs {
		assoc, ok := s.Association(req.Assoc)
		if !ok {
			return fmt.Errorf("%w: %s on %s", ErrUnknownAssociation, req.Assoc, s.Name())
		}

		target, ok := p.registry.Get(assoc.Target)
		if !ok {
			return fmt.Errorf("preload: association %s targets unregistered schema %s", assoc.Name, assoc.Target)
		}

		var loaded []*loom.Record
		var err error
		switch assoc.Kind {
		case schema.BelongsTo:
			loaded, err = p.loadBelongsTo(ctx, records, assoc, target, req.Scope)
		case schema.HasMany:
			loaded, err = p.loadHasMany(ctx, records, assoc, target, req.Scope)
		default:
			err = fmt.Errorf("preload: unsupported association kind %s", assoc.Kind)
		}
		if err != nil {
			return fmt.Errorf("preload %s: %w", assoc.Name, err)
		}

		if len(req.Nested) > 0 && len(loaded) > 0 {
			if err := p.Load(ctx, loaded, target, req.Nested); err != nil {
				return err
			}
		}
	}

	return nil
}

// loadBelongsTo loads a belongs-to association for the batch in one query:
// collect the distinct foreign-key values, fetch the target rows keyed by
// primary key, and attach the single match (or nil) to each record.
func (p *Planner) loadBelongsTo(
	ctx context.Context,
	records []*loom.Record,
	assoc *schema.Association,
	target *schema.Schema,
	scope []loom.Predicate,
) ([]*loom.Record, error) {
	var keys []interface{}
	seen := make(map[string]bool)

	for _, rec := range records {
		fk, ok := rec.Get(assoc.ForeignKey)
		if !ok || fk == nil {
			// Nothing to join against: loaded, none found.
			rec.AttachOne(assoc.Name, nil)
			continue
		}
		ks, err := keyString(fk)
		if err != nil {
			return nil, fmt.Errorf("invalid foreign key value for %s: %w", assoc.ForeignKey, err)
		}
		if !seen[ks] {
			seen[ks] = true
			keys = append(keys, fk)
		}
	}

	if len(keys) == 0 {
		return nil, nil
	}

	results, err := p.batchQuery(ctx, target, target.PrimaryKey().Name, keys, scope, assoc.Name)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*loom.Record, len(results))
	for _, rec := range results {
		ks, err := keyString(rec.ID())
		if err != nil {
			return nil, fmt.Errorf("invalid primary key in results: %w", err)
		}
		byKey[ks] = rec
	}

	for _, rec := range records {
		fk, ok := rec.Get(assoc.ForeignKey)
		if !ok || fk == nil {
			continue
		}
		ks, err := keyString(fk)
		if err != nil {
			return nil, err
		}
		rec.AttachOne(assoc.Name, byKey[ks])
	}

	return results, nil
}

// loadHasMany loads a has-many association for the batch in one query:
// collect the primary keys, fetch the target rows keyed by foreign key,
// partition them by key, and attach the matching subset to each record. A
// record with no matches gets an empty, non-nil collection.
func (p *Planner) loadHasMany(
	ctx context.Context,
	records []*loom.Record,
	assoc *schema.Association,
	target *schema.Schema,
	scope []loom.Predicate,
) ([]*loom.Record, error) {
	var keys []interface{}
	seen := make(map[string]bool)

	for _, rec := range records {
		id := rec.ID()
		if id == nil {
			rec.AttachMany(assoc.Name, nil)
			continue
		}
		ks, err := keyString(id)
		if err != nil {
			return nil, fmt.Errorf("invalid primary key value: %w", err)
		}
		if !seen[ks] {
			seen[ks] = true
			keys = append(keys, id)
		}
	}

	if len(keys) == 0 {
		return nil, nil
	}

	results, err := p.batchQuery(ctx, target, assoc.ForeignKey, keys, scope, assoc.Name)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]*loom.Record)
	for _, rec := range results {
		fk, _ := rec.Get(assoc.ForeignKey)
		ks, err := keyString(fk)
		if err != nil {
			return nil, fmt.Errorf("invalid foreign key in results: %w", err)
		}
		grouped[ks] = append(grouped[ks], rec)
	}

	for _, rec := range records {
		if rec.ID() == nil {
			continue
		}
		ks, err := keyString(rec.ID())
		if err != nil {
			return nil, err
		}
		rec.AttachMany(assoc.Name, grouped[ks])
	}

	return results, nil
}

// batchQuery issues the single secondary query for one association node.
func (p *Planner) batchQuery(
	ctx context.Context,
	target *schema.Schema,
	keyField string,
	keys []interface{},
	scope []loom.Predicate,
	assocName string,
) ([]*loom.Record, error) {
	preds := make([]loom.Predicate, 0, 1+len(scope))
	preds = append(preds, loom.Predicate{Field: keyField, Op: loom.OpIn, Value: keys})
	preds = append(preds, scope...)

	p.log.Debug("preload batch",
		zap.String("association", assocName),
		zap.String("target", target.Name()),
		zap.Int("keys", len(keys)),
	)

	results, err := p.exec.ExecuteQuery(ctx, loom.Query{
		Schema:     target,
		Predicates: preds,
	})
	if err != nil {
		return nil, loom.WrapStorage("query", err)
	}
	return results, nil
}

// keyString converts a join key to its canonical map key. Supports the
// common identity types: string, integers, []byte and fmt.Stringer values
// such as uuid.UUID.
func keyString(key interface{}) (string, error) {
	if key == nil {
		return "", fmt.Errorf("key cannot be nil")
	}

	switch v := key.(type) {
	case string:
		return v, nil
	case int:
		return fmt.Sprintf("%d", v), nil
	case int32:
		return fmt.Sprintf("%d", v), nil
	case int64:
		return fmt.Sprintf("%d", v), nil
	case uint:
		return fmt.Sprintf("%d", v), nil
	case uint64:
		return fmt.Sprintf("%d", v), nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
