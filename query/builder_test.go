package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomdata/loom"
	"github.com/loomdata/loom/preload"
	"github.com/loomdata/loom/schema"
)

// fakeExecutor records descriptors and evaluates structured predicates over an
// in-memory record set, so terminal operations see realistic result sets.
type fakeExecutor struct {
	records []map[string]interface{}
	queries []loom.Query
	err     error
}

func (f *fakeExecutor) ExecuteQuery(_ context.Context, q loom.Query) ([]*loom.Record, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}

	var matched []*loom.Record
	for _, values := range f.records {
		if matchAll(values, q.Predicates) {
			matched = append(matched, loom.NewRecord(q.Schema, values))
		}
	}
	if q.Offset != nil && *q.Offset < len(matched) {
		matched = matched[*q.Offset:]
	} else if q.Offset != nil {
		matched = nil
	}
	if q.Limit != nil && *q.Limit < len(matched) {
		matched = matched[:*q.Limit]
	}
	return matched, nil
}

func (f *fakeExecutor) ExecuteWrite(_ context.Context, w loom.Write) (*loom.Record, error) {
	return loom.NewRecord(w.Schema, w.Values), nil
}

func matchAll(values map[string]interface{}, preds []loom.Predicate) bool {
	for _, p := range preds {
		if !match(values[p.Field], p) {
			return false
		}
	}
	return true
}

func match(v interface{}, p loom.Predicate) bool {
	switch p.Op {
	case loom.OpEqual:
		return v == p.Value
	case loom.OpNotEqual:
		return v != p.Value
	case loom.OpGreaterThan:
		return cmp(v, p.Value) > 0
	case loom.OpGreaterThanOrEqual:
		return cmp(v, p.Value) >= 0
	case loom.OpLessThan:
		return cmp(v, p.Value) < 0
	case loom.OpLessThanOrEqual:
		return cmp(v, p.Value) <= 0
	case loom.OpIn:
		for _, c := range p.Value.([]interface{}) {
			if v == c {
				return true
			}
		}
		return false
	case loom.OpIsNull:
		return v == nil
	case loom.OpIsNotNull:
		return v != nil
	default:
		return false
	}
}

func cmp(a, b interface{}) int {
	ai, aok := a.(int)
	bi, bok := b.(int)
	if aok && bok {
		return ai - bi
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func postSchema(t *testing.T) *schema.Schema {
	t.Helper()
	return schema.MustNew("Post", []schema.FieldDef{
		{Name: "id", Type: schema.TypeString, PrimaryKey: true},
		{Name: "title", Type: schema.TypeString},
		{Name: "rating", Type: schema.TypeInt, Nullable: true},
	}, []schema.AssociationDef{
		{Name: "comments", Kind: schema.HasMany, Target: "Comment"},
	})
}

func seededExecutor() *fakeExecutor {
	return &fakeExecutor{records: []map[string]interface{}{
		{"id": "p1", "title": "first", "rating": 1},
		{"id": "p2", "title": "second", "rating": 3},
		{"id": "p3", "title": "third", "rating": 5},
		{"id": "p4", "title": "fourth", "rating": 4},
	}}
}

func TestBuilderIsLazy(t *testing.T) {
	t.Parallel()

	exec := seededExecutor()
	b := New(postSchema(t), exec, nil)

	b.Where("rating", loom.OpGreaterThanOrEqual, 3).
		OrderByDesc("rating").
		Limit(2)
	assert.Empty(t, exec.queries, "chaining alone must not touch storage")
}

func TestBuilderImmutableChaining(t *testing.T) {
	t.Parallel()

	exec := seededExecutor()
	base := New(postSchema(t), exec, nil)

	highRated := base.Where("rating", loom.OpGreaterThanOrEqual, 4)
	titled := base.Where("title", loom.OpEqual, "first")

	assert.Empty(t, base.Descriptor().Predicates, "base must stay untouched")
	assert.Len(t, highRated.Descriptor().Predicates, 1)
	assert.Len(t, titled.Descriptor().Predicates, 1)

	// Derivations from the shared base are independent of each other.
	ctx := context.Background()
	high, err := highRated.All(ctx)
	require.NoError(t, err)
	assert.Len(t, high, 2)

	first, err := titled.All(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "p1", first[0].ID())
}

func TestWhereSameFieldCombinesWithAnd(t *testing.T) {
	t.Parallel()

	exec := seededExecutor()
	b := New(postSchema(t), exec, nil).
		Where("rating", loom.OpGreaterThanOrEqual, 3).
		Where("rating", loom.OpLessThan, 5)

	desc := b.Descriptor()
	require.Len(t, desc.Predicates, 2)
	assert.Equal(t, loom.OpGreaterThanOrEqual, desc.Predicates[0].Op)
	assert.Equal(t, loom.OpLessThan, desc.Predicates[1].Op)

	records, err := b.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2) // ratings 3 and 4
}

func TestWhereOrderIndependentForDistinctFields(t *testing.T) {
	t.Parallel()

	ab := New(postSchema(t), seededExecutor(), nil).
		Where("rating", loom.OpGreaterThanOrEqual, 3).
		Where("title", loom.OpNotEqual, "second")
	ba := New(postSchema(t), seededExecutor(), nil).
		Where("title", loom.OpNotEqual, "second").
		Where("rating", loom.OpGreaterThanOrEqual, 3)

	ctx := context.Background()
	got1, err := ab.All(ctx)
	require.NoError(t, err)
	got2, err := ba.All(ctx)
	require.NoError(t, err)

	ids := func(recs []*loom.Record) []interface{} {
		var out []interface{}
		for _, r := range recs {
			out = append(out, r.ID())
		}
		return out
	}
	assert.ElementsMatch(t, ids(got1), ids(got2))
}

func TestWherePanicsOnBadConstruction(t *testing.T) {
	t.Parallel()

	b := New(postSchema(t), seededExecutor(), nil)

	assertConstructionPanic(t, func() { b.Where("nope", loom.OpEqual, 1) })
	assertConstructionPanic(t, func() { b.Where("title", loom.OpEqual, 42) })
	assertConstructionPanic(t, func() { b.Where("rating", loom.OpIn, 5) })
	assertConstructionPanic(t, func() { b.Where("rating", loom.OpIsNull, 5) })
	assertConstructionPanic(t, func() { b.OrderByAsc("nope") })
	assertConstructionPanic(t, func() { b.Preload("nope") })
}

func assertConstructionPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a construction panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, loom.IsConstruction(err), "panic value: %v", err)
	}()
	fn()
}

func TestAllReturnsEmptySliceNotError(t *testing.T) {
	t.Parallel()

	b := New(postSchema(t), seededExecutor(), nil).
		Where("rating", loom.OpGreaterThan, 100)

	records, err := b.All(context.Background())
	require.NoError(t, err)
	require.NotNil(t, records)
	assert.Empty(t, records)
}

func TestFirstAndLast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec := seededExecutor()
	b := New(postSchema(t), exec, nil)

	_, err := b.First(ctx)
	require.NoError(t, err)
	require.NotNil(t, exec.queries[0].Limit)
	assert.Equal(t, 1, *exec.queries[0].Limit)

	// Last flips the declared ordering.
	_, err = b.OrderByAsc("rating").Last(ctx)
	require.NoError(t, err)
	last := exec.queries[1]
	require.Len(t, last.Order, 1)
	assert.True(t, last.Order[0].Desc)

	// Without an ordering, Last falls back to primary key descending.
	_, err = b.Last(ctx)
	require.NoError(t, err)
	fallback := exec.queries[2]
	require.Len(t, fallback.Order, 1)
	assert.Equal(t, "id", fallback.Order[0].Field)
	assert.True(t, fallback.Order[0].Desc)

	// No match is a typed not-found error.
	_, err = b.Where("title", loom.OpEqual, "missing").First(ctx)
	require.Error(t, err)
	assert.True(t, loom.IsNotFound(err))
	assert.True(t, errors.Is(err, loom.ErrNotFound))
}

func TestWhereFuncFiltersInMemory(t *testing.T) {
	t.Parallel()

	exec := seededExecutor()
	b := New(postSchema(t), exec, nil).
		WhereFunc(func(r *loom.Record) bool {
			rating, _ := r.Get("rating")
			return rating.(int)%2 == 1
		}).
		Limit(1)

	records, err := b.All(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].ID())

	// The limit must not be pushed to storage: it applies after the closure
	// filter, so the executor sees the unbounded query.
	require.Len(t, exec.queries, 1)
	assert.Nil(t, exec.queries[0].Limit)
}

func TestScopesCompose(t *testing.T) {
	t.Parallel()

	highRated := func(b *Builder) *Builder {
		return b.Where("rating", loom.OpGreaterThanOrEqual, 4)
	}
	notFourth := func(b *Builder) *Builder {
		return b.Where("title", loom.OpNotEqual, "fourth")
	}

	records, err := New(postSchema(t), seededExecutor(), nil).
		Apply(highRated, notFourth).
		All(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p3", records[0].ID())
}

func TestCountEachExists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := New(postSchema(t), seededExecutor(), nil)

	n, err := b.Where("rating", loom.OpGreaterThanOrEqual, 3).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var seen int
	err = b.Each(ctx, func(*loom.Record) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, seen)

	stop := errors.New("stop")
	err = b.Each(ctx, func(*loom.Record) error { return stop })
	assert.ErrorIs(t, err, stop)

	ok, err := b.Where("title", loom.OpEqual, "third").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Where("title", loom.OpEqual, "missing").Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllWrapsStorageErrors(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{err: errors.New("connection refused")}
	_, err := New(postSchema(t), exec, nil).All(context.Background())
	require.Error(t, err)
	assert.True(t, loom.IsStorage(err))
	assert.ErrorContains(t, err, "connection refused")
}

func TestPreloadThroughBuilder(t *testing.T) {
	t.Parallel()

	registry := schema.NewRegistry()
	post := schema.MustNew("Post", []schema.FieldDef{
		{Name: "id", Type: schema.TypeString, PrimaryKey: true},
		{Name: "title", Type: schema.TypeString},
		{Name: "rating", Type: schema.TypeInt, Nullable: true},
	}, []schema.AssociationDef{
		{Name: "comments", Kind: schema.HasMany, Target: "Comment"},
	})
	comment := schema.MustNew("Comment", []schema.FieldDef{
		{Name: "id", Type: schema.TypeString, PrimaryKey: true},
		{Name: "post_id", Type: schema.TypeString},
		{Name: "body", Type: schema.TypeText},
	}, nil)
	registry.MustRegister(post)
	registry.MustRegister(comment)

	exec := &routingExecutor{
		bySchema: map[string][]map[string]interface{}{
			"Post": {
				{"id": "p1", "title": "first", "rating": 1},
				{"id": "p2", "title": "second", "rating": 3},
			},
			"Comment": {
				{"id": "c1", "post_id": "p1", "body": "hi"},
				{"id": "c2", "post_id": "p1", "body": "there"},
			},
		},
	}

	b := New(post, exec, preload.NewPlanner(exec, registry)).Preload("comments")
	records, err := b.All(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Primary query plus exactly one batch query for the association.
	assert.Equal(t, 2, exec.calls)

	c1, loaded := records[0].Many("comments")
	require.True(t, loaded)
	assert.Len(t, c1, 2)

	c2, loaded := records[1].Many("comments")
	require.True(t, loaded)
	require.NotNil(t, c2)
	assert.Empty(t, c2)
}

// routingExecutor serves canned rows per schema and counts round trips.
type routingExecutor struct {
	bySchema map[string][]map[string]interface{}
	calls    int
}

func (r *routingExecutor) ExecuteQuery(_ context.Context, q loom.Query) ([]*loom.Record, error) {
	r.calls++
	var out []*loom.Record
	for _, values := range r.bySchema[q.Schema.Name()] {
		if matchAll(values, q.Predicates) {
			out = append(out, loom.NewRecord(q.Schema, values))
		}
	}
	return out, nil
}

func (r *routingExecutor) ExecuteWrite(_ context.Context, w loom.Write) (*loom.Record, error) {
	return loom.NewRecord(w.Schema, w.Values), nil
}
