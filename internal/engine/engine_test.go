package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inputlayer/inputlayer/internal/config"
	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/internal/rulelifecycle"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), "test", config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func edgeAtom(a, b ast.Term) ast.Atom {
	return ast.Atom{Predicate: "edge", Args: []ast.Term{a, b}}
}

func TestInsertFactIsVisibleInQueryAfterRepublish(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertFact(ctx, "edge", value.NewTuple(value.String("a"), value.String("b"))))

	rows, err := e.Query(ctx, nil, ast.Statement{
		Kind:      ast.StmtQuery,
		QueryBody: []ast.Literal{{Kind: ast.LiteralPositive, Atom: edgeAtom(ast.VarTerm("X"), ast.VarTerm("Y"))}},
		Project:   []string{"X", "Y"},
	})
	require.NoError(t, err)
	require.Len(t, rows.Values, 1)
	assert.Equal(t, "a", rows.Values[0][0])
	assert.Equal(t, "b", rows.Values[0][1])
}

func TestInsertFactRejectsWriteToView(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	clause := ast.Clause{
		Head: ast.Atom{Predicate: "reachable", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}},
		Body: []ast.Literal{{Kind: ast.LiteralPositive, Atom: edgeAtom(ast.VarTerm("X"), ast.VarTerm("Y"))}},
	}
	require.NoError(t, e.ApplyRuleChange(ctx, rulelifecycle.Change{Kind: rulelifecycle.ChangeAdd, Clause: clause}))

	err := e.InsertFact(ctx, "reachable", value.NewTuple(value.String("a"), value.String("b")))
	require.Error(t, err)
}

func TestRuleChangeMaterializesTransitiveClosure(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertFact(ctx, "edge", value.NewTuple(value.String("a"), value.String("b"))))
	require.NoError(t, e.InsertFact(ctx, "edge", value.NewTuple(value.String("b"), value.String("c"))))

	clause := ast.Clause{
		Head: ast.Atom{Predicate: "reachable", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}},
		Body: []ast.Literal{{Kind: ast.LiteralPositive, Atom: edgeAtom(ast.VarTerm("X"), ast.VarTerm("Y"))}},
	}
	require.NoError(t, e.ApplyRuleChange(ctx, rulelifecycle.Change{Kind: rulelifecycle.ChangeAdd, Clause: clause}))

	recur := ast.Clause{
		Head: ast.Atom{Predicate: "reachable", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Z")}},
		Body: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: ast.Atom{Predicate: "reachable", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}}},
			{Kind: ast.LiteralPositive, Atom: edgeAtom(ast.VarTerm("Y"), ast.VarTerm("Z"))},
		},
	}
	require.NoError(t, e.ApplyRuleChange(ctx, rulelifecycle.Change{Kind: rulelifecycle.ChangeAdd, Clause: recur}))

	rows, err := e.Query(ctx, nil, ast.Statement{
		Kind: ast.StmtQuery,
		QueryBody: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: ast.Atom{Predicate: "reachable", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}}},
		},
		Project: []string{"X", "Y"},
	})
	require.NoError(t, err)
	assert.Len(t, rows.Values, 3) // a-b, b-c, a-c
}

func TestQueryAppliesStratifiedNegationAcrossViews(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertFact(ctx, "person", value.NewTuple(value.String("alice"))))
	require.NoError(t, e.InsertFact(ctx, "person", value.NewTuple(value.String("bob"))))
	require.NoError(t, e.InsertFact(ctx, "banned", value.NewTuple(value.String("bob"))))

	clause := ast.Clause{
		Head: ast.Atom{Predicate: "active", Args: []ast.Term{ast.VarTerm("X")}},
		Body: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: ast.Atom{Predicate: "person", Args: []ast.Term{ast.VarTerm("X")}}},
			{Kind: ast.LiteralNegative, Atom: ast.Atom{Predicate: "banned", Args: []ast.Term{ast.VarTerm("X")}}},
		},
	}
	require.NoError(t, e.ApplyRuleChange(ctx, rulelifecycle.Change{Kind: rulelifecycle.ChangeAdd, Clause: clause}))

	rows, err := e.Query(ctx, nil, ast.Statement{
		Kind:      ast.StmtQuery,
		QueryBody: []ast.Literal{{Kind: ast.LiteralPositive, Atom: ast.Atom{Predicate: "active", Args: []ast.Term{ast.VarTerm("X")}}}},
		Project:   []string{"X"},
	})
	require.NoError(t, err)
	require.Len(t, rows.Values, 1)
	assert.Equal(t, "alice", rows.Values[0][0])
}

func TestQueryAggregatesThroughPersistentView(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertFact(ctx, "customer", value.NewTuple(value.String("alice"))))
	require.NoError(t, e.InsertFact(ctx, "customer", value.NewTuple(value.String("bob"))))
	require.NoError(t, e.InsertFact(ctx, "purchase", value.NewTuple(value.String("alice"), value.String("widget"), value.Int64(10))))
	require.NoError(t, e.InsertFact(ctx, "purchase", value.NewTuple(value.String("alice"), value.String("gadget"), value.Int64(20))))
	require.NoError(t, e.InsertFact(ctx, "purchase", value.NewTuple(value.String("bob"), value.String("widget"), value.Int64(5))))

	clause := ast.Clause{
		Head: ast.Atom{Predicate: "total", Args: []ast.Term{ast.VarTerm("User"), ast.VarTerm("Total")}},
		Body: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: ast.Atom{Predicate: "customer", Args: []ast.Term{ast.VarTerm("User")}}},
			{
				Kind:         ast.LiteralAggregate,
				AggKind:      ast.AggSum,
				AggResultVar: "Total",
				AggExpr:      ast.Expr{Kind: "term", Term: ast.VarTerm("Price")},
				AggBody: []ast.Literal{
					{Kind: ast.LiteralPositive, Atom: ast.Atom{
						Predicate: "purchase",
						Args:      []ast.Term{ast.VarTerm("User"), ast.VarTerm("Item"), ast.VarTerm("Price")},
					}},
				},
			},
		},
	}
	require.NoError(t, e.ApplyRuleChange(ctx, rulelifecycle.Change{Kind: rulelifecycle.ChangeAdd, Clause: clause}))

	rows, err := e.Query(ctx, nil, ast.Statement{
		Kind: ast.StmtQuery,
		QueryBody: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: ast.Atom{Predicate: "total", Args: []ast.Term{ast.VarTerm("User"), ast.VarTerm("Total")}}},
		},
		Project: []string{"User", "Total"},
		Order:   []ast.OrderBy{{Column: "User"}},
	})
	require.NoError(t, err)
	require.Len(t, rows.Values, 2)
	assert.Equal(t, "alice", rows.Values[0][0])
	assert.Equal(t, float64(30), rows.Values[0][1])
	assert.Equal(t, "bob", rows.Values[1][0])
	assert.Equal(t, float64(5), rows.Values[1][1])
}

func TestInsertFactRejectsValueDisagreeingWithDeclaredSchema(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.catalog.DeclareSchema("person", []ast.Column{
		{Name: "id", Type: value.KindInt64},
		{Name: "name", Type: value.KindString},
	}))

	err := e.InsertFact(ctx, "person", value.NewTuple(value.String("x"), value.String("y")))
	require.Error(t, err)
	assert.Equal(t, errs.TypeError, errs.KindOf(err))
}

func TestSearchIndexFindsNearestVectorThroughEngineFacade(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.catalog.DeclareSchema("doc", []ast.Column{
		{Name: "id", Type: value.KindString},
		{Name: "embedding", Type: value.KindVectorF32},
	}))
	require.NoError(t, e.InsertFact(ctx, "doc", value.NewTuple(value.String("a"), value.VectorF32([]float32{1, 0, 0}))))
	require.NoError(t, e.InsertFact(ctx, "doc", value.NewTuple(value.String("b"), value.VectorF32([]float32{0, 1, 0}))))
	require.NoError(t, e.InsertFact(ctx, "doc", value.NewTuple(value.String("c"), value.VectorF32([]float32{0, 0, 1}))))

	require.NoError(t, e.CreateIndex(ast.IndexSpec{
		Name:           "doc-embedding",
		Relation:       "doc",
		Column:         "embedding",
		Metric:         ast.MetricCosine,
		M:              8,
		EfConstruction: 32,
	}))

	candidates, err := e.SearchIndex("doc-embedding", []float32{0.9, 0.1, 0}, 1, 16)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, value.NewTuple(value.String("a"), value.VectorF32([]float32{1, 0, 0})).Key(), candidates[0].ID)
}

func TestConcurrentQueriesDuringInterleavedWrites(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = e.InsertFact(ctx, "edge", value.NewTuple(value.String(fmt.Sprintf("n%d", i)), value.String(fmt.Sprintf("n%d", i+1))))
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := e.Query(ctx, nil, ast.Statement{
				Kind:      ast.StmtQuery,
				QueryBody: []ast.Literal{{Kind: ast.LiteralPositive, Atom: edgeAtom(ast.VarTerm("X"), ast.VarTerm("Y"))}},
				Project:   []string{"X", "Y"},
			})
			assert.NoError(t, err)
		}
	}()

	wg.Wait()

	rows, err := e.Query(ctx, nil, ast.Statement{
		Kind:      ast.StmtQuery,
		QueryBody: []ast.Literal{{Kind: ast.LiteralPositive, Atom: edgeAtom(ast.VarTerm("X"), ast.VarTerm("Y"))}},
		Project:   []string{"X", "Y"},
	})
	require.NoError(t, err)
	assert.Len(t, rows.Values, 50)
}

func TestStatusReportsRelationAndViewCounts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	clause := ast.Clause{
		Head: ast.Atom{Predicate: "reachable", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}},
		Body: []ast.Literal{{Kind: ast.LiteralPositive, Atom: edgeAtom(ast.VarTerm("X"), ast.VarTerm("Y"))}},
	}
	require.NoError(t, e.ApplyRuleChange(ctx, rulelifecycle.Change{Kind: rulelifecycle.ChangeAdd, Clause: clause}))

	st := e.Status()
	assert.Equal(t, 1, st.ViewCount)
	assert.GreaterOrEqual(t, st.RelationCount, 1)
}
