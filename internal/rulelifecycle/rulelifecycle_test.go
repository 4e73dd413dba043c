package rulelifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inputlayer/inputlayer/internal/catalog"
	"github.com/inputlayer/inputlayer/internal/snapshot"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

func edgeClause() ast.Clause {
	return ast.Clause{
		Head: ast.Atom{Predicate: "reachable", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}},
		Body: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: ast.Atom{Predicate: "edge", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}}},
		},
	}
}

func newTestController(t *testing.T) (*Controller, *catalog.Catalog) {
	t.Helper()
	cat := catalog.New()
	require.NoError(t, cat.DeclareSchema("edge", []ast.Column{
		{Name: "from", Type: value.KindString},
		{Name: "to", Type: value.KindString},
	}))
	base := map[string][]value.Tuple{
		"edge": {value.NewTuple(value.String("a"), value.String("b"))},
	}
	lookup := func(predicate string) []value.Tuple { return base[predicate] }
	snapshots := snapshot.NewManager()
	return New(cat, snapshots, lookup), cat
}

func TestApplyAddRebuildsAndPublishes(t *testing.T) {
	ctrl, _ := newTestController(t)
	err := ctrl.Apply(context.Background(), Change{Kind: ChangeAdd, Clause: edgeClause()})
	require.NoError(t, err)

	snap := ctrl.snapshots.Acquire()
	defer ctrl.snapshots.Release(snap)
	require.Len(t, snap.Get("reachable"), 1)
	assert.Equal(t, value.String("a"), snap.Get("reachable")[0].Values[0])
}

func TestApplyRejectsUnsafeRuleWithoutMutatingCatalog(t *testing.T) {
	ctrl, cat := newTestController(t)
	before := len(cat.ListClauses(""))

	unsafe := ast.Clause{
		Head: ast.Atom{Predicate: "bad", Args: []ast.Term{ast.VarTerm("X")}},
		Body: []ast.Literal{},
	}
	err := ctrl.Apply(context.Background(), Change{Kind: ChangeAdd, Clause: unsafe})
	require.Error(t, err)
	assert.Equal(t, before, len(cat.ListClauses("")))
}

func TestApplyFactChangeRepublishesOnlyAffectedView(t *testing.T) {
	ctrl, cat := newTestController(t)
	require.NoError(t, cat.DeclareSchema("unrelated", []ast.Column{
		{Name: "x", Type: value.KindString},
	}))
	require.NoError(t, ctrl.Apply(context.Background(), Change{Kind: ChangeAdd, Clause: edgeClause()}))

	snap := ctrl.snapshots.Acquire()
	require.Len(t, snap.Get("reachable"), 1)
	ctrl.snapshots.Release(snap)

	// A write to a relation no view depends on should still publish (so
	// readers observe it) but must not need to re-derive "reachable".
	require.NoError(t, ctrl.ApplyFactChange(context.Background(), "unrelated"))

	snap = ctrl.snapshots.Acquire()
	defer ctrl.snapshots.Release(snap)
	require.Len(t, snap.Get("reachable"), 1)
	assert.Equal(t, value.String("a"), snap.Get("reachable")[0].Values[0])
}
