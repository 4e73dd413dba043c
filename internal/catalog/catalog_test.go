package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

func atom1(pred, v string) ast.Atom {
	return ast.Atom{Predicate: pred, Args: []ast.Term{ast.VarTerm(v)}}
}

func TestDeclareSchemaRejectsIncompatibleRedeclaration(t *testing.T) {
	c := New()
	require.NoError(t, c.DeclareSchema("person", []ast.Column{
		{Name: "id", Type: value.KindInt64},
		{Name: "name", Type: value.KindString},
	}))

	err := c.DeclareSchema("person", []ast.Column{
		{Name: "id", Type: value.KindString},
		{Name: "name", Type: value.KindString},
	})
	require.Error(t, err)
	assert.Equal(t, errs.SchemaConflict, errs.KindOf(err))

	// Re-declaring with the identical shape is idempotent.
	require.NoError(t, c.DeclareSchema("person", []ast.Column{
		{Name: "id", Type: value.KindInt64},
		{Name: "name", Type: value.KindString},
	}))
}

func TestDeclareSchemaRejectsRelationAlreadyAView(t *testing.T) {
	c := New()
	_, err := c.RegisterClause(ast.Clause{
		Head: ast.Atom{Predicate: "reachable", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}},
		Body: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: ast.Atom{Predicate: "edge", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}}},
		},
	})
	require.NoError(t, err)

	err = c.DeclareSchema("reachable", []ast.Column{{Name: "x", Type: value.KindString}})
	require.Error(t, err)
	assert.Equal(t, errs.SchemaConflict, errs.KindOf(err))
}

func TestRegisterClauseRejectsUnsafeRule(t *testing.T) {
	c := New()
	unsafe := ast.Clause{
		Head: ast.Atom{Predicate: "out", Args: []ast.Term{ast.VarTerm("X")}},
		Body: []ast.Literal{},
	}
	_, err := c.RegisterClause(unsafe)
	require.Error(t, err)
	assert.Equal(t, errs.UnsafeRule, errs.KindOf(err))
	assert.Empty(t, c.ListClauses(""))
}

func TestRegisterClauseRejectsNegationCycleAcrossClauses(t *testing.T) {
	c := New()
	_, err := c.RegisterClause(ast.Clause{
		Head: ast.Atom{Predicate: "p", Args: []ast.Term{ast.VarTerm("X")}},
		Body: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: atom1("base", "X")},
			{Kind: ast.LiteralNegative, Atom: atom1("q", "X")},
		},
	})
	require.NoError(t, err)

	_, err = c.RegisterClause(ast.Clause{
		Head: ast.Atom{Predicate: "q", Args: []ast.Term{ast.VarTerm("X")}},
		Body: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: atom1("base", "X")},
			{Kind: ast.LiteralNegative, Atom: atom1("p", "X")},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errs.UnstratifiableProgram, errs.KindOf(err))
	// The rejected clause must not have been installed as a second view clause.
	assert.Len(t, c.ListClauses(""), 1)
}

func TestRegisterClauseRejectsHeadArityMismatchAgainstDeclaredSchema(t *testing.T) {
	c := New()
	require.NoError(t, c.DeclareSchema("reachable", []ast.Column{
		{Name: "from", Type: value.KindString},
	}))

	_, err := c.RegisterClause(ast.Clause{
		Head: ast.Atom{Predicate: "reachable", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}},
		Body: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: ast.Atom{Predicate: "edge", Args: []ast.Term{ast.VarTerm("X"), ast.VarTerm("Y")}}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errs.ArityMismatch, errs.KindOf(err))
}

func TestReplaceClauseIsAtomicOnValidationFailure(t *testing.T) {
	c := New()
	id, err := c.RegisterClause(ast.Clause{
		Head: ast.Atom{Predicate: "p", Args: []ast.Term{ast.VarTerm("X")}},
		Body: []ast.Literal{{Kind: ast.LiteralPositive, Atom: atom1("base", "X")}},
	})
	require.NoError(t, err)

	before, _ := c.GetClause(id)
	unsafe := ast.Clause{Head: ast.Atom{Predicate: "p", Args: []ast.Term{ast.VarTerm("X")}}, Body: []ast.Literal{}}
	err = c.ReplaceClause(id, unsafe)
	require.Error(t, err)

	after, ok := c.GetClause(id)
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestRemoveClauseDropsViewWhenLastClauseForHead(t *testing.T) {
	c := New()
	id, err := c.RegisterClause(ast.Clause{
		Head: ast.Atom{Predicate: "p", Args: []ast.Term{ast.VarTerm("X")}},
		Body: []ast.Literal{{Kind: ast.LiteralPositive, Atom: atom1("base", "X")}},
	})
	require.NoError(t, err)
	_, ok := c.GetRelation("p")
	require.True(t, ok)

	require.NoError(t, c.RemoveClause(id))
	_, ok = c.GetRelation("p")
	assert.False(t, ok)
}

func TestStratifyAssignsLaterStratumAcrossNegation(t *testing.T) {
	clauses := map[string]ClauseRecord{
		"active": {ID: "active", Clause: ast.Clause{
			Head: atom1("active", "X"),
			Body: []ast.Literal{
				{Kind: ast.LiteralPositive, Atom: atom1("person", "X")},
				{Kind: ast.LiteralNegative, Atom: atom1("banned", "X")},
			},
		}},
		"visible": {ID: "visible", Clause: ast.Clause{
			Head: atom1("visible", "X"),
			Body: []ast.Literal{
				{Kind: ast.LiteralPositive, Atom: atom1("person", "X")},
				{Kind: ast.LiteralNegative, Atom: atom1("active", "X")},
			},
		}},
	}
	strata, err := Stratify(clauses)
	require.NoError(t, err)
	assert.Less(t, strata["active"], strata["visible"])
}

func TestStratifyRejectsNegationWithinSameComponent(t *testing.T) {
	clauses := map[string]ClauseRecord{
		"p": {ID: "p", Clause: ast.Clause{
			Head: atom1("p", "X"),
			Body: []ast.Literal{
				{Kind: ast.LiteralPositive, Atom: atom1("base", "X")},
				{Kind: ast.LiteralNegative, Atom: atom1("q", "X")},
			},
		}},
		"q": {ID: "q", Clause: ast.Clause{
			Head: atom1("q", "X"),
			Body: []ast.Literal{
				{Kind: ast.LiteralPositive, Atom: atom1("p", "X")},
			},
		}},
	}
	_, err := Stratify(clauses)
	require.Error(t, err)
	assert.Equal(t, errs.UnstratifiableProgram, errs.KindOf(err))
}

func TestCheckConditionalDeleteSafetyRequiresTargetAtom(t *testing.T) {
	err := CheckConditionalDeleteSafety("person", []ast.Literal{
		{Kind: ast.LiteralPositive, Atom: atom1("other", "X")},
	})
	require.Error(t, err)
	assert.Equal(t, errs.UnsafeRule, errs.KindOf(err))

	err = CheckConditionalDeleteSafety("person", []ast.Literal{
		{Kind: ast.LiteralPositive, Atom: atom1("person", "X")},
	})
	require.NoError(t, err)
}
