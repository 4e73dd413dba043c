package dataflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

func scoreAtom(name string, a, b ast.Term) ast.Literal {
	return ast.Literal{Kind: ast.LiteralPositive, Atom: ast.Atom{Predicate: name, Args: []ast.Term{a, b}}}
}

func termExpr(v string) ast.Expr { return ast.Expr{Kind: "term", Term: ast.VarTerm(v)} }

func TestReduceAggregateCountGroupsByOuterBinding(t *testing.T) {
	facts := map[string][]value.Tuple{
		"purchase": {
			value.NewTuple(value.String("alice"), value.String("widget")),
			value.NewTuple(value.String("alice"), value.String("gadget")),
			value.NewTuple(value.String("bob"), value.String("widget")),
		},
	}
	lookup := fixedLookup(facts)

	outer := []Binding{
		{"User": value.String("alice")},
		{"User": value.String("bob")},
	}
	lit := ast.Literal{
		Kind:         ast.LiteralAggregate,
		AggKind:      ast.AggCount,
		AggResultVar: "N",
		AggBody:      []ast.Literal{scoreAtom("purchase", ast.VarTerm("User"), ast.VarTerm("Item"))},
	}

	out, err := reduceAggregate(context.Background(), lit, lookup, outer)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, value.Int64(2), out[0]["N"])
	assert.Equal(t, value.Int64(1), out[1]["N"])
}

func TestReduceAggregateSumAndAvg(t *testing.T) {
	facts := map[string][]value.Tuple{
		"score": {
			value.NewTuple(value.String("alice"), value.Int64(10)),
			value.NewTuple(value.String("alice"), value.Int64(20)),
		},
	}
	lookup := fixedLookup(facts)
	outer := []Binding{{"User": value.String("alice")}}

	sumLit := ast.Literal{
		Kind:         ast.LiteralAggregate,
		AggKind:      ast.AggSum,
		AggResultVar: "Total",
		AggExpr:      termExpr("V"),
		AggBody:      []ast.Literal{scoreAtom("score", ast.VarTerm("User"), ast.VarTerm("V"))},
	}
	out, err := reduceAggregate(context.Background(), sumLit, lookup, outer)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, value.Float64(30), out[0]["Total"])

	avgLit := sumLit
	avgLit.AggKind = ast.AggAvg
	avgLit.AggResultVar = "Avg"
	out, err = reduceAggregate(context.Background(), avgLit, lookup, outer)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, value.Float64(15), out[0]["Avg"])
}

func TestReduceAggregateEmptyGroupDropsForSumButNotCount(t *testing.T) {
	lookup := fixedLookup(map[string][]value.Tuple{})
	outer := []Binding{{"User": value.String("nobody")}}

	sumLit := ast.Literal{
		Kind:         ast.LiteralAggregate,
		AggKind:      ast.AggSum,
		AggResultVar: "Total",
		AggExpr:      termExpr("V"),
		AggBody:      []ast.Literal{scoreAtom("score", ast.VarTerm("User"), ast.VarTerm("V"))},
	}
	out, err := reduceAggregate(context.Background(), sumLit, lookup, outer)
	require.NoError(t, err)
	assert.Empty(t, out)

	countLit := sumLit
	countLit.AggKind = ast.AggCount
	countLit.AggResultVar = "N"
	out, err = reduceAggregate(context.Background(), countLit, lookup, outer)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, value.Int64(0), out[0]["N"])
}

func TestReduceAggregateTopKOrdersAndLimits(t *testing.T) {
	facts := map[string][]value.Tuple{
		"dist": {
			value.NewTuple(value.String("q"), value.String("a"), value.Float64(3)),
			value.NewTuple(value.String("q"), value.String("b"), value.Float64(1)),
			value.NewTuple(value.String("q"), value.String("c"), value.Float64(2)),
		},
	}
	lookup := fixedLookup(facts)
	outer := []Binding{{"Q": value.String("q")}}

	lit := ast.Literal{
		Kind:         ast.LiteralAggregate,
		AggKind:      ast.AggTopK,
		AggResultVar: "D",
		AggExpr:      termExpr("Dist"),
		AggK:         2,
		AggBody: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: ast.Atom{
				Predicate: "dist",
				Args:      []ast.Term{ast.VarTerm("Q"), ast.VarTerm("Item"), ast.VarTerm("Dist")},
			}},
		},
	}
	out, err := reduceAggregate(context.Background(), lit, lookup, outer)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, value.Float64(1), out[0]["D"])
	assert.Equal(t, value.Float64(2), out[1]["D"])
}

func TestReduceAggregateWithinRadiusFiltersByThreshold(t *testing.T) {
	facts := map[string][]value.Tuple{
		"dist": {
			value.NewTuple(value.String("q"), value.String("a"), value.Float64(3)),
			value.NewTuple(value.String("q"), value.String("b"), value.Float64(1)),
		},
	}
	lookup := fixedLookup(facts)
	outer := []Binding{{"Q": value.String("q")}}

	lit := ast.Literal{
		Kind:         ast.LiteralAggregate,
		AggKind:      ast.AggWithinRadius,
		AggResultVar: "D",
		AggExpr:      termExpr("Dist"),
		AggThreshold: value.Float64(2),
		AggBody: []ast.Literal{
			{Kind: ast.LiteralPositive, Atom: ast.Atom{
				Predicate: "dist",
				Args:      []ast.Term{ast.VarTerm("Q"), ast.VarTerm("Item"), ast.VarTerm("Dist")},
			}},
		},
	}
	out, err := reduceAggregate(context.Background(), lit, lookup, outer)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, value.Float64(1), out[0]["D"])
}
