package dataflow

import (
	"context"
	"errors"

	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// cancellationError maps a context error to the matching errs kind, so
// callers further up (internal/query's Run) can distinguish an expired
// deadline from an explicit cancellation per spec.
func cancellationError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.New(errs.Timeout, "evaluation exceeded deadline")
	}
	return errs.New(errs.Cancelled, "evaluation cancelled")
}

// FactLookup returns the currently known tuples for a predicate: either
// a base relation's consolidated snapshot, a lower stratum's already-
// fixpointed view, or (during semi-naive iteration) a same-stratum
// view's accumulated total.
type FactLookup func(predicate string) []value.Tuple

// override pins one specific body-literal index to a fixed fact set
// (the delta) instead of consulting lookup — the semi-naive "rule
// splitting" trick: each round, exactly one recursive atom position
// joins against the delta so every newly derivable tuple is produced at
// least once without re-deriving tuples already known.
type override struct {
	index int
	facts []value.Tuple
}

// evalClauseBody joins a clause's body literals left to right, starting
// from a single empty binding, and returns every binding that satisfies
// the whole body.
func evalClauseBody(ctx context.Context, body []ast.Literal, lookup FactLookup, ov *override) ([]Binding, error) {
	return evalClauseBodyFrom(ctx, body, lookup, ov, []Binding{{}})
}

// EvalBody is the query executor's entry point into the same join engine
// the dataflow compiler uses for persistent views: it runs body once,
// fully (no semi-naive splitting), against lookup. ctx is checked between
// literals, so a canceled or expired query stops at the next body literal
// instead of running the rest of the join to completion.
func EvalBody(ctx context.Context, body []ast.Literal, lookup FactLookup) ([]Binding, error) {
	return evalClauseBody(ctx, body, lookup, nil)
}

// evalClauseBodyFrom joins body starting from a caller-supplied set of
// seed bindings, used by aggregate literals to carry the outer clause's
// already-bound variables into the aggregate's own inner join.
func evalClauseBodyFrom(ctx context.Context, body []ast.Literal, lookup FactLookup, ov *override, seed []Binding) ([]Binding, error) {
	bindings := seed

	for i, lit := range body {
		if err := ctx.Err(); err != nil {
			return nil, cancellationError(err)
		}
		var err error
		switch lit.Kind {
		case ast.LiteralPositive:
			facts := lookup(lit.Atom.Predicate)
			if ov != nil && ov.index == i {
				facts = ov.facts
			}
			bindings, err = joinAtom(lit.Atom, facts, bindings)
		case ast.LiteralNegative:
			facts := lookup(lit.Atom.Predicate)
			bindings, err = antiJoinAtom(lit.Atom, facts, bindings)
		case ast.LiteralCompare:
			bindings, err = filterCompare(lit, bindings)
		case ast.LiteralBind:
			bindings, err = applyBind(lit, bindings)
		case ast.LiteralBuiltin:
			bindings, err = filterBuiltin(lit, bindings)
		case ast.LiteralAggregate:
			bindings, err = reduceAggregate(ctx, lit, lookup, bindings)
		default:
			return nil, errs.New(errs.InternalError, "unknown literal kind")
		}
		if err != nil {
			return nil, err
		}
		if len(bindings) == 0 {
			return nil, nil
		}
	}
	return bindings, nil
}

// joinAtom extends each existing binding with every fact tuple whose
// arguments unify against the atom's terms.
func joinAtom(atom ast.Atom, facts []value.Tuple, bindings []Binding) ([]Binding, error) {
	if len(bindings) == 0 {
		return nil, nil
	}
	out := make([]Binding, 0, len(bindings)*len(facts))
	for _, b := range bindings {
		for _, t := range facts {
			if len(t.Values) != len(atom.Args) {
				continue
			}
			extended, ok := unify(atom.Args, t, b)
			if ok {
				out = append(out, extended)
			}
		}
	}
	return out, nil
}

// unify attempts to extend b so that atom.Args matches tuple t,
// binding previously-unbound variables and checking previously-bound
// variables and constants for equality.
func unify(args []ast.Term, t value.Tuple, b Binding) (Binding, bool) {
	next := b.clone()
	for i, arg := range args {
		val := t.Values[i]
		if arg.Anonymous {
			continue
		}
		if arg.IsConst() {
			if !arg.Const.Equal(val) {
				return nil, false
			}
			continue
		}
		if existing, ok := next[arg.Variable]; ok {
			if !existing.Equal(val) {
				return nil, false
			}
			continue
		}
		next[arg.Variable] = val
	}
	return next, true
}

// antiJoinAtom keeps only bindings for which no fact matches the
// negated atom under the current bindings — spec §4.4's antijoin.
func antiJoinAtom(atom ast.Atom, facts []value.Tuple, bindings []Binding) ([]Binding, error) {
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		matched := false
		for _, t := range facts {
			if len(t.Values) != len(atom.Args) {
				continue
			}
			if _, ok := unify(atom.Args, t, b); ok {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, b)
		}
	}
	return out, nil
}

func filterCompare(lit ast.Literal, bindings []Binding) ([]Binding, error) {
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		l, err := evalExpr(lit.Lhs, b)
		if err != nil {
			return nil, err
		}
		r, err := evalExpr(lit.Rhs, b)
		if err != nil {
			return nil, err
		}
		ok, err := compareValues(lit.CompareOp, l, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// applyBind evaluates a clause's Bind expression for each binding. A
// division by zero or a domain error on a numeric builtin (sqrt of a
// negative, log of a non-positive — pkg/value's Div/Sqrt/Log) evaluates
// to Null rather than erroring; per spec, that drops the binding from
// the derivation instead of carrying a Null column forward.
func applyBind(lit ast.Literal, bindings []Binding) ([]Binding, error) {
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		v, err := evalExpr(lit.BindExpr, b)
		if err != nil {
			return nil, err
		}
		if v.Kind() == value.KindNull {
			continue
		}
		next := b.clone()
		next[lit.BindVar] = v
		out = append(out, next)
	}
	return out, nil
}

func filterBuiltin(lit ast.Literal, bindings []Binding) ([]Binding, error) {
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		args := make([]value.Value, 0, len(lit.BuiltinArgs))
		for _, a := range lit.BuiltinArgs {
			v, err := evalExpr(a, b)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		ok, err := callBuiltinPredicate(lit.BuiltinName, args)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// projectHead builds the head tuple for clause from a satisfying
// binding.
func projectHead(head ast.Atom, b Binding) (value.Tuple, error) {
	vals := make([]value.Value, len(head.Args))
	for i, arg := range head.Args {
		v, ok := resolveTerm(arg, b)
		if !ok {
			return value.Tuple{}, errs.New(errs.UnsafeRule, "head references unbound variable "+arg.Variable)
		}
		vals[i] = v
	}
	return value.NewTuple(vals...), nil
}
