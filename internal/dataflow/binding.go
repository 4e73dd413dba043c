// Package dataflow implements spec §4.4's operator graph as an in-process
// semi-naïve evaluator over consolidated multisets, grounded in the
// teacher's worker-pool shape (pkg/manager's goroutine-per-concern loops)
// but generalized from container-orchestration reconciliation to
// Datalog fixpoint computation. Joins scan each relation's tuples in a
// nested loop; no keyed index is built or shared, and this package does
// not use internal/probe.
package dataflow

import (
	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// Binding maps a clause's variable names to the values they're currently
// bound to while a clause body is being joined.
type Binding map[string]value.Value

func (b Binding) clone() Binding {
	out := make(Binding, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// resolveTerm resolves a Term to a Value given the current bindings, or
// reports that the term is the unbound variable name needing a fresh
// binding.
func resolveTerm(t ast.Term, b Binding) (v value.Value, bound bool) {
	if t.IsConst() {
		return t.Const, true
	}
	if t.Anonymous {
		return value.Null(), false
	}
	v, ok := b[t.Variable]
	return v, ok
}

// evalExpr evaluates an arithmetic/builtin expression tree against the
// current bindings.
func evalExpr(e ast.Expr, b Binding) (value.Value, error) {
	switch e.Kind {
	case "term":
		v, ok := resolveTerm(e.Term, b)
		if !ok {
			return value.Value{}, errs.New(errs.UnsafeRule, "expression references unbound variable "+e.Term.Variable)
		}
		return v, nil
	case "neg":
		l, err := evalExpr(*e.Left, b)
		if err != nil {
			return value.Value{}, err
		}
		return value.Neg(l)
	case "add", "sub", "mul", "div":
		l, err := evalExpr(*e.Left, b)
		if err != nil {
			return value.Value{}, err
		}
		r, err := evalExpr(*e.Right, b)
		if err != nil {
			return value.Value{}, err
		}
		switch e.Kind {
		case "add":
			return value.Add(l, r)
		case "sub":
			return value.Sub(l, r)
		case "mul":
			return value.Mul(l, r)
		default:
			return value.Div(l, r)
		}
	case "call":
		args := make([]value.Value, 0, len(e.Args))
		for _, a := range e.Args {
			v, err := evalExpr(a, b)
			if err != nil {
				return value.Value{}, err
			}
			args = append(args, v)
		}
		return callBuiltin(e.Call, args)
	default:
		return value.Value{}, errs.New(errs.InternalError, "unknown expression kind "+e.Kind)
	}
}

func compareValues(op ast.CompareOp, l, r value.Value) (bool, error) {
	c, err := value.Compare(l, r)
	if err != nil {
		return false, err
	}
	switch op {
	case ast.OpEq:
		return c == 0, nil
	case ast.OpNe:
		return c != 0, nil
	case ast.OpLt:
		return c < 0, nil
	case ast.OpLe:
		return c <= 0, nil
	case ast.OpGt:
		return c > 0, nil
	case ast.OpGe:
		return c >= 0, nil
	default:
		return false, errs.New(errs.InternalError, "unknown comparison operator")
	}
}
