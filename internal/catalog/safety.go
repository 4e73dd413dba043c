package catalog

import (
	"fmt"

	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/ast"
)

// checkSafety enforces spec §4.2: every head variable and every variable
// used in a negation/comparison/arithmetic occurs in a positive body atom.
//
// Variables bound by a Bind literal may additionally be referenced by
// later literals in the same clause (chained arithmetic such as
// `X = A+1, Y = X*2`) — Bind-introduced variables extend the "allowed to
// use" set without themselves counting as a positive-atom occurrence for
// the purpose of the negation check, matching the spec's literal wording
// for negation specifically.
func checkSafety(clause ast.Clause) error {
	positive := make(map[string]bool)
	allowed := make(map[string]bool)

	for _, lit := range clause.Body {
		if lit.Kind == ast.LiteralPositive {
			for _, arg := range lit.Atom.Args {
				if arg.IsVariable() {
					positive[arg.Variable] = true
					allowed[arg.Variable] = true
				}
			}
		}
	}
	for _, lit := range clause.Body {
		if lit.Kind == ast.LiteralBind {
			allowed[lit.BindVar] = true
		}
		if lit.Kind == ast.LiteralAggregate {
			allowed[lit.AggResultVar] = true
		}
	}

	for _, arg := range clause.Head.Args {
		if arg.IsVariable() && !allowed[arg.Variable] {
			return errs.New(errs.UnsafeRule, fmt.Sprintf("head variable %q is unbound", arg.Variable))
		}
	}

	for _, lit := range clause.Body {
		switch lit.Kind {
		case ast.LiteralNegative:
			for _, arg := range lit.Atom.Args {
				if arg.IsVariable() && !positive[arg.Variable] {
					return errs.New(errs.UnsafeRule, fmt.Sprintf("negated atom variable %q does not occur in a positive body atom", arg.Variable))
				}
			}
		case ast.LiteralCompare:
			if err := checkExprVars("comparison", lit.Lhs, allowed); err != nil {
				return err
			}
			if err := checkExprVars("comparison", lit.Rhs, allowed); err != nil {
				return err
			}
		case ast.LiteralBind:
			if err := checkExprVars("arithmetic binding", lit.BindExpr, allowed); err != nil {
				return err
			}
		case ast.LiteralBuiltin:
			for _, arg := range lit.BuiltinArgs {
				if err := checkExprVars("builtin call", arg, allowed); err != nil {
					return err
				}
			}
		case ast.LiteralAggregate:
			if err := checkAggregateSafety(lit); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkAggregateSafety validates an aggregate literal's inner body as
// its own self-contained clause: AggExpr's variables must be bound by
// AggBody's own positive atoms, independent of the outer clause's
// bindings (the aggregate's grouping variables are whichever of
// AggBody's bound variables also appear elsewhere in the outer clause,
// resolved by the dataflow compiler, not checked here).
func checkAggregateSafety(lit ast.Literal) error {
	inner := make(map[string]bool)
	for _, bl := range lit.AggBody {
		if bl.Kind == ast.LiteralPositive {
			for _, arg := range bl.Atom.Args {
				if arg.IsVariable() {
					inner[arg.Variable] = true
				}
			}
		}
	}
	if lit.AggKind != ast.AggCount {
		if err := checkExprVars("aggregate expression", lit.AggExpr, inner); err != nil {
			return err
		}
	}
	return nil
}

func checkExprVars(context string, e ast.Expr, allowed map[string]bool) error {
	if e.Kind == "term" {
		if e.Term.IsVariable() && !allowed[e.Term.Variable] {
			return errs.New(errs.UnsafeRule, fmt.Sprintf("%s variable %q does not occur in a positive body atom", context, e.Term.Variable))
		}
		return nil
	}
	if e.Left != nil {
		if err := checkExprVars(context, *e.Left, allowed); err != nil {
			return err
		}
	}
	if e.Right != nil {
		if err := checkExprVars(context, *e.Right, allowed); err != nil {
			return err
		}
	}
	for _, a := range e.Args {
		if err := checkExprVars(context, a, allowed); err != nil {
			return err
		}
	}
	return nil
}

// CheckConditionalDeleteSafety implements the spec §9 Open Question
// resolution: a ConditionalDelete's body must reference the target
// relation positively at least once; other relations may appear as
// read-only joins/filters.
func CheckConditionalDeleteSafety(target string, body []ast.Literal) error {
	for _, lit := range body {
		if lit.Kind == ast.LiteralPositive && lit.Atom.Predicate == target {
			return nil
		}
	}
	return errs.New(errs.UnsafeRule, fmt.Sprintf("conditional delete on %q must reference it positively in the body", target))
}
