package dataflow

import (
	"context"
	"sort"

	"github.com/inputlayer/inputlayer/internal/catalog"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// Evaluate stratifies clauses per spec §4.2/§4.4 and evaluates every
// stratum in increasing order via semi-naive fixpoint, returning the fully
// materialized contents of every view predicate named by clauses. base
// supplies the current contents of relations clauses reference that are
// not themselves a clause head.
//
// Each stratum's mutually recursive predicates converge together: a
// "delta" map per predicate is carried round to round, and every body
// position referencing a same-stratum predicate is, in turn, pinned to
// that predicate's delta (the override mechanism of eval.go) while every
// other position reads the stratum's accumulated total — the
// rule-splitting technique that guarantees each derivable tuple surfaces
// at least once without re-deriving tuples already known.
func Evaluate(ctx context.Context, clauses map[string]catalog.ClauseRecord, base FactLookup) (map[string][]value.Tuple, error) {
	return evaluateScoped(ctx, clauses, base, nil, nil)
}

// EvaluateChanged is Evaluate's incremental counterpart: rather than
// rebuilding every stratum from scratch, it walks the predicate dependency
// graph outward from changed (the set of base relations touched by one
// fact write) and only re-derives the strata reachable from it, reusing
// prior's materialization for every view that cannot have been affected.
// This is what keeps an ordinary InsertFact/DeleteFact off the full-
// program-rebuild path spec §4.4 reserves for rule changes.
func EvaluateChanged(ctx context.Context, clauses map[string]catalog.ClauseRecord, base FactLookup, prior map[string][]value.Tuple, changed map[string]bool) (map[string][]value.Tuple, error) {
	return evaluateScoped(ctx, clauses, base, prior, changed)
}

func evaluateScoped(ctx context.Context, clauses map[string]catalog.ClauseRecord, base FactLookup, prior map[string][]value.Tuple, changed map[string]bool) (map[string][]value.Tuple, error) {
	stratumOf, err := catalog.Stratify(clauses)
	if err != nil {
		return nil, err
	}

	byHead := make(map[string][]ast.Clause)
	dependsOn := make(map[string]map[string]bool)
	maxStratum := -1
	for _, rec := range clauses {
		h := rec.Clause.Head.Predicate
		byHead[h] = append(byHead[h], rec.Clause)
		if s := stratumOf[h]; s > maxStratum {
			maxStratum = s
		}
		if dependsOn[h] == nil {
			dependsOn[h] = make(map[string]bool)
		}
		for _, p := range bodyPredicates(rec.Clause) {
			dependsOn[h][p] = true
		}
	}

	affected := affectedHeads(byHead, dependsOn, changed)
	if changed != nil && len(affected) == 0 {
		// No view transitively reads any changed base relation: every
		// prior materialization is still current.
		out := make(map[string][]value.Tuple, len(prior))
		for p, t := range prior {
			out[p] = t
		}
		return out, nil
	}

	full := make(map[string]map[string]value.Tuple, len(byHead))
	lookup := func(predicate string) []value.Tuple {
		if m, ok := full[predicate]; ok {
			return tuplesOf(m)
		}
		return base(predicate)
	}

	for s := 0; s <= maxStratum; s++ {
		if err := ctx.Err(); err != nil {
			return nil, cancellationError(err)
		}
		var preds []string
		for p, st := range stratumOf {
			if st == s {
				preds = append(preds, p)
			}
		}
		sort.Strings(preds)

		if changed != nil && !stratumAffected(preds, affected) {
			// Nothing in this stratum depends on a changed relation:
			// carry its prior contents forward so later strata that join
			// against it still see consistent data.
			for _, p := range preds {
				m := make(map[string]value.Tuple, len(prior[p]))
				for _, t := range prior[p] {
					m[t.Key()] = t
				}
				full[p] = m
			}
			continue
		}
		if err := evaluateStratum(ctx, preds, byHead, lookup, full); err != nil {
			return nil, err
		}
	}

	out := make(map[string][]value.Tuple, len(full))
	for p, m := range full {
		out[p] = tuplesOf(m)
	}
	return out, nil
}

// bodyPredicates lists every predicate clause's body reads from, including
// through an aggregate's inner body.
func bodyPredicates(cl ast.Clause) []string {
	var out []string
	for _, lit := range cl.Body {
		switch lit.Kind {
		case ast.LiteralPositive, ast.LiteralNegative:
			out = append(out, lit.Atom.Predicate)
		case ast.LiteralAggregate:
			for _, bl := range lit.AggBody {
				if bl.Kind == ast.LiteralPositive {
					out = append(out, bl.Atom.Predicate)
				}
			}
		}
	}
	return out
}

// affectedHeads returns every view predicate transitively dependent on a
// member of changed. A nil changed yields an empty set; the caller treats
// nil changed as the full-rebuild case and ignores this result.
func affectedHeads(byHead map[string][]ast.Clause, dependsOn map[string]map[string]bool, changed map[string]bool) map[string]bool {
	affected := make(map[string]bool)
	var mark func(string)
	mark = func(p string) {
		if affected[p] {
			return
		}
		affected[p] = true
		for h, deps := range dependsOn {
			if deps[p] {
				mark(h)
			}
		}
	}
	for p := range changed {
		mark(p)
	}
	for p := range affected {
		if _, isHead := byHead[p]; !isHead {
			delete(affected, p)
		}
	}
	return affected
}

func stratumAffected(preds []string, affected map[string]bool) bool {
	for _, p := range preds {
		if affected[p] {
			return true
		}
	}
	return false
}

// evaluateStratum runs one stratum's clause set to fixpoint, populating
// full in place for every predicate in preds.
func evaluateStratum(ctx context.Context, preds []string, byHead map[string][]ast.Clause, lookup FactLookup, full map[string]map[string]value.Tuple) error {
	isRec := make(map[string]bool, len(preds))
	for _, p := range preds {
		isRec[p] = true
		full[p] = make(map[string]value.Tuple)
	}

	delta := make(map[string]map[string]value.Tuple, len(preds))
	for _, p := range preds {
		delta[p] = make(map[string]value.Tuple)
	}

	// Round 0: naive evaluation. Same-stratum predicates read through
	// lookup whatever full holds so far, which starts empty and fills as
	// this round's clauses run; later rounds pick up the rest.
	for _, p := range preds {
		for _, cl := range byHead[p] {
			bindings, err := evalClauseBody(ctx, cl.Body, lookup, nil)
			if err != nil {
				return err
			}
			if err := projectInto(cl.Head, bindings, full[p], delta[p]); err != nil {
				return err
			}
		}
	}

	for hasAny(delta) {
		if err := ctx.Err(); err != nil {
			return cancellationError(err)
		}
		next := make(map[string]map[string]value.Tuple, len(preds))
		for _, p := range preds {
			next[p] = make(map[string]value.Tuple)
		}

		for _, p := range preds {
			for _, cl := range byHead[p] {
				for i, lit := range cl.Body {
					if lit.Kind != ast.LiteralPositive || !isRec[lit.Atom.Predicate] {
						continue
					}
					d := delta[lit.Atom.Predicate]
					if len(d) == 0 {
						continue
					}
					ov := &override{index: i, facts: tuplesOf(d)}
					bindings, err := evalClauseBody(ctx, cl.Body, lookup, ov)
					if err != nil {
						return err
					}
					if err := projectInto(cl.Head, bindings, full[p], next[p]); err != nil {
						return err
					}
				}
			}
		}
		delta = next
	}
	return nil
}

func hasAny(delta map[string]map[string]value.Tuple) bool {
	for _, m := range delta {
		if len(m) > 0 {
			return true
		}
	}
	return false
}

// projectInto projects bindings through head, adding every tuple not
// already present in fullM to both fullM and deltaOut.
func projectInto(head ast.Atom, bindings []Binding, fullM map[string]value.Tuple, deltaOut map[string]value.Tuple) error {
	for _, b := range bindings {
		t, err := projectHead(head, b)
		if err != nil {
			return err
		}
		k := t.Key()
		if _, exists := fullM[k]; exists {
			continue
		}
		fullM[k] = t
		deltaOut[k] = t
	}
	return nil
}

func tuplesOf(m map[string]value.Tuple) []value.Tuple {
	out := make([]value.Tuple, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	return out
}
