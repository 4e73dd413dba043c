package dataflow

import (
	"bytes"
	"context"
	"sort"

	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// reduceAggregate evaluates one aggregate literal per outer binding: the
// outer binding seeds AggBody's join (so variables it already shares
// with the aggregate's inner scope act as the implicit group key), and
// the literal's AggKind determines how the resulting inner bindings
// collapse into the outer binding's extension.
//
// count/sum/min/max/avg/count_distinct produce at most one output
// binding per group (dropped entirely if the group is empty, except
// count and count_distinct which report zero). top_k/top_k_threshold/within_radius are
// structural reductions that instead emit one output binding per
// surviving inner match, per spec §4.4.
func reduceAggregate(ctx context.Context, lit ast.Literal, lookup FactLookup, outer []Binding) ([]Binding, error) {
	var out []Binding
	for _, ob := range outer {
		inner, err := evalClauseBodyFrom(ctx, lit.AggBody, lookup, nil, []Binding{ob.clone()})
		if err != nil {
			return nil, err
		}

		switch lit.AggKind {
		case ast.AggCount:
			out = append(out, extend(ob, lit.AggResultVar, value.Int64(int64(len(inner)))))
		case ast.AggCountDistinct:
			seen := make(map[string]bool)
			for _, ib := range inner {
				v, err := evalExpr(lit.AggExpr, ib)
				if err != nil {
					return nil, err
				}
				key, err := encodeKey(v)
				if err != nil {
					return nil, err
				}
				seen[key] = true
			}
			out = append(out, extend(ob, lit.AggResultVar, value.Int64(int64(len(seen)))))
		case ast.AggSum, ast.AggMin, ast.AggMax, ast.AggAvg:
			if len(inner) == 0 {
				continue
			}
			v, err := reduceNumeric(lit.AggKind, lit.AggExpr, inner)
			if err != nil {
				return nil, err
			}
			out = append(out, extend(ob, lit.AggResultVar, v))
		case ast.AggTopK, ast.AggTopKThreshold:
			scored, err := scoreInner(lit.AggExpr, inner)
			if err != nil {
				return nil, err
			}
			sort.Slice(scored, func(i, j int) bool { return scored[i].score < scored[j].score })
			if lit.AggKind == ast.AggTopKThreshold {
				threshold, _ := lit.AggThreshold.AsFloat()
				filtered := scored[:0]
				for _, s := range scored {
					if s.score <= threshold {
						filtered = append(filtered, s)
					}
				}
				scored = filtered
			}
			k := lit.AggK
			if k <= 0 || k > len(scored) {
				k = len(scored)
			}
			for _, s := range scored[:k] {
				out = append(out, extend(s.binding, lit.AggResultVar, value.Float64(s.score)))
			}
		case ast.AggWithinRadius:
			threshold, _ := lit.AggThreshold.AsFloat()
			scored, err := scoreInner(lit.AggExpr, inner)
			if err != nil {
				return nil, err
			}
			for _, s := range scored {
				if s.score <= threshold {
					out = append(out, extend(s.binding, lit.AggResultVar, value.Float64(s.score)))
				}
			}
		default:
			return nil, errs.New(errs.InternalError, "unknown aggregate kind")
		}
	}
	return out, nil
}

// encodeKey produces a comparable map key from any Value kind, used by
// count_distinct instead of a kind-specific accessor that would panic on
// the "wrong" variant.
func encodeKey(v value.Value) (string, error) {
	var buf bytes.Buffer
	if err := value.Encode(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func extend(b Binding, varName string, v value.Value) Binding {
	next := b.clone()
	next[varName] = v
	return next
}

type scoredBinding struct {
	binding Binding
	score   float64
}

func scoreInner(expr ast.Expr, inner []Binding) ([]scoredBinding, error) {
	out := make([]scoredBinding, 0, len(inner))
	for _, ib := range inner {
		v, err := evalExpr(expr, ib)
		if err != nil {
			return nil, err
		}
		f, ok := v.AsFloat()
		if !ok {
			return nil, errs.New(errs.TypeError, "aggregate expression must be numeric")
		}
		out = append(out, scoredBinding{binding: ib, score: f})
	}
	return out, nil
}

func reduceNumeric(kind ast.AggregateKind, expr ast.Expr, inner []Binding) (value.Value, error) {
	scored, err := scoreInner(expr, inner)
	if err != nil {
		return value.Value{}, err
	}
	switch kind {
	case ast.AggSum, ast.AggAvg:
		var sum float64
		for _, s := range scored {
			sum += s.score
		}
		if kind == ast.AggAvg {
			return value.Float64(sum / float64(len(scored))), nil
		}
		return value.Float64(sum), nil
	case ast.AggMin:
		m := scored[0].score
		for _, s := range scored[1:] {
			if s.score < m {
				m = s.score
			}
		}
		return value.Float64(m), nil
	case ast.AggMax:
		m := scored[0].score
		for _, s := range scored[1:] {
			if s.score > m {
				m = s.score
			}
		}
		return value.Float64(m), nil
	default:
		return value.Value{}, errs.New(errs.InternalError, "unsupported numeric aggregate")
	}
}
