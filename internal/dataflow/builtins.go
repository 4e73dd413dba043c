package dataflow

import (
	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/internal/vectorindex"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// callBuiltin evaluates a builtin function call used inside an
// arithmetic Bind expression (e.g. `Score = cosine(V1, V2)`).
func callBuiltin(name string, args []value.Value) (value.Value, error) {
	switch name {
	case "cosine", "euclidean", "dot", "manhattan":
		if len(args) != 2 {
			return value.Value{}, errs.New(errs.ArityMismatch, name+" expects 2 arguments")
		}
		a, err := vectorindex.VectorOf(args[0])
		if err != nil {
			return value.Value{}, err
		}
		b, err := vectorindex.VectorOf(args[1])
		if err != nil {
			return value.Value{}, err
		}
		d, err := vectorindex.Distance(metricFor(name), a, b)
		if err != nil {
			return value.Value{}, err
		}
		return value.Float64(d), nil
	case "abs":
		if len(args) != 1 {
			return value.Value{}, errs.New(errs.ArityMismatch, "abs expects 1 argument")
		}
		return value.Abs(args[0])
	case "sqrt":
		if len(args) != 1 {
			return value.Value{}, errs.New(errs.ArityMismatch, "sqrt expects 1 argument")
		}
		return value.Sqrt(args[0])
	case "log":
		if len(args) != 1 {
			return value.Value{}, errs.New(errs.ArityMismatch, "log expects 1 argument")
		}
		return value.Log(args[0])
	default:
		return value.Value{}, errs.New(errs.ParseError, "unknown builtin "+name)
	}
}

// callBuiltinPredicate evaluates a builtin used as a boolean body
// condition (ast.LiteralBuiltin), distinct from a value-producing Bind.
func callBuiltinPredicate(name string, args []value.Value) (bool, error) {
	switch name {
	case "within_radius":
		if len(args) != 3 {
			return false, errs.New(errs.ArityMismatch, "within_radius expects (a, b, threshold)")
		}
		a, err := vectorindex.VectorOf(args[0])
		if err != nil {
			return false, err
		}
		b, err := vectorindex.VectorOf(args[1])
		if err != nil {
			return false, err
		}
		threshold, ok := args[2].AsFloat()
		if !ok {
			return false, errs.New(errs.TypeError, "within_radius threshold must be numeric")
		}
		d, err := vectorindex.Distance(ast.MetricEuclidean, a, b)
		if err != nil {
			return false, err
		}
		return d <= threshold, nil
	default:
		v, err := callBuiltin(name, args)
		if err != nil {
			return false, err
		}
		if v.Kind() != value.KindBool {
			return false, errs.New(errs.TypeError, "builtin "+name+" used as a condition must return bool")
		}
		return v.AsBool(), nil
	}
}

func metricFor(name string) ast.VectorMetric {
	switch name {
	case "cosine":
		return ast.MetricCosine
	case "euclidean":
		return ast.MetricEuclidean
	case "dot":
		return ast.MetricDot
	case "manhattan":
		return ast.MetricManhattan
	default:
		return ast.MetricEuclidean
	}
}
