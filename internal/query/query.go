// Package query implements spec §4.6's ad-hoc query executor: it compiles
// a query body into a one-shot join over a held snapshot, optionally
// layering a per-session overlay of unpersisted recursive rules, and
// bounds execution by a caller-supplied deadline. Grounded on the
// teacher's context-bounded RPC handlers (pkg/api's request handlers each
// thread a ctx through to completion or timeout), generalized from HTTP
// request handling to one-shot Datalog query execution.
package query

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/inputlayer/inputlayer/internal/catalog"
	"github.com/inputlayer/inputlayer/internal/dataflow"
	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/internal/snapshot"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/result"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// Executor runs ad-hoc queries against a snapshot manager's currently
// published view; it never mutates persisted state and never blocks a
// concurrent writer.
type Executor struct {
	snapshots *snapshot.Manager
}

func NewExecutor(m *snapshot.Manager) *Executor {
	return &Executor{snapshots: m}
}

// Session is a per-connection overlay of session-only rule clauses (spec
// §4.6): they support full recursion but are never persisted, and are
// compiled fresh into the executor whenever referenced.
type Session struct {
	Clauses map[string]catalog.ClauseRecord
}

// Run executes stmt (a StmtQuery) against the currently published
// snapshot. Evaluation shares ctx with the join engine (internal/dataflow
// checks it between body literals), so when ctx fires the background
// goroutine below stops at the next safe point instead of running to
// completion; Run itself returns as soon as whichever of ctx.Done or the
// evaluation result arrives first, distinguishing an explicit cancellation
// from an expired deadline per spec.
func (e *Executor) Run(ctx context.Context, sess *Session, stmt ast.Statement) (result.Rows, error) {
	start := time.Now()
	snap := e.snapshots.Acquire()
	defer e.snapshots.Release(snap)

	type outcome struct {
		rows result.Rows
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		rows, err := e.evaluate(ctx, snap, sess, stmt)
		ch <- outcome{rows, err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result.Rows{}, errs.New(errs.Timeout, "query exceeded deadline")
		}
		return result.Rows{}, errs.New(errs.Cancelled, "query cancelled")
	case o := <-ch:
		if o.err != nil {
			return result.Rows{}, o.err
		}
		o.rows.ExecutionTimeMS = result.ElapsedMS(start)
		return o.rows, nil
	}
}

func (e *Executor) evaluate(ctx context.Context, snap *snapshot.Snapshot, sess *Session, stmt ast.Statement) (result.Rows, error) {
	base := dataflow.FactLookup(func(predicate string) []value.Tuple { return snap.Get(predicate) })

	lookup := base
	if sess != nil && len(sess.Clauses) > 0 {
		views, err := dataflow.Evaluate(ctx, sess.Clauses, base)
		if err != nil {
			return result.Rows{}, err
		}
		lookup = func(predicate string) []value.Tuple {
			if vs, ok := views[predicate]; ok {
				return vs
			}
			return base(predicate)
		}
	}

	bindings, err := dataflow.EvalBody(ctx, stmt.QueryBody, lookup)
	if err != nil {
		return result.Rows{}, err
	}

	columns := stmt.Project
	if len(columns) == 0 {
		columns = projectedVars(stmt.QueryBody)
	}

	if len(stmt.Order) > 0 {
		if err := sortBindings(bindings, columns, stmt.Order); err != nil {
			return result.Rows{}, err
		}
	}

	truncated := false
	if stmt.Offset > 0 {
		if stmt.Offset >= len(bindings) {
			bindings = nil
		} else {
			bindings = bindings[stmt.Offset:]
		}
	}
	if stmt.Limit > 0 && len(bindings) > stmt.Limit {
		bindings = bindings[:stmt.Limit]
		truncated = true
	}

	rows := make([][]interface{}, 0, len(bindings))
	for _, b := range bindings {
		row := make([]interface{}, len(columns))
		for i, col := range columns {
			row[i] = toInterface(b[col])
		}
		rows = append(rows, row)
	}

	return result.Rows{
		Columns:   columns,
		Values:    rows,
		RowCount:  len(rows),
		Truncated: truncated,
	}, nil
}

// projectedVars derives a default column list (every variable bound by a
// positive body atom, first-occurrence order) when a query omits an
// explicit projection.
func projectedVars(body []ast.Literal) []string {
	seen := make(map[string]bool)
	var out []string
	for _, lit := range body {
		if lit.Kind != ast.LiteralPositive {
			continue
		}
		for _, arg := range lit.Atom.Args {
			if arg.IsVariable() && !seen[arg.Variable] {
				seen[arg.Variable] = true
				out = append(out, arg.Variable)
			}
		}
	}
	return out
}

func sortBindings(bindings []dataflow.Binding, columns []string, order []ast.OrderBy) error {
	var sortErr error
	sort.SliceStable(bindings, func(i, j int) bool {
		for _, o := range order {
			l, r := bindings[i][o.Column], bindings[j][o.Column]
			c, err := value.Compare(l, r)
			if err != nil {
				sortErr = err
				return false
			}
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}

func toInterface(v value.Value) interface{} {
	switch v.Kind() {
	case value.KindNull:
		return nil
	case value.KindInt64:
		return v.AsInt64()
	case value.KindFloat64:
		return v.AsFloat64()
	case value.KindBool:
		return v.AsBool()
	case value.KindString:
		return v.AsString()
	case value.KindTimestamp:
		return v.AsInt64()
	case value.KindVectorF32:
		return v.AsVectorF32()
	case value.KindVectorI8:
		dims, scale := v.AsVectorI8()
		return struct {
			Dims  []int8
			Scale float32
		}{dims, scale}
	default:
		return nil
	}
}
