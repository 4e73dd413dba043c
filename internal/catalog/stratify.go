package catalog

import (
	"fmt"

	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/ast"
)

type edge struct {
	to       string
	negative bool
}

// checkStratification builds the predicate dependency graph described in
// spec §4.2 over the given candidate clause set — a `+` edge per positive
// body atom, a `¬` edge per negated atom, both from body-predicate to
// head-predicate — and rejects any program whose strongly-connected
// components contain a negative edge between two nodes of the same
// component. Stratum numbers (used by the dataflow compiler to order
// per-stratum evaluation) are assigned by condensation order.
func checkStratification(clauses map[string]ClauseRecord) error {
	_, err := Stratify(clauses)
	return err
}

// Stratify returns a stratum number per head predicate, or an
// UnstratifiableProgram error if a negation cycle exists.
func Stratify(clauses map[string]ClauseRecord) (map[string]int, error) {
	heads := make(map[string]bool)
	for _, rec := range clauses {
		heads[rec.Clause.Head.Predicate] = true
	}

	adj := make(map[string][]edge)
	addEdge := func(pred, head string, negative bool) {
		if !heads[pred] {
			return // base relation: not part of the cycle graph
		}
		adj[pred] = append(adj[pred], edge{to: head, negative: negative})
	}
	for _, rec := range clauses {
		head := rec.Clause.Head.Predicate
		for _, lit := range rec.Clause.Body {
			switch lit.Kind {
			case ast.LiteralPositive:
				addEdge(lit.Atom.Predicate, head, false)
			case ast.LiteralNegative:
				addEdge(lit.Atom.Predicate, head, true)
			case ast.LiteralAggregate:
				for _, bl := range lit.AggBody {
					if bl.Kind == ast.LiteralPositive {
						addEdge(bl.Atom.Predicate, head, false)
					}
				}
			}
		}
	}

	sccs, idOf := tarjanSCC(heads, adj)

	// Reject negative edges whose endpoints share an SCC.
	for from, edges := range adj {
		for _, e := range edges {
			if e.negative && idOf[from] == idOf[e.to] {
				return nil, errs.New(errs.UnstratifiableProgram,
					fmt.Sprintf("negation cycle through %q and %q", from, e.to))
			}
		}
	}

	// Condensation DAG: build edges between SCCs, then assign strata in
	// topological order (sources first).
	sccAdj := make(map[int]map[int]bool)
	for from, edges := range adj {
		for _, e := range edges {
			a, b := idOf[from], idOf[e.to]
			if a == b {
				continue
			}
			if sccAdj[a] == nil {
				sccAdj[a] = make(map[int]bool)
			}
			sccAdj[a][b] = true
		}
	}

	stratumOf := topoStrata(len(sccs), sccAdj)

	result := make(map[string]int, len(heads))
	for pred := range heads {
		result[pred] = stratumOf[idOf[pred]]
	}
	return result, nil
}

// tarjanSCC computes strongly connected components over the predicate
// graph and returns the list of components plus a node->component-index
// map.
func tarjanSCC(nodes map[string]bool, adj map[string][]edge) ([][]string, map[string]int) {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var sccs [][]string
	idOf := make(map[string]int)

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range adj[v] {
			w := e.to
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var comp []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			compIdx := len(sccs)
			for _, n := range comp {
				idOf[n] = compIdx
			}
			sccs = append(sccs, comp)
		}
	}

	for v := range nodes {
		if _, seen := indices[v]; !seen {
			strongconnect(v)
		}
	}
	return sccs, idOf
}

// topoStrata assigns each SCC a stratum number such that every edge in the
// condensation DAG points to a strictly larger stratum, by repeatedly
// peeling off components with no remaining incoming edges (Kahn's
// algorithm). Tarjan already yields components in reverse topological
// order, so this additionally handles the general case robustly.
func topoStrata(n int, sccAdj map[int]map[int]bool) map[int]int {
	indegree := make([]int, n)
	for _, tos := range sccAdj {
		for to := range tos {
			indegree[to]++
		}
	}

	stratum := make(map[int]int, n)
	assigned := make([]bool, n)
	remaining := n
	level := 0
	for remaining > 0 {
		var frontier []int
		for i := 0; i < n; i++ {
			if !assigned[i] && indegree[i] == 0 {
				frontier = append(frontier, i)
			}
		}
		if len(frontier) == 0 {
			// Unreachable: a condensation of SCCs has no cycles. Assign
			// the rest at the current level anyway, so the loop always
			// terminates.
			for i := 0; i < n; i++ {
				if !assigned[i] {
					frontier = append(frontier, i)
				}
			}
		}
		for _, i := range frontier {
			stratum[i] = level
			assigned[i] = true
			remaining--
		}
		for _, i := range frontier {
			for to := range sccAdj[i] {
				indegree[to]--
			}
		}
		level++
	}
	return stratum
}
