// Package vectorindex implements spec §4.8's approximate nearest-neighbor
// index: a Hierarchical Navigable Small World graph over VectorF32/VectorI8
// columns, persisted with go.etcd.io/bbolt the way the teacher's
// pkg/storage.BoltStore persists cluster state: each index is one
// gob-encoded record (nodes with their adjacency lists and tombstone
// flags, plus the entry point) in the "nodes" bucket, keyed by index name.
package vectorindex

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// Candidate is one search result: an indexed id and its distance to the
// query vector under the index's configured metric.
type Candidate struct {
	ID       string
	Distance float64
}

type node struct {
	id        string
	vec       []float32
	level     int
	neighbors [][]string // neighbors[level] = ids
	tombstone bool
}

// Index is an in-memory HNSW graph for one declared index. Graph
// mutation is single-writer (guarded by mu); searches take a read lock.
type Index struct {
	mu sync.RWMutex

	spec ast.IndexSpec

	nodes map[string]*node
	entry string // id of the current top-level entry point
	rng   *rand.Rand

	tombstoneCount int
}

func New(spec ast.IndexSpec) *Index {
	if spec.M <= 0 {
		spec.M = 16
	}
	if spec.EfConstruction <= 0 {
		spec.EfConstruction = 200
	}
	return &Index{
		spec:  spec,
		nodes: make(map[string]*node),
		rng:   rand.New(rand.NewSource(1)),
	}
}

// Insert adds or replaces id's vector in the index.
func (idx *Index) Insert(id string, vec []float32) error {
	if len(vec) == 0 {
		return errs.New(errs.TypeError, "hnsw insert requires a non-empty vector")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.nodes[id]; ok && existing.tombstone {
		idx.tombstoneCount--
	}

	level := idx.randomLevel()
	n := &node{id: id, vec: vec, level: level, neighbors: make([][]string, level+1)}
	idx.nodes[id] = n

	if idx.entry == "" {
		idx.entry = id
		return nil
	}

	entryNode := idx.nodes[idx.entry]
	cur := entryNode.id
	for l := entryNode.level; l > n.level; l-- {
		cur = idx.greedyDescend(cur, vec, l)
	}
	for l := min(entryNode.level, n.level); l >= 0; l-- {
		candidates := idx.searchLayer(vec, cur, idx.spec.EfConstruction, l)
		m := idx.spec.M
		selected := selectNeighbors(candidates, m)
		n.neighbors[l] = idsOf(selected)
		for _, c := range selected {
			idx.addEdge(c.ID, id, l)
		}
		if len(candidates) > 0 {
			cur = candidates[0].ID
		}
	}
	if n.level > entryNode.level {
		idx.entry = id
	}
	return nil
}

// Delete tombstones id rather than physically removing it, per spec
// §4.8 — a rebuild later drops tombstoned ids from the graph.
func (idx *Index) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n, ok := idx.nodes[id]
	if !ok || n.tombstone {
		return
	}
	n.tombstone = true
	idx.tombstoneCount++
}

// Search returns the k nearest non-tombstoned neighbors to query.
func (idx *Index) Search(query []float32, k, ef int) ([]Candidate, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.entry == "" {
		return nil, nil
	}
	if ef < k {
		ef = k
	}
	entryNode := idx.nodes[idx.entry]
	cur := entryNode.id
	for l := entryNode.level; l > 0; l-- {
		cur = idx.greedyDescend(cur, query, l)
	}
	candidates := idx.searchLayer(query, cur, ef, 0)
	out := make([]Candidate, 0, k)
	for _, c := range candidates {
		if idx.nodes[c.ID].tombstone {
			continue
		}
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// TombstoneFraction reports the fraction of indexed ids currently
// tombstoned, used by the staleness policy of spec §9 to decide whether
// a query should trigger an inline rebuild.
func (idx *Index) TombstoneFraction() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.nodes) == 0 {
		return 0
	}
	return float64(idx.tombstoneCount) / float64(len(idx.nodes))
}

// Len reports the number of ids currently held, tombstoned or not;
// Rebuild removes tombstoned ids from this count.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// Rebuild discards tombstoned ids and reconstructs the graph from
// scratch over the survivors. It runs only when called: Engine.SearchIndex
// calls it when tombstones exceed 30% of indexed ids, and
// Engine.RebuildIndex on request. The index keeps no stale flag, so
// writes to the base relation do not trigger a rebuild.
func (idx *Index) Rebuild() {
	idx.mu.Lock()
	survivors := make([]*node, 0, len(idx.nodes))
	for _, n := range idx.nodes {
		if !n.tombstone {
			survivors = append(survivors, n)
		}
	}
	idx.nodes = make(map[string]*node)
	idx.entry = ""
	idx.tombstoneCount = 0
	idx.mu.Unlock()

	sort.Slice(survivors, func(i, j int) bool { return survivors[i].id < survivors[j].id })
	for _, n := range survivors {
		_ = idx.Insert(n.id, n.vec)
	}
}

func (idx *Index) randomLevel() int {
	level := 0
	for idx.rng.Float64() < 0.5 && level < 16 {
		level++
	}
	return level
}

func (idx *Index) greedyDescend(start string, query []float32, level int) string {
	cur := start
	curDist := idx.dist(query, idx.nodes[cur].vec)
	for {
		improved := false
		for _, nb := range idx.neighborsAt(cur, level) {
			d := idx.dist(query, idx.nodes[nb].vec)
			if d < curDist {
				curDist = d
				cur = nb
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLayer performs a best-first beam search at one layer, returning
// up to ef candidates sorted by ascending distance.
func (idx *Index) searchLayer(query []float32, entry string, ef, level int) []Candidate {
	visited := map[string]bool{entry: true}
	candidates := []Candidate{{ID: entry, Distance: idx.dist(query, idx.nodes[entry].vec)}}
	best := append([]Candidate(nil), candidates...)

	for len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
		c := candidates[0]
		candidates = candidates[1:]

		sort.Slice(best, func(i, j int) bool { return best[i].Distance < best[j].Distance })
		if len(best) >= ef && c.Distance > best[len(best)-1].Distance {
			break
		}

		for _, nb := range idx.neighborsAt(c.ID, level) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := idx.dist(query, idx.nodes[nb].vec)
			candidates = append(candidates, Candidate{ID: nb, Distance: d})
			best = append(best, Candidate{ID: nb, Distance: d})
		}
	}

	sort.Slice(best, func(i, j int) bool { return best[i].Distance < best[j].Distance })
	if len(best) > ef {
		best = best[:ef]
	}
	return best
}

func (idx *Index) neighborsAt(id string, level int) []string {
	n, ok := idx.nodes[id]
	if !ok || level >= len(n.neighbors) {
		return nil
	}
	return n.neighbors[level]
}

func (idx *Index) addEdge(from, to string, level int) {
	n := idx.nodes[from]
	for len(n.neighbors) <= level {
		n.neighbors = append(n.neighbors, nil)
	}
	n.neighbors[level] = append(n.neighbors[level], to)
	if len(n.neighbors[level]) > idx.spec.M*2 {
		// Cap degree by keeping the M*2 closest neighbors at this level.
		cands := make([]Candidate, 0, len(n.neighbors[level]))
		for _, nb := range n.neighbors[level] {
			cands = append(cands, Candidate{ID: nb, Distance: idx.dist(n.vec, idx.nodes[nb].vec)})
		}
		sort.Slice(cands, func(i, j int) bool { return cands[i].Distance < cands[j].Distance })
		if len(cands) > idx.spec.M*2 {
			cands = cands[:idx.spec.M*2]
		}
		n.neighbors[level] = idsOf(cands)
	}
}

func selectNeighbors(candidates []Candidate, m int) []Candidate {
	if len(candidates) <= m {
		return candidates
	}
	return candidates[:m]
}

func idsOf(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

func (idx *Index) dist(a, b []float32) float64 {
	d, _ := Distance(idx.spec.Metric, a, b)
	return d
}

// Distance computes the distance between two vectors under metric.
// Cosine and dot are converted to a "smaller is closer" distance (cosine
// as 1 - similarity, dot as the negated dot product) so they compose with
// the same ascending-distance search used by euclidean/manhattan.
func Distance(metric ast.VectorMetric, a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errs.New(errs.TypeError, "vector dimension mismatch")
	}
	switch metric {
	case ast.MetricEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum), nil
	case ast.MetricManhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(float64(a[i]) - float64(b[i]))
		}
		return sum, nil
	case ast.MetricDot:
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return -sum, nil
	case ast.MetricCosine:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1, nil
		}
		return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
	default:
		return 0, errs.New(errs.TypeError, "unknown vector metric")
	}
}

// VectorOf extracts a []float32 from a value.Value for indexing,
// accepting either VectorF32 directly or a VectorI8 dequantized by its
// stored scale.
func VectorOf(v value.Value) ([]float32, error) {
	switch v.Kind() {
	case value.KindVectorF32:
		return v.AsVectorF32(), nil
	case value.KindVectorI8:
		dims, scale := v.AsVectorI8()
		out := make([]float32, len(dims))
		for i, d := range dims {
			out[i] = float32(d) * scale
		}
		return out, nil
	default:
		return nil, errs.New(errs.TypeError, "value is not a vector")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
