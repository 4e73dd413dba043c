// Package engine wires one knowledge graph's catalog, persistence,
// dataflow, snapshot, query, rule-lifecycle, and vector-index packages
// into the single entry point spec §6's Statement operations address.
// Grounded on the teacher's pkg/manager (one manager per cluster,
// composing storage/scheduler/fsm behind a single façade), generalized
// from cluster-lifecycle orchestration to per-knowledge-graph Datalog
// orchestration.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/inputlayer/inputlayer/internal/catalog"
	"github.com/inputlayer/inputlayer/internal/config"
	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/internal/logx"
	"github.com/inputlayer/inputlayer/internal/persist"
	"github.com/inputlayer/inputlayer/internal/query"
	"github.com/inputlayer/inputlayer/internal/rulelifecycle"
	"github.com/inputlayer/inputlayer/internal/snapshot"
	"github.com/inputlayer/inputlayer/internal/vectorindex"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/result"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// Engine is one open knowledge graph: every Statement of spec §6 that
// targets a single knowledge graph is a method (or a thin wrapper around
// one) on this type. Writers are serialized by mu; readers go through
// Query, which never takes mu and is bounded only by the query's own
// timeout.
type Engine struct {
	mu sync.Mutex

	name string
	dir  string
	cfg  config.StoragePersistConfig

	catalog    *catalog.Catalog
	store      *persist.Store
	snapshots  *snapshot.Manager
	lifecycle  *rulelifecycle.Controller
	executor   *query.Executor
	indexStore *vectorindex.Store
	indexes    map[string]*vectorindex.Index
}

// Open opens (or creates) the knowledge graph named name under dataDir,
// recovering persisted state and publishing an initial snapshot.
func Open(dataDir, name string, cfg config.Config) (*Engine, error) {
	kgDir := filepath.Join(dataDir, name)
	if err := os.MkdirAll(kgDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.PersistError, "create knowledge graph directory", err)
	}

	cat, err := catalog.LoadFrom(kgDir)
	if err != nil {
		return nil, err
	}
	store, err := persist.Open(kgDir, name, cfg.Storage.Persist)
	if err != nil {
		return nil, err
	}
	idxStore, err := vectorindex.OpenStore(kgDir, name)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		name:       name,
		dir:        kgDir,
		cfg:        cfg.Storage.Persist,
		catalog:    cat,
		store:      store,
		snapshots:  snapshot.NewManager(),
		indexStore: idxStore,
		indexes:    make(map[string]*vectorindex.Index),
	}
	e.lifecycle = rulelifecycle.New(cat, e.snapshots, e.baseLookup)
	e.executor = query.NewExecutor(e.snapshots)

	for _, meta := range cat.ListIndexes() {
		idx, err := vectorindex.LoadIndex(idxStore, astSpecOf(meta))
		if err != nil {
			return nil, err
		}
		e.indexes[meta.Name] = idx
	}

	if err := e.lifecycle.Republish(context.Background()); err != nil {
		return nil, err
	}
	logx.WithComponent("engine").Info().Str("kg", name).Msg("knowledge graph opened")
	return e, nil
}

func astSpecOf(m catalog.IndexMeta) ast.IndexSpec {
	return ast.IndexSpec{
		Name: m.Name, Relation: m.Relation, Column: m.Column,
		Metric: m.Metric, M: m.M, EfConstruction: m.EfConstruction,
	}
}

// Close flushes all pending writes and releases underlying handles.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Close(); err != nil {
		return err
	}
	return e.indexStore.Close()
}

func (e *Engine) baseLookup(relation string) []value.Tuple {
	counts, tuples, err := e.store.Snapshot(relation)
	if err != nil {
		logx.WithComponent("engine").Warn().Err(err).Str("relation", relation).Msg("base snapshot read failed")
		return nil
	}
	out := make([]value.Tuple, 0, len(tuples))
	for k, t := range tuples {
		if counts[k] > 0 {
			out = append(out, t)
		}
	}
	return out
}

// InsertFact appends tuple to relation (spec §6 InsertFact), enforcing
// declared constraints, and republishes a snapshot reflecting the write.
func (e *Engine) InsertFact(ctx context.Context, relation string, tuple value.Tuple) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rel, ok := e.catalog.GetRelation(relation); ok && rel.IsView {
		return errs.New(errs.ViewWriteAttempt, fmt.Sprintf("%q is a materialized view", relation))
	}
	if err := e.checkConstraints(relation, tuple); err != nil {
		return err
	}

	e.lifecycle.BeginWrite()
	defer e.lifecycle.EndWrite()
	if _, err := e.store.Append(relation, persist.OpInsert, tuple); err != nil {
		return err
	}
	e.indexInsert(relation, tuple)
	return e.lifecycle.ApplyFactChange(ctx, relation)
}

// DeleteFact removes tuple from relation (spec §6 DeleteFact).
func (e *Engine) DeleteFact(ctx context.Context, relation string, tuple value.Tuple) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rel, ok := e.catalog.GetRelation(relation); ok && rel.IsView {
		return errs.New(errs.ViewWriteAttempt, fmt.Sprintf("%q is a materialized view", relation))
	}

	e.lifecycle.BeginWrite()
	defer e.lifecycle.EndWrite()
	if _, err := e.store.Append(relation, persist.OpDelete, tuple); err != nil {
		return err
	}
	return e.lifecycle.ApplyFactChange(ctx, relation)
}

// checkConstraints enforces invariant I5 (no base relation ever holds a
// tuple whose shape disagrees with its schema) before spec §9's resolved
// Open Question on value constraints: @key/@unique reject a duplicate key
// value against the relation's current contents, @not_empty rejects empty
// strings/vectors, @range rejects out-of-bound numerics. A tuple whose
// arity or per-column value.Kind disagrees with the declared schema is
// rejected as ArityMismatch/TypeError before any constraint is checked,
// since SchemaConflict is reserved for value-level violations of a
// structurally-valid tuple.
func (e *Engine) checkConstraints(relation string, tuple value.Tuple) error {
	rel, ok := e.catalog.GetRelation(relation)
	if !ok {
		return nil // undeclared relations carry no constraints to enforce
	}
	if len(rel.Columns) > 0 && len(tuple.Values) != len(rel.Columns) {
		return errs.New(errs.ArityMismatch, fmt.Sprintf("%s: tuple has %d values, schema declares %d columns", relation, len(tuple.Values), len(rel.Columns)))
	}
	for i, col := range rel.Columns {
		if i >= len(tuple.Values) {
			break
		}
		v := tuple.Values[i]
		if v.Kind() != col.Type {
			return errs.New(errs.TypeError, fmt.Sprintf("%s.%s: expected %s, got %s", relation, col.Name, col.Type, v.Kind()))
		}
		for _, c := range col.Constraints {
			switch c.Kind {
			case ast.ConstraintKey, ast.ConstraintUnique:
				if e.columnValueExists(relation, i, v) {
					return errs.New(errs.SchemaConflict, fmt.Sprintf("%s.%s: duplicate value for %s constraint", relation, col.Name, c.Kind))
				}
			case ast.ConstraintNotEmpty:
				empty := v.Kind() == value.KindString && v.AsString() == ""
				if v.Kind() == value.KindVectorF32 || v.Kind() == value.KindVectorI8 {
					vec, _ := vectorindex.VectorOf(v)
					empty = len(vec) == 0
				}
				if empty {
					return errs.New(errs.SchemaConflict, fmt.Sprintf("%s.%s: value must not be empty", relation, col.Name))
				}
			case ast.ConstraintRange:
				f, ok := v.AsFloat()
				if !ok {
					continue
				}
				if lo, ok := c.Min.AsFloat(); ok && f < lo {
					return errs.New(errs.SchemaConflict, fmt.Sprintf("%s.%s: value below range minimum", relation, col.Name))
				}
				if hi, ok := c.Max.AsFloat(); ok && f > hi {
					return errs.New(errs.SchemaConflict, fmt.Sprintf("%s.%s: value above range maximum", relation, col.Name))
				}
			}
		}
	}
	return nil
}

func (e *Engine) columnValueExists(relation string, col int, v value.Value) bool {
	for _, t := range e.baseLookup(relation) {
		if col < len(t.Values) && t.Values[col].Equal(v) {
			return true
		}
	}
	return false
}

func (e *Engine) indexInsert(relation string, tuple value.Tuple) {
	for _, meta := range e.catalog.ListIndexes() {
		if meta.Relation != relation {
			continue
		}
		rel, ok := e.catalog.GetRelation(relation)
		if !ok {
			continue
		}
		colIdx := -1
		for i, c := range rel.Columns {
			if c.Name == meta.Column {
				colIdx = i
				break
			}
		}
		if colIdx < 0 || colIdx >= len(tuple.Values) {
			continue
		}
		vec, err := vectorindex.VectorOf(tuple.Values[colIdx])
		if err != nil {
			continue
		}
		idx := e.indexes[meta.Name]
		if idx == nil {
			idx = vectorindex.New(astSpecOf(meta))
			e.indexes[meta.Name] = idx
		}
		_ = idx.Insert(tuple.Key(), vec)
	}
}

// ApplyRuleChange delegates to the rule lifecycle controller (spec §4.7).
func (e *Engine) ApplyRuleChange(ctx context.Context, change rulelifecycle.Change) error {
	return e.lifecycle.Apply(ctx, change)
}

// Query runs an ad-hoc query against the currently published snapshot
// (spec §4.6), optionally layered with session rules.
func (e *Engine) Query(ctx context.Context, sess *query.Session, stmt ast.Statement) (result.Rows, error) {
	return e.executor.Run(ctx, sess, stmt)
}

// CreateIndex registers a new HNSW index (spec §4.8) and builds it from
// the relation's current contents.
func (e *Engine) CreateIndex(spec ast.IndexSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.catalog.CreateIndex(spec); err != nil {
		return err
	}
	idx := vectorindex.New(spec)
	rel, ok := e.catalog.GetRelation(spec.Relation)
	if ok {
		colIdx := -1
		for i, c := range rel.Columns {
			if c.Name == spec.Column {
				colIdx = i
			}
		}
		if colIdx >= 0 {
			for _, t := range e.baseLookup(spec.Relation) {
				if colIdx >= len(t.Values) {
					continue
				}
				vec, err := vectorindex.VectorOf(t.Values[colIdx])
				if err != nil {
					continue
				}
				_ = idx.Insert(t.Key(), vec)
			}
		}
	}
	e.indexes[spec.Name] = idx
	return e.indexStore.SaveIndex(spec.Name, idx)
}

// DropIndex removes a previously created index.
func (e *Engine) DropIndex(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.catalog.DropIndex(name); err != nil {
		return err
	}
	delete(e.indexes, name)
	return nil
}

// SearchIndex runs a k-NN search against a previously created index.
func (e *Engine) SearchIndex(name string, query []float32, k, ef int) ([]vectorindex.Candidate, error) {
	e.mu.Lock()
	idx := e.indexes[name]
	e.mu.Unlock()
	if idx == nil {
		return nil, errs.New(errs.IndexUnavailable, fmt.Sprintf("index %q not found", name))
	}
	if idx.TombstoneFraction() > 0.3 {
		idx.Rebuild()
	}
	return idx.Search(query, k, ef)
}

// RebuildIndex forces an inline rebuild, dropping tombstoned entries.
func (e *Engine) RebuildIndex(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.indexes[name]
	if !ok {
		return errs.New(errs.IndexUnavailable, fmt.Sprintf("index %q not found", name))
	}
	idx.Rebuild()
	return e.indexStore.SaveIndex(name, idx)
}

// Load bulk-loads tuples into relation per spec §6/§7's Load semantics:
// strict fails if the relation already has data, replace truncates first,
// merge appends. All three go through InsertFact/DeleteFact one tuple at
// a time, so each tuple gets its own logical time and its own snapshot
// publication; a load is not applied atomically.
func (e *Engine) Load(ctx context.Context, relation string, mode ast.LoadMode, tuples []value.Tuple) error {
	if mode == ast.LoadStrict {
		if len(e.baseLookup(relation)) > 0 {
			return errs.New(errs.SchemaConflict, fmt.Sprintf("relation %q already has data for strict load", relation))
		}
	}
	if mode == ast.LoadReplace {
		for _, t := range e.baseLookup(relation) {
			if err := e.DeleteFact(ctx, relation, t); err != nil {
				return err
			}
		}
	}
	for _, t := range tuples {
		if err := e.InsertFact(ctx, relation, t); err != nil {
			return err
		}
	}
	return nil
}

// Compact forces compaction of one relation, or every relation if
// relation is "".
func (e *Engine) Compact(relation string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if relation != "" {
		return e.store.Compact(relation)
	}
	for _, rel := range e.catalog.ListRelations() {
		if rel.IsView {
			continue
		}
		if err := e.store.Compact(rel.Name); err != nil {
			return err
		}
	}
	return nil
}

// StatusRow is one knowledge graph's Status payload (spec §7's
// supplemented Status detail).
type StatusRow struct {
	KnowledgeGraph string
	RelationCount  int
	ViewCount      int
	IndexCount     int
	SnapshotTime   uint64
	CheckedAt      time.Time
}

// Status reports the engine's current counters for this knowledge graph.
func (e *Engine) Status() StatusRow {
	e.mu.Lock()
	defer e.mu.Unlock()

	relations := e.catalog.ListRelations()
	sort.Slice(relations, func(i, j int) bool { return relations[i].Name < relations[j].Name })
	views := 0
	for _, r := range relations {
		if r.IsView {
			views++
		}
	}

	snap := e.snapshots.Acquire()
	defer e.snapshots.Release(snap)

	return StatusRow{
		KnowledgeGraph: e.name,
		RelationCount:  len(relations),
		ViewCount:      views,
		IndexCount:     len(e.catalog.ListIndexes()),
		SnapshotTime:   snap.Time,
		CheckedAt:      time.Now(),
	}
}

// SaveCatalog persists the current catalog document, used on a clean
// shutdown or before a deliberate snapshot of on-disk state.
func (e *Engine) SaveCatalog() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.SaveTo(e.dir)
}
