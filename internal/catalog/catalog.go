// Package catalog implements the per-knowledge-graph registry of relation
// schemas, rule clauses, and indexes described in spec §4.2: it mediates
// compatibility checks, validates clause safety and stratification, and
// persists itself as the single versioned catalog.json document of spec §6.
//
// Read methods such as ListRelations/ListClauses (consumed by
// internal/rulelifecycle) take the catalog's shared read lock; mutating
// operations hold its writer lock, mirroring the single-writer,
// many-reader discipline of spec §5 — the shape the teacher's
// pkg/storage.Store CRUD-per-entity interface suggested, generalized here
// from cluster entities to relations/clauses/indexes.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/ast"
)

// RelationMeta describes one relation: its shape and whether it is base or
// derived.
type RelationMeta struct {
	Name      string       `json:"name"`
	Columns   []ast.Column `json:"columns"`
	IsView    bool         `json:"is_view"`
	ClauseIDs []string     `json:"clause_ids,omitempty"`
}

func (r RelationMeta) Arity() int { return len(r.Columns) }

// ClauseRecord is a registered clause plus its retained surface text.
type ClauseRecord struct {
	ID     string    `json:"id"`
	Clause ast.Clause `json:"clause"`
}

// IndexMeta describes one HNSW index declaration.
type IndexMeta struct {
	Name           string          `json:"name"`
	Relation       string          `json:"relation"`
	Column         string          `json:"column"`
	Metric         ast.VectorMetric `json:"metric"`
	M              int             `json:"m"`
	EfConstruction int             `json:"ef_construction"`
}

// document is the on-disk catalog.json shape.
type document struct {
	Version   int                      `json:"version"`
	Relations map[string]RelationMeta  `json:"relations"`
	Clauses   map[string]ClauseRecord  `json:"clauses"`
	Indexes   map[string]IndexMeta     `json:"indexes"`
}

const currentVersion = 1

// Catalog is one knowledge graph's registry.
type Catalog struct {
	mu sync.RWMutex

	relations map[string]RelationMeta
	clauses   map[string]ClauseRecord
	indexes   map[string]IndexMeta
}

func New() *Catalog {
	return &Catalog{
		relations: make(map[string]RelationMeta),
		clauses:   make(map[string]ClauseRecord),
		indexes:   make(map[string]IndexMeta),
	}
}

// DeclareSchema creates a relation's schema, or validates compatibility
// against an existing one. Compatibility means identical column count,
// types, and constraint set, per spec §4.2.
func (c *Catalog) DeclareSchema(name string, cols []ast.Column) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.relations[name]
	if !ok {
		c.relations[name] = RelationMeta{Name: name, Columns: cols}
		return nil
	}
	if existing.IsView {
		return errs.New(errs.SchemaConflict, fmt.Sprintf("relation %q is a view, not a base relation", name))
	}
	if !columnsCompatible(existing.Columns, cols) {
		return errs.New(errs.SchemaConflict, fmt.Sprintf("declared schema for %q is incompatible with existing schema", name))
	}
	return nil
}

func columnsCompatible(a, b []ast.Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type {
			return false
		}
		if len(a[i].Constraints) != len(b[i].Constraints) {
			return false
		}
		for j := range a[i].Constraints {
			if a[i].Constraints[j].Kind != b[i].Constraints[j].Kind {
				return false
			}
		}
	}
	return true
}

// RegisterClause validates safety, stratification (against the would-be
// post-state of all persistent clauses), and head/body arity against any
// declared schemas, then installs the clause and returns its id.
func (c *Catalog) RegisterClause(clause ast.Clause) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := checkSafety(clause); err != nil {
		return "", err
	}

	id := uuid.NewString()
	candidate := c.clauses
	trial := make(map[string]ClauseRecord, len(candidate)+1)
	for k, v := range candidate {
		trial[k] = v
	}
	trial[id] = ClauseRecord{ID: id, Clause: clause}

	if err := checkStratification(trial); err != nil {
		return "", err
	}

	if err := c.checkTypeConsistency(clause); err != nil {
		return "", err
	}

	c.clauses[id] = ClauseRecord{ID: id, Clause: clause}
	c.installView(clause.Head.Predicate, id)
	return id, nil
}

// RemoveClause removes a previously registered clause, dropping the owning
// view if it was the last clause for that head.
func (c *Catalog) RemoveClause(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.clauses[id]
	if !ok {
		return errs.New(errs.InternalError, fmt.Sprintf("unknown clause id %q", id))
	}
	delete(c.clauses, id)
	c.uninstallView(rec.Clause.Head.Predicate, id)
	return nil
}

// ReplaceClause validates the new clause as if it replaced the old one,
// then swaps it in atomically (from the catalog's point of view).
func (c *Catalog) ReplaceClause(id string, newClause ast.Clause) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.clauses[id]
	if !ok {
		return errs.New(errs.InternalError, fmt.Sprintf("unknown clause id %q", id))
	}
	if err := checkSafety(newClause); err != nil {
		return err
	}

	trial := make(map[string]ClauseRecord, len(c.clauses))
	for k, v := range c.clauses {
		trial[k] = v
	}
	trial[id] = ClauseRecord{ID: id, Clause: newClause}
	if err := checkStratification(trial); err != nil {
		return err
	}
	if err := c.checkTypeConsistency(newClause); err != nil {
		return err
	}

	c.clauses[id] = ClauseRecord{ID: id, Clause: newClause}
	if old.Clause.Head.Predicate != newClause.Head.Predicate {
		c.uninstallView(old.Clause.Head.Predicate, id)
		c.installView(newClause.Head.Predicate, id)
	}
	return nil
}

func (c *Catalog) installView(headName, clauseID string) {
	rel, ok := c.relations[headName]
	if !ok {
		rel = RelationMeta{Name: headName, IsView: true}
	}
	rel.IsView = true
	rel.ClauseIDs = append(rel.ClauseIDs, clauseID)
	c.relations[headName] = rel
}

func (c *Catalog) uninstallView(headName, clauseID string) {
	rel, ok := c.relations[headName]
	if !ok {
		return
	}
	remaining := rel.ClauseIDs[:0]
	for _, id := range rel.ClauseIDs {
		if id != clauseID {
			remaining = append(remaining, id)
		}
	}
	rel.ClauseIDs = remaining
	if len(remaining) == 0 {
		delete(c.relations, headName)
		return
	}
	c.relations[headName] = rel
}

// checkTypeConsistency compares the argument count of the clause's head,
// and of its body atoms, with the column count of any declared schema
// for the same relation. It does not check argument types against the
// declared column types.
func (c *Catalog) checkTypeConsistency(clause ast.Clause) error {
	if rel, ok := c.relations[clause.Head.Predicate]; ok && len(rel.Columns) > 0 {
		if len(clause.Head.Args) != len(rel.Columns) {
			return errs.New(errs.ArityMismatch, fmt.Sprintf("head %q has %d args, schema declares %d columns", clause.Head.Predicate, len(clause.Head.Args), len(rel.Columns)))
		}
	}
	for _, lit := range clause.Body {
		if lit.Kind != ast.LiteralPositive && lit.Kind != ast.LiteralNegative {
			continue
		}
		if rel, ok := c.relations[lit.Atom.Predicate]; ok && len(rel.Columns) > 0 {
			if len(lit.Atom.Args) != len(rel.Columns) {
				return errs.New(errs.ArityMismatch, fmt.Sprintf("atom %q has %d args, schema declares %d columns", lit.Atom.Predicate, len(lit.Atom.Args), len(rel.Columns)))
			}
		}
	}
	return nil
}

// GetRelation returns the metadata for name, if known.
func (c *Catalog) GetRelation(name string) (RelationMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.relations[name]
	return r, ok
}

// ListRelations returns all known relations.
func (c *Catalog) ListRelations() []RelationMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RelationMeta, 0, len(c.relations))
	for _, r := range c.relations {
		out = append(out, r)
	}
	return out
}

// GetClause returns a registered clause by id.
func (c *Catalog) GetClause(id string) (ClauseRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.clauses[id]
	return r, ok
}

// ListClauses returns every clause whose head predicate is headName. If
// headName is empty, all clauses are returned.
func (c *Catalog) ListClauses(headName string) []ClauseRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ClauseRecord, 0)
	for _, r := range c.clauses {
		if headName == "" || r.Clause.Head.Predicate == headName {
			out = append(out, r)
		}
	}
	return out
}

// CreateIndex registers a new HNSW index declaration.
func (c *Catalog) CreateIndex(spec ast.IndexSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[spec.Name]; ok {
		return errs.New(errs.SchemaConflict, fmt.Sprintf("index %q already exists", spec.Name))
	}
	c.indexes[spec.Name] = IndexMeta{
		Name: spec.Name, Relation: spec.Relation, Column: spec.Column,
		Metric: spec.Metric, M: spec.M, EfConstruction: spec.EfConstruction,
	}
	return nil
}

// DropIndex removes an index declaration.
func (c *Catalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[name]; !ok {
		return errs.New(errs.InternalError, fmt.Sprintf("unknown index %q", name))
	}
	delete(c.indexes, name)
	return nil
}

// GetIndex returns an index declaration by name.
func (c *Catalog) GetIndex(name string) (IndexMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[name]
	return idx, ok
}

// ListIndexes returns every declared index.
func (c *Catalog) ListIndexes() []IndexMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]IndexMeta, 0, len(c.indexes))
	for _, idx := range c.indexes {
		out = append(out, idx)
	}
	return out
}

// DropRelation removes a base relation's schema declaration entirely. It
// is the catalog's half of the engine's drop operation; the caller is
// responsible for ensuring no view still depends on it.
func (c *Catalog) DropRelation(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.relations[name]; !ok {
		return errs.New(errs.RelationNotFound, name)
	}
	delete(c.relations, name)
	return nil
}

// SaveTo atomically rewrites catalog.json under dir (write to temp file +
// rename), per spec §6.
func (c *Catalog) SaveTo(dir string) error {
	c.mu.RLock()
	doc := document{
		Version:   currentVersion,
		Relations: c.relations,
		Clauses:   c.clauses,
		Indexes:   c.indexes,
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errs.Wrap(errs.InternalError, "marshal catalog", err)
	}
	path := filepath.Join(dir, "catalog.json")
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.PersistError, "write catalog temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.PersistError, "rename catalog temp file", err)
	}
	return nil
}

// LoadFrom reads catalog.json under dir, if it exists. A missing file
// yields an empty Catalog, not an error (a freshly created knowledge graph
// has no catalog yet).
func LoadFrom(dir string) (*Catalog, error) {
	path := filepath.Join(dir, "catalog.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.PersistError, "read catalog.json", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.PersistError, "parse catalog.json", err)
	}
	c := New()
	if doc.Relations != nil {
		c.relations = doc.Relations
	}
	if doc.Clauses != nil {
		c.clauses = doc.Clauses
	}
	if doc.Indexes != nil {
		c.indexes = doc.Indexes
	}
	return c, nil
}
