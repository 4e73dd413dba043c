// Package rulelifecycle implements spec §4.7's rule lifecycle controller:
// a single-threaded-per-knowledge-graph state machine that validates a
// proposed clause change, quiesces in-flight writers, rebuilds the
// dataflow from the post-change catalog, re-feeds base relations, and
// publishes a new snapshot. Grounded on the teacher's pkg/manager
// reconciliation loop (validate desired state, drain in-flight work,
// apply, publish), generalized from cluster reconciliation to Datalog
// rule-set reconciliation.
package rulelifecycle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/inputlayer/inputlayer/internal/catalog"
	"github.com/inputlayer/inputlayer/internal/dataflow"
	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/internal/probe"
	"github.com/inputlayer/inputlayer/internal/snapshot"
	"github.com/inputlayer/inputlayer/pkg/ast"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// ChangeKind enumerates spec §4.7's ClauseChange variants.
type ChangeKind string

const (
	ChangeAdd     ChangeKind = "add"
	ChangeRemove  ChangeKind = "remove"
	ChangeReplace ChangeKind = "replace"
	ChangeClear   ChangeKind = "clear"
)

// Change is one proposed mutation to a knowledge graph's persistent rule
// set.
type Change struct {
	Kind ChangeKind

	Clause   ast.Clause // Add/Replace
	ClauseID string     // Remove/Replace

	// Relation scopes Clear to one head predicate's clauses; "" clears
	// every persistent clause in the knowledge graph.
	Relation string
}

// BaseLookup supplies current persisted contents of a base relation,
// feeding the rebuilt dataflow at step 5 of spec §4.7.
type BaseLookup = dataflow.FactLookup

// Controller drives spec §4.7's algorithm for one knowledge graph. It is
// not safe for concurrent Apply calls from multiple goroutines — per
// spec, the controller is single-threaded per knowledge graph.
type Controller struct {
	catalog   *catalog.Catalog
	snapshots *snapshot.Manager
	base      BaseLookup
	probeCfg  probe.Config
	newBackoff func() backoff.BackOff

	inflight int64
	clock    uint64

	// lastViews is the most recently published view materialization,
	// keyed by predicate. ApplyFactChange reuses it to scope recomputation
	// down to the strata actually reachable from the written relation,
	// instead of redriving the whole program the way a rule change does.
	lastViews map[string][]value.Tuple
}

// New builds a Controller for one knowledge graph's catalog, snapshot
// manager, and base-relation reader.
func New(cat *catalog.Catalog, snapshots *snapshot.Manager, base BaseLookup) *Controller {
	return &Controller{
		catalog:   cat,
		snapshots: snapshots,
		base:      base,
		probeCfg:  probe.DefaultConfig(),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// BeginWrite/EndWrite bracket an in-flight write so Apply's quiesce step
// can wait for writers to drain before tearing down the dataflow scope.
func (c *Controller) BeginWrite() { atomic.AddInt64(&c.inflight, 1) }
func (c *Controller) EndWrite()   { atomic.AddInt64(&c.inflight, -1) }

// Apply runs spec §4.7's full algorithm. If step 1 (validate) fails, no
// catalog mutation occurs and Apply returns immediately with no visible
// change. If any of steps 2-5 fail, Apply retries with exponential
// backoff; persisted base data is untouched throughout this package,
// since it only ever reads it.
func (c *Controller) Apply(ctx context.Context, change Change) error {
	if err := c.validateAndCommit(change); err != nil {
		return err
	}
	return backoff.Retry(func() error {
		return c.rebuildAndPublish(ctx, nil)
	}, backoff.WithContext(c.newBackoff(), ctx))
}

// validateAndCommit is step 1: the catalog's own Register/Replace/Remove
// methods perform safety, stratification, and schema checks before
// mutating, so a validation failure here never touches catalog state.
func (c *Controller) validateAndCommit(change Change) error {
	switch change.Kind {
	case ChangeAdd:
		_, err := c.catalog.RegisterClause(change.Clause)
		return err
	case ChangeReplace:
		return c.catalog.ReplaceClause(change.ClauseID, change.Clause)
	case ChangeRemove:
		return c.catalog.RemoveClause(change.ClauseID)
	case ChangeClear:
		for _, rec := range c.catalog.ListClauses(change.Relation) {
			if err := c.catalog.RemoveClause(rec.ID); err != nil {
				return err
			}
		}
		return nil
	default:
		return errs.New(errs.InternalError, "unknown clause change kind")
	}
}

// Republish reruns steps 2-6 without a preceding clause change, fully
// redriving every view from scratch. Apply runs the same full redrive
// after a rule change, per spec §4.4 ("rule change = graph change... rebuilds the whole persistent
// program").
func (c *Controller) Republish(ctx context.Context) error {
	return backoff.Retry(func() error {
		return c.rebuildAndPublish(ctx, nil)
	}, backoff.WithContext(c.newBackoff(), ctx))
}

// ApplyFactChange runs steps 2-6 scoped to one base relation: spec §1
// names incremental maintenance under fact traffic as a first-class
// concern distinct from rule-change rebuilds, so an ordinary
// InsertFact/DeleteFact reuses the last materialization for every view
// that cannot read the written relation, instead of re-running
// dataflow.Evaluate over the whole program on every write.
func (c *Controller) ApplyFactChange(ctx context.Context, relation string) error {
	changed := map[string]bool{relation: true}
	return backoff.Retry(func() error {
		return c.rebuildAndPublish(ctx, changed)
	}, backoff.WithContext(c.newBackoff(), ctx))
}

// rebuildAndPublish is steps 2-6: quiesce, rebuild, re-feed, publish. A
// nil changed redrives every stratum (rule changes, and Republish's full
// resync); a non-nil changed scopes recomputation to the strata
// dataflow.EvaluateChanged determines are reachable from it, reusing
// lastViews for the rest.
func (c *Controller) rebuildAndPublish(ctx context.Context, changed map[string]bool) error {
	if err := probe.WaitPastFunc(ctx, c.probeCfg, func() bool {
		return atomic.LoadInt64(&c.inflight) == 0
	}); err != nil {
		return err
	}

	clauses := make(map[string]catalog.ClauseRecord)
	for _, rec := range c.catalog.ListClauses("") {
		clauses[rec.ID] = rec
	}

	var views map[string][]value.Tuple
	var err error
	if changed == nil {
		views, err = dataflow.Evaluate(ctx, clauses, c.base)
	} else {
		views, err = dataflow.EvaluateChanged(ctx, clauses, c.base, c.lastViews, changed)
	}
	if err != nil {
		return err
	}

	merged := make(map[string][]value.Tuple, len(views))
	for p, tuples := range views {
		merged[p] = tuples
	}
	for _, rel := range c.catalog.ListRelations() {
		if rel.IsView {
			continue
		}
		if _, already := merged[rel.Name]; !already {
			merged[rel.Name] = c.base(rel.Name)
		}
	}

	t := atomic.AddUint64(&c.clock, 1)
	if !c.snapshots.Publish(snapshot.New(t, merged)) {
		return errs.New(errs.InternalError, "snapshot publish did not advance time")
	}
	c.lastViews = views
	return nil
}
