package persist

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/inputlayer/inputlayer/internal/config"
	"github.com/inputlayer/inputlayer/internal/logx"
	"github.com/inputlayer/inputlayer/internal/telemetry"
	"github.com/inputlayer/inputlayer/pkg/value"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is one knowledge graph's durable base-relation storage: a
// shared WAL for recent writes plus per-relation batch files once
// flushed, tracked by a ShardTable. It is the engine's unit of crash
// recovery (spec §4.3, §8 scenario S4).
type Store struct {
	mu  sync.Mutex
	dir string
	kg  string
	cfg config.StoragePersistConfig

	wal    *WAL
	shards *ShardTable

	// pending buffers writes not yet rolled into a batch file, keyed by
	// relation, in the order flush policy will consolidate them.
	pending map[string][]BatchDiff
	clock   uint64
}

// Open opens or creates a Store rooted at dir for knowledge graph kg,
// replaying the WAL to rebuild pending in-memory state left over from
// before a crash or restart.
func Open(dir, kg string, cfg config.StoragePersistConfig) (*Store, error) {
	wal, err := OpenWAL(dir)
	if err != nil {
		return nil, err
	}
	shards, err := OpenShardTable(dir)
	if err != nil {
		return nil, err
	}
	s := &Store{
		dir:     dir,
		kg:      kg,
		cfg:     cfg,
		wal:     wal,
		shards:  shards,
		pending: make(map[string][]BatchDiff),
	}

	records, err := wal.Replay()
	if err != nil {
		return nil, err
	}
	for _, meta := range shards.All() {
		if meta.Upper > s.clock+1 {
			s.clock = meta.Upper - 1
		}
	}
	for _, rec := range records {
		if rec.Time > s.clock {
			s.clock = rec.Time
		}
		if meta, ok := shards.Get(rec.Relation); ok && rec.Time < meta.Upper {
			continue // already absorbed by a flushed batch
		}
		diff := int64(1)
		if rec.Op == OpDelete {
			diff = -1
		}
		s.pending[rec.Relation] = append(s.pending[rec.Relation], BatchDiff{Tuple: rec.Tuple, Diff: diff})
	}
	if len(records) > 0 {
		logx.WithComponent("persist").Info().Int("records", len(records)).Str("dir", dir).Msg("replayed wal on open")
	}
	return s, nil
}

// Append records one change in the WAL at the store's next logical time
// and returns that time. How soon the record reaches disk follows the
// configured durability mode (see WAL.Append).
func (s *Store) Append(relation string, op RecordOp, tuple value.Tuple) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock++
	t := s.clock
	timer := prometheus.NewTimer(telemetry.WriteLatency.WithLabelValues(string(s.cfg.Durability)))
	defer timer.ObserveDuration()

	rec := Record{Op: op, Relation: relation, Tuple: tuple, Time: t}
	if err := s.wal.Append(rec, s.cfg.Durability); err != nil {
		return 0, err
	}
	diff := int64(1)
	if op == OpDelete {
		diff = -1
	}
	s.pending[relation] = append(s.pending[relation], BatchDiff{Tuple: tuple, Diff: diff})
	recordBytes := 8 // length + checksum header
	if body, err := encodeRecord(rec); err == nil {
		recordBytes += len(body)
	}
	telemetry.WALBytesPending.WithLabelValues(s.kg, relation).Add(float64(recordBytes))

	if len(s.pending[relation]) >= s.cfg.BufferSize {
		if err := s.flushLocked(relation); err != nil {
			return t, err
		}
	}
	return t, nil
}

// Flush rolls a relation's pending writes into a new batch file and
// advances its shard's frontier. Safe to call with no pending writes
// (a no-op).
func (s *Store) Flush(relation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(relation)
}

func (s *Store) flushLocked(relation string) error {
	diffs := s.pending[relation]
	if len(diffs) == 0 {
		return nil
	}
	meta, _ := s.shards.Get(relation)
	since := meta.Upper

	batch := Batch{Relation: relation, Since: since, Upper: s.clock + 1, Diffs: diffs}
	written, err := WriteBatch(s.dir, batch)
	if err != nil {
		return err
	}
	if err := s.shards.AppendBatch(written); err != nil {
		return err
	}
	delete(s.pending, relation)
	telemetry.BatchesFlushed.WithLabelValues(s.kg, relation).Inc()
	telemetry.WALBytesPending.WithLabelValues(s.kg, relation).Set(0)
	return nil
}

// FlushAll flushes every relation with pending writes, then resets the
// WAL since its contents are now all durably captured in batch files.
func (s *Store) FlushAll() error {
	s.mu.Lock()
	relations := make([]string, 0, len(s.pending))
	for rel := range s.pending {
		relations = append(relations, rel)
	}
	sort.Strings(relations)
	for _, rel := range relations {
		if err := s.flushLocked(rel); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()
	return s.wal.Reset()
}

// Snapshot returns the consolidated (tuple -> net diff) multiset for a
// relation across its flushed batches and any still-pending writes —
// the base-relation input the dataflow engine feeds into its first
// stratum.
func (s *Store) Snapshot(relation string) (map[string]int64, map[string]value.Tuple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	tuples := make(map[string]value.Tuple)

	meta, ok := s.shards.Get(relation)
	if ok {
		for _, name := range meta.Batches {
			b, err := ReadBatch(filepath.Join(s.dir, "batches", name))
			if err != nil {
				return nil, nil, err
			}
			for _, d := range b.Diffs {
				k := d.Tuple.Key()
				counts[k] += d.Diff
				tuples[k] = d.Tuple
			}
		}
	}
	for _, d := range s.pending[relation] {
		k := d.Tuple.Key()
		counts[k] += d.Diff
		tuples[k] = d.Tuple
	}
	return counts, tuples, nil
}

// Compact consolidates every batch file for relation into a single
// batch covering the full frontier, dropping tuples whose net count has
// gone to zero. This is spec §4.3's compaction operation; it runs only
// when called (the engine's Compact and the compact command), and the
// configured compaction window does not trigger it.
func (s *Store) Compact(relation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.shards.Get(relation)
	if !ok || len(meta.Batches) <= 1 {
		return nil
	}

	counts := make(map[string]int64)
	tuples := make(map[string]value.Tuple)
	for _, name := range meta.Batches {
		b, err := ReadBatch(filepath.Join(s.dir, "batches", name))
		if err != nil {
			return err
		}
		for _, d := range b.Diffs {
			k := d.Tuple.Key()
			counts[k] += d.Diff
			tuples[k] = d.Tuple
		}
	}

	diffs := make([]BatchDiff, 0, len(counts))
	for k, c := range counts {
		if c == 0 {
			continue
		}
		diffs = append(diffs, BatchDiff{Tuple: tuples[k], Diff: c})
	}

	newBatch := Batch{Relation: relation, Since: 0, Upper: meta.Upper, Diffs: diffs}
	written, err := WriteBatch(s.dir, newBatch)
	if err != nil {
		return err
	}

	oldNames := meta.Batches
	if err := s.shards.ReplaceBatches(relation, 0, []string{batchFileName(written)}); err != nil {
		return err
	}
	removeStaleBatches(s.dir, oldNames)
	telemetry.CompactionsTotal.WithLabelValues(s.kg, relation).Inc()
	return nil
}

// removeStaleBatches best-effort removes superseded batch files; a
// failure to remove one is logged, not propagated, since the shard
// table no longer references it and a stray file costs disk, not
// correctness.
func removeStaleBatches(dir string, names []string) {
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, "batches", name)); err != nil {
			logx.WithComponent("persist").Warn().Err(err).Str("file", name).Msg("failed to remove superseded batch file")
		}
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
