package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/inputlayer/inputlayer/internal/errs"
)

// ShardMeta tracks one relation's batch history: the frontier its
// persisted batches cover, and the list of batch files making it up.
// Shard metadata is what a fresh process consults on startup to know
// which batches to load and where WAL replay should resume from.
type ShardMeta struct {
	Relation string   `json:"relation"`
	Since    uint64   `json:"since"` // lower bound of the oldest retained batch
	Upper    uint64   `json:"upper"` // exclusive upper bound of the times the shard's batches cover
	Batches  []string `json:"batches"`
}

// ShardTable is the per-knowledge-graph registry of ShardMeta, persisted
// as shards/<relation>.json per relation (spec §6).
type ShardTable struct {
	mu     sync.RWMutex
	dir    string
	shards map[string]ShardMeta
}

func OpenShardTable(dir string) (*ShardTable, error) {
	shardDir := filepath.Join(dir, "shards")
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.PersistError, "create shards dir", err)
	}
	entries, err := os.ReadDir(shardDir)
	if err != nil {
		return nil, errs.Wrap(errs.PersistError, "read shards dir", err)
	}
	st := &ShardTable{dir: dir, shards: make(map[string]ShardMeta)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(shardDir, e.Name()))
		if err != nil {
			return nil, errs.Wrap(errs.PersistError, "read shard file", err)
		}
		var meta ShardMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, errs.Wrap(errs.PersistError, "parse shard file", err)
		}
		st.shards[meta.Relation] = meta
	}
	return st, nil
}

func (st *ShardTable) Get(relation string) (ShardMeta, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	m, ok := st.shards[relation]
	return m, ok
}

func (st *ShardTable) All() []ShardMeta {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]ShardMeta, 0, len(st.shards))
	for _, m := range st.shards {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Relation < out[j].Relation })
	return out
}

// AppendBatch records a newly written batch against its relation's shard,
// advancing Upper, and persists the shard file atomically.
func (st *ShardTable) AppendBatch(b Batch) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	meta, ok := st.shards[b.Relation]
	if !ok {
		meta = ShardMeta{Relation: b.Relation, Since: b.Since}
	}
	meta.Batches = append(meta.Batches, batchFileName(b))
	if b.Upper > meta.Upper {
		meta.Upper = b.Upper
	}
	st.shards[b.Relation] = meta
	return st.save(meta)
}

// ReplaceBatches swaps a relation's batch list for a compacted one,
// advancing Since to the new floor.
func (st *ShardTable) ReplaceBatches(relation string, since uint64, batchFiles []string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	meta, ok := st.shards[relation]
	if !ok {
		meta = ShardMeta{Relation: relation}
	}
	meta.Since = since
	meta.Batches = batchFiles
	st.shards[relation] = meta
	return st.save(meta)
}

func (st *ShardTable) save(meta ShardMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errs.Wrap(errs.InternalError, "marshal shard meta", err)
	}
	path := filepath.Join(st.dir, "shards", meta.Relation+".json")
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.PersistError, "write shard temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.PersistError, "rename shard file", err)
	}
	return nil
}
