package vectorindex

import (
	"bytes"
	"encoding/gob"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/ast"
)

var (
	bucketNodes = []byte("nodes")
	bucketMeta  = []byte("meta")
)

type persistedNode struct {
	ID        string
	Vec       []float32
	Level     int
	Neighbors [][]string
	Tombstone bool
}

// Store persists one knowledge graph's HNSW indexes, one bbolt database
// per knowledge graph (<kg>.hnsw.db under dir), grounded on the teacher's
// BoltStore: a bolt.DB opened once. Each index is stored as one record in
// the nodes bucket, keyed by index name (gob-encoded, since node
// adjacency is a nested slice-of-slices that doesn't need cross-language
// portability).
type Store struct {
	db *bolt.DB
}

func OpenStore(dir, kg string) (*Store, error) {
	path := filepath.Join(dir, kg+".hnsw.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errs.Wrap(errs.PersistError, "open hnsw store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNodes); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.PersistError, "create hnsw buckets", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveIndex persists idx's graph under indexName, overwriting whatever
// was there before — the index lifecycle rebuilds the whole graph, it
// never diffs against the stored copy.
func (s *Store) SaveIndex(indexName string, idx *Index) error {
	idx.mu.RLock()
	nodes := make([]persistedNode, 0, len(idx.nodes))
	for _, n := range idx.nodes {
		nodes = append(nodes, persistedNode{
			ID: n.id, Vec: n.vec, Level: n.level,
			Neighbors: n.neighbors, Tombstone: n.tombstone,
		})
	}
	entry := idx.entry
	idx.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(struct {
		Nodes []persistedNode
		Entry string
	}{Nodes: nodes, Entry: entry}); err != nil {
		return errs.Wrap(errs.InternalError, "encode hnsw index", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Put([]byte(indexName), buf.Bytes())
	})
}

// LoadIndex reconstructs a previously saved graph. A missing record
// yields a fresh empty index, not an error.
func LoadIndex(s *Store, spec ast.IndexSpec) (*Index, error) {
	idx := New(spec)
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketNodes).Get([]byte(spec.Name))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.PersistError, "read hnsw index", err)
	}
	if data == nil {
		return idx, nil
	}

	var decoded struct {
		Nodes []persistedNode
		Entry string
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&decoded); err != nil {
		return nil, errs.Wrap(errs.PersistError, "decode hnsw index", err)
	}
	idx.entry = decoded.Entry
	for _, pn := range decoded.Nodes {
		idx.nodes[pn.ID] = &node{
			id: pn.ID, vec: pn.Vec, level: pn.Level,
			neighbors: pn.Neighbors, tombstone: pn.Tombstone,
		}
		if pn.Tombstone {
			idx.tombstoneCount++
		}
	}
	return idx, nil
}
