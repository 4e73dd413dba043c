package persist

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/inputlayer/inputlayer/internal/config"
	"github.com/inputlayer/inputlayer/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCfg() config.StoragePersistConfig {
	return config.StoragePersistConfig{Durability: config.DurabilityImmediate, BufferSize: 2}
}

func TestAppendAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "kg1", testCfg())
	require.NoError(t, err)
	defer s.Close()

	tup := value.NewTuple(value.Int64(1), value.String("a"))
	_, err = s.Append("edge", OpInsert, tup)
	require.NoError(t, err)

	counts, tuples, err := s.Snapshot("edge")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[tup.Key()])
	assert.Equal(t, tup, tuples[tup.Key()])
}

func TestFlushRollsBatchFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "kg1", testCfg())
	require.NoError(t, err)
	defer s.Close()

	tup1 := value.NewTuple(value.Int64(1))
	tup2 := value.NewTuple(value.Int64(2))
	_, err = s.Append("edge", OpInsert, tup1)
	require.NoError(t, err)
	_, err = s.Append("edge", OpInsert, tup2)
	require.NoError(t, err)

	// BufferSize is 2, so the second Append should have auto-flushed.
	meta, ok := s.shards.Get("edge")
	require.True(t, ok)
	assert.Len(t, meta.Batches, 1)

	counts, _, err := s.Snapshot("edge")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[tup1.Key()])
	assert.Equal(t, int64(1), counts[tup2.Key()])
}

func TestCompactConsolidatesAndDropsZeroed(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "kg1", testCfg())
	require.NoError(t, err)
	defer s.Close()

	tup := value.NewTuple(value.Int64(7))
	_, err = s.Append("node", OpInsert, tup)
	require.NoError(t, err)
	require.NoError(t, s.Flush("node"))
	_, err = s.Append("node", OpDelete, tup)
	require.NoError(t, err)
	require.NoError(t, s.Flush("node"))

	require.NoError(t, s.Compact("node"))

	meta, ok := s.shards.Get("node")
	require.True(t, ok)
	require.Len(t, meta.Batches, 1)

	counts, _, err := s.Snapshot("node")
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[tup.Key()])
}

func TestRecoveryReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "kg1", testCfg())
	require.NoError(t, err)

	tup := value.NewTuple(value.Int64(9))
	_, err = s.Append("node", OpInsert, tup)
	require.NoError(t, err)
	require.NoError(t, s.wal.Sync())
	// Simulate a crash: no FlushAll/Close, just reopen.

	reopened, err := Open(dir, "kg1", testCfg())
	require.NoError(t, err)
	defer reopened.Close()

	counts, _, err := reopened.Snapshot("node")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[tup.Key()])
}

func TestTornWriteTailIsTruncated(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "kg1", testCfg())
	require.NoError(t, err)

	tup := value.NewTuple(value.Int64(3))
	_, err = s.Append("node", OpInsert, tup)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Append a torn trailing frame: a length header promising more body
	// bytes than actually follow, mimicking a crash mid-write.
	walPath := filepath.Join(dir, "wal", "current.wal")
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], 1000)
	binary.LittleEndian.PutUint32(header[4:8], 0xdeadbeef)
	_, err = f.Write(header[:])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(dir, "kg1", testCfg())
	require.NoError(t, err)
	defer reopened.Close()

	counts, _, err := reopened.Snapshot("node")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[tup.Key()])
}
