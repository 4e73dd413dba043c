// Package persist implements spec §4.3: the write-ahead log, columnar
// immutable batch files, shard metadata, compaction, and crash recovery
// that back every base relation's durability. The on-disk layout (one
// directory per knowledge graph, wal/current.wal, batches/*.cbat,
// shards/*.json) is mandated by spec §6, so unlike internal/vectorindex this
// package cannot reuse the teacher's go.etcd.io/bbolt store wholesale —
// it instead keeps the teacher's CRUD-per-entity discipline
// (pkg/storage.BoltStore) and re-expresses it over flat files written to a
// temp file and renamed into place.
package persist

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/inputlayer/inputlayer/internal/config"
	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// RecordOp enumerates the kind of change a WAL record carries.
type RecordOp uint8

const (
	OpInsert RecordOp = 1
	OpDelete RecordOp = 2
)

// Record is one logical change to a relation at a logical time.
type Record struct {
	Op       RecordOp
	Relation string
	Tuple    value.Tuple
	Time     uint64
}

// WAL is an append-only, length-prefixed, checksummed log of Records for
// one knowledge graph. Every record is: [uint32 length][uint32 crc32][body].
// A torn trailing write (process killed mid-append) is detected by a
// length or checksum mismatch and truncated away on the next Open, per
// spec §4.3's crash-recovery invariant.
type WAL struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// OpenWAL opens (creating if absent) wal/current.wal under dir, truncating
// any torn trailing record left by a prior crash.
func OpenWAL(dir string) (*WAL, error) {
	walDir := filepath.Join(dir, "wal")
	if err := os.MkdirAll(walDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.PersistError, "create wal dir", err)
	}
	path := filepath.Join(walDir, "current.wal")

	if err := truncateTornTail(path); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.PersistError, "open wal", err)
	}
	return &WAL{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// truncateTornTail scans the WAL from the front, verifying each record's
// checksum, and truncates the file at the first record that fails to
// fully decode — the torn write left by a crash mid-append.
func truncateTornTail(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.PersistError, "open wal for recovery scan", err)
	}
	defer f.Close()

	var offset int64
	r := bufio.NewReader(f)
	for {
		good, n, err := tryReadRecord(r)
		if err != nil {
			return errs.Wrap(errs.PersistError, "scan wal", err)
		}
		if !good {
			break
		}
		offset += int64(n)
	}
	return f.Truncate(offset)
}

// tryReadRecord reads one length-prefixed, checksummed frame, reporting
// whether it was fully intact (good) and how many bytes it occupied.
func tryReadRecord(r *bufio.Reader) (good bool, n int, err error) {
	header := make([]byte, 8)
	read, err := io.ReadFull(r, header)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	length := binary.LittleEndian.Uint32(header[0:4])
	wantCRC := binary.LittleEndian.Uint32(header[4:8])

	body := make([]byte, length)
	bn, err := io.ReadFull(r, body)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if crc32.ChecksumIEEE(body) != wantCRC {
		return false, 0, nil
	}
	return true, read + bn, nil
}

// Append writes rec to the log. durability controls when the write is
// guaranteed visible to a subsequent crash-recovery scan: Immediate
// fsyncs before returning, Batched relies on the caller's periodic
// Flush/Sync, Async never blocks the writer on disk I/O at all.
func (w *WAL) Append(rec Record, durability config.Durability) error {
	body, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(body))

	if _, err := w.w.Write(header[:]); err != nil {
		return errs.Wrap(errs.PersistError, "append wal header", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return errs.Wrap(errs.PersistError, "append wal body", err)
	}

	if durability == config.DurabilityAsync {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return errs.Wrap(errs.PersistError, "flush wal", err)
	}
	if durability == config.DurabilityImmediate {
		if err := w.f.Sync(); err != nil {
			return errs.Wrap(errs.PersistError, "fsync wal", err)
		}
	}
	return nil
}

// Sync flushes buffered writes and fsyncs, for batched-durability callers
// on their flush timer.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return errs.Wrap(errs.PersistError, "flush wal", err)
	}
	return w.f.Sync()
}

// Replay reads every intact record from the beginning of the log.
func (w *WAL) Replay() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.w.Flush(); err != nil {
		return nil, errs.Wrap(errs.PersistError, "flush before replay", err)
	}
	f, err := os.Open(w.path)
	if err != nil {
		return nil, errs.Wrap(errs.PersistError, "open wal for replay", err)
	}
	defer f.Close()

	var out []Record
	r := bufio.NewReader(f)
	for {
		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errs.Wrap(errs.PersistError, "read wal record header", err)
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		wantCRC := binary.LittleEndian.Uint32(header[4:8])
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, errs.Wrap(errs.PersistError, "read wal record body", err)
		}
		if crc32.ChecksumIEEE(body) != wantCRC {
			return nil, errs.New(errs.PersistError, "wal checksum mismatch on replay")
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Reset truncates the log to empty, called after the records it holds
// have been durably rolled into a new batch file.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(0); err != nil {
		return errs.Wrap(errs.PersistError, "truncate wal", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return errs.Wrap(errs.PersistError, "seek wal", err)
	}
	w.w = bufio.NewWriter(w.f)
	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

func encodeRecord(rec Record) ([]byte, error) {
	var buf []byte
	buf = append(buf, byte(rec.Op))
	relBytes := []byte(rec.Relation)
	var relLen [4]byte
	binary.LittleEndian.PutUint32(relLen[:], uint32(len(relBytes)))
	buf = append(buf, relLen[:]...)
	buf = append(buf, relBytes...)

	var timeBuf [8]byte
	binary.LittleEndian.PutUint64(timeBuf[:], rec.Time)
	buf = append(buf, timeBuf[:]...)

	tb, err := rec.Tuple.Encode()
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "encode wal tuple", err)
	}
	buf = append(buf, tb...)
	return buf, nil
}

func decodeRecord(body []byte) (Record, error) {
	if len(body) < 1+4+8 {
		return Record{}, errs.New(errs.PersistError, "truncated wal record")
	}
	op := RecordOp(body[0])
	relLen := binary.LittleEndian.Uint32(body[1:5])
	offset := 5
	if len(body) < offset+int(relLen)+8 {
		return Record{}, errs.New(errs.PersistError, "truncated wal record relation")
	}
	relation := string(body[offset : offset+int(relLen)])
	offset += int(relLen)
	t := binary.LittleEndian.Uint64(body[offset : offset+8])
	offset += 8

	tup, err := value.DecodeTuple(body[offset:])
	if err != nil {
		return Record{}, errs.Wrap(errs.PersistError, "decode wal tuple", err)
	}
	return Record{Op: op, Relation: relation, Tuple: tup, Time: t}, nil
}
