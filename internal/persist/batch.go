package persist

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/inputlayer/inputlayer/internal/errs"
	"github.com/inputlayer/inputlayer/pkg/value"
)

// BatchDiff is one (tuple, diff) pair at a consolidated logical time,
// matching the differential-update shape of spec §4.1: diff is +1 for an
// addition, -1 for a retraction.
type BatchDiff struct {
	Tuple value.Tuple
	Diff  int64
}

// Batch is an immutable, columnar, snappy-compressed record of every
// consolidated change to one relation over a half-open time range
// [Since, Upper).
type Batch struct {
	ID       string
	Relation string
	Since    uint64
	Upper    uint64
	Diffs    []BatchDiff
}

// batchFileName names a batch file by its id alone (<id>.cbat); the
// relation and frontier it covers are read from the file body and from
// the shard metadata that lists it.
func batchFileName(b Batch) string {
	return b.ID + ".cbat"
}

// WriteBatch snappy-compresses and writes b to dir/batches/, assigning it
// a fresh id if it does not already have one.
func WriteBatch(dir string, b Batch) (Batch, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	batchesDir := filepath.Join(dir, "batches")
	if err := os.MkdirAll(batchesDir, 0o755); err != nil {
		return b, errs.Wrap(errs.PersistError, "create batches dir", err)
	}

	var raw bytes.Buffer
	if err := encodeBatchBody(&raw, b); err != nil {
		return b, err
	}
	compressed := snappy.Encode(nil, raw.Bytes())

	path := filepath.Join(batchesDir, batchFileName(b))
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return b, errs.Wrap(errs.PersistError, "write batch temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return b, errs.Wrap(errs.PersistError, "rename batch file", err)
	}
	return b, nil
}

// ReadBatch decompresses and decodes a previously written batch file.
func ReadBatch(path string) (Batch, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, errs.Wrap(errs.PersistError, "read batch file", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Batch{}, errs.Wrap(errs.PersistError, "decompress batch file", err)
	}
	return decodeBatchBody(bytes.NewReader(raw))
}

func encodeBatchBody(w *bytes.Buffer, b Batch) error {
	if err := writeString(w, b.ID); err != nil {
		return err
	}
	if err := writeString(w, b.Relation); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, b.Since); err != nil {
		return errs.Wrap(errs.InternalError, "encode batch since", err)
	}
	if err := binary.Write(w, binary.LittleEndian, b.Upper); err != nil {
		return errs.Wrap(errs.InternalError, "encode batch upper", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b.Diffs))); err != nil {
		return errs.Wrap(errs.InternalError, "encode batch diff count", err)
	}
	for _, d := range b.Diffs {
		tb, err := d.Tuple.Encode()
		if err != nil {
			return errs.Wrap(errs.InternalError, "encode batch tuple", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(tb))); err != nil {
			return err
		}
		w.Write(tb)
		if err := binary.Write(w, binary.LittleEndian, d.Diff); err != nil {
			return errs.Wrap(errs.InternalError, "encode batch diff", err)
		}
	}
	return nil
}

func decodeBatchBody(r *bytes.Reader) (Batch, error) {
	var b Batch
	var err error
	if b.ID, err = readString(r); err != nil {
		return b, err
	}
	if b.Relation, err = readString(r); err != nil {
		return b, err
	}
	if err := binary.Read(r, binary.LittleEndian, &b.Since); err != nil {
		return b, errs.Wrap(errs.PersistError, "decode batch since", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &b.Upper); err != nil {
		return b, errs.Wrap(errs.PersistError, "decode batch upper", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return b, errs.Wrap(errs.PersistError, "decode batch diff count", err)
	}
	b.Diffs = make([]BatchDiff, 0, count)
	for i := uint32(0); i < count; i++ {
		var tlen uint32
		if err := binary.Read(r, binary.LittleEndian, &tlen); err != nil {
			return b, errs.Wrap(errs.PersistError, "decode batch tuple length", err)
		}
		tb := make([]byte, tlen)
		if _, err := io.ReadFull(r, tb); err != nil {
			return b, errs.Wrap(errs.PersistError, "decode batch tuple bytes", err)
		}
		tup, err := value.DecodeTuple(tb)
		if err != nil {
			return b, err
		}
		var diff int64
		if err := binary.Read(r, binary.LittleEndian, &diff); err != nil {
			return b, errs.Wrap(errs.PersistError, "decode batch diff value", err)
		}
		b.Diffs = append(b.Diffs, BatchDiff{Tuple: tup, Diff: diff})
	}
	return b, nil
}

func writeString(w *bytes.Buffer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return errs.Wrap(errs.InternalError, "encode string length", err)
	}
	w.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", errs.Wrap(errs.PersistError, "decode string length", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errs.Wrap(errs.PersistError, "decode string bytes", err)
	}
	return string(buf), nil
}
