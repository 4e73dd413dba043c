package value

import "bytes"

// Tuple is a fixed-arity ordered sequence of Values.
type Tuple struct {
	Values []Value
}

// NewTuple constructs a Tuple from the given values.
func NewTuple(vs ...Value) Tuple {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Tuple{Values: cp}
}

func (t Tuple) Arity() int { return len(t.Values) }

// Encode writes the canonical form: a reserved zero byte, a uint16 arity
// prefix, then each Value's own encoding. This is what makes tuples byte-comparable inside
// ordered containers, per spec.
func (t Tuple) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeByte(&buf, 0); err != nil { // reserved/version byte
		return nil, err
	}
	if err := writeU16(&buf, uint16(len(t.Values))); err != nil {
		return nil, err
	}
	for _, v := range t.Values {
		if err := Encode(&buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeTuple is the inverse of Tuple.Encode.
func DecodeTuple(b []byte) (Tuple, error) {
	r := bytes.NewReader(b)
	if _, err := readByte(r); err != nil {
		return Tuple{}, err
	}
	n, err := readU16(r)
	if err != nil {
		return Tuple{}, err
	}
	vs := make([]Value, n)
	for i := range vs {
		v, err := Decode(r)
		if err != nil {
			return Tuple{}, err
		}
		vs[i] = v
	}
	return Tuple{Values: vs}, nil
}

// Key returns a canonical comparable string usable as a Go map key, for
// consolidating multisets of tuples by identity.
func (t Tuple) Key() string {
	b, err := t.Encode()
	if err != nil {
		// Encode only fails on writer errors; bytes.Buffer never errors.
		panic(err)
	}
	return string(b)
}

// CompareTuples performs a lexicographic, field-by-field comparison. Arity
// mismatch is treated as the shorter tuple sorting first (callers that
// require equal arity should check Arity() themselves).
func CompareTuples(a, b Tuple) (int, error) {
	n := len(a.Values)
	if len(b.Values) < n {
		n = len(b.Values)
	}
	for i := 0; i < n; i++ {
		c, err := Compare(a.Values[i], b.Values[i])
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	switch {
	case len(a.Values) < len(b.Values):
		return -1, nil
	case len(a.Values) > len(b.Values):
		return 1, nil
	default:
		return 0, nil
	}
}

func writeU16(w *bytes.Buffer, v uint16) error {
	w.WriteByte(byte(v))
	w.WriteByte(byte(v >> 8))
	return nil
}

func readU16(r *bytes.Reader) (uint16, error) {
	lo, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	hi, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}
