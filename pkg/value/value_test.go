package value

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		Null(),
		Int64(-42),
		Int64(0),
		Float64(3.5),
		Bool(true),
		Bool(false),
		String("hello, world"),
		VectorF32([]float32{1, 2, 3.5}),
		VectorI8([]int8{-1, 2, 3}, 0.5),
		Timestamp(1_700_000_000_000),
	}
	for _, v := range cases {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, v))
		got, err := Decode(&buf)
		require.NoError(t, err)
		assert.True(t, v.Equal(got), "round trip mismatch for kind %s", v.Kind())
	}
}

func TestTupleRoundTrip(t *testing.T) {
	tup := NewTuple(Int64(1), String("a"), Bool(true))
	enc, err := tup.Encode()
	require.NoError(t, err)
	got, err := DecodeTuple(enc)
	require.NoError(t, err)
	require.Equal(t, tup.Arity(), got.Arity())
	for i := range tup.Values {
		assert.True(t, tup.Values[i].Equal(got.Values[i]))
	}
}

func TestCompareCrossType(t *testing.T) {
	_, err := Compare(Int64(1), String("1"))
	require.Error(t, err)
	var te *TypeError
	require.ErrorAs(t, err, &te)
}

func TestCompareIntFloatPromotion(t *testing.T) {
	c, err := Compare(Int64(2), Float64(2.0))
	require.NoError(t, err)
	require.Equal(t, 0, c)
}

func TestArithmeticOverflow(t *testing.T) {
	_, err := Add(Int64(1<<62), Int64(1<<62))
	require.Error(t, err)
	var ae *ArithmeticError
	require.ErrorAs(t, err, &ae)
}

func TestDivByZeroYieldsNull(t *testing.T) {
	v, err := Div(Int64(1), Int64(0))
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestSqrtNegativeYieldsNull(t *testing.T) {
	v, err := Sqrt(Float64(-1))
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestAbsSaturates(t *testing.T) {
	v, err := Abs(Int64(minInt64ForTest))
	require.NoError(t, err)
	require.Equal(t, int64(maxInt64ForTest), v.AsInt64())
}

func TestVectorDimensionMismatchFailsCompare(t *testing.T) {
	_, err := Compare(VectorF32([]float32{1, 2}), VectorF32([]float32{1, 2, 3}))
	require.Error(t, err)
}

const (
	minInt64ForTest = -1 << 63
	maxInt64ForTest = 1<<63 - 1
)
