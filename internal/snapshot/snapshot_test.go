package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inputlayer/inputlayer/pkg/value"
)

func TestPublishRejectsNonAdvancingTime(t *testing.T) {
	m := NewManager()
	ok := m.Publish(New(5, map[string][]value.Tuple{"edge": {value.NewTuple(value.Int64(1))}}))
	require.True(t, ok)

	ok = m.Publish(New(5, map[string][]value.Tuple{}))
	assert.False(t, ok)

	ok = m.Publish(New(4, map[string][]value.Tuple{}))
	assert.False(t, ok)

	cur := m.Acquire()
	defer m.Release(cur)
	assert.Equal(t, uint64(5), cur.Time)
}

func TestAcquireSeesCoherentCrossRelationView(t *testing.T) {
	m := NewManager()
	m.Publish(New(1, map[string][]value.Tuple{
		"a": {value.NewTuple(value.Int64(1))},
		"b": {value.NewTuple(value.Int64(2))},
	}))

	s := m.Acquire()
	defer m.Release(s)
	assert.Len(t, s.Get("a"), 1)
	assert.Len(t, s.Get("b"), 1)
	assert.Nil(t, s.Get("missing"))
}
