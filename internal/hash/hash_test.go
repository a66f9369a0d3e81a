package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_WriteAny(t *testing.T) {
	h := New("test")
	assert.NoError(t, h.WriteAny([]byte{1, 4, 6}, "abc", uint64(35)))
	assert.NoError(t, h.WriteAny(BytesWithDomain{TheDomain: "custom", Bytes: []byte{7}}))
	assert.Error(t, h.WriteAny(3.5))
	assert.Len(t, h.Sum(), DigestLengthBytes)
}

func digest(t *testing.T, context string, data ...interface{}) string {
	t.Helper()
	h := New(context)
	require.NoError(t, h.WriteAny(data...))
	return h.SumHex()
}

func TestHashSeparation(t *testing.T) {
	assert.Equal(t, digest(t, "a", "x"), digest(t, "a", "x"))
	assert.NotEqual(t, digest(t, "a", "x"), digest(t, "b", "x"), "contexts must separate")
	assert.NotEqual(t, digest(t, "a", "ab", "c"), digest(t, "a", "a", "bc"), "items must be framed")
	assert.NotEqual(t, digest(t, "a", "x"), digest(t, "a", []byte("x")), "types must be separated")
}

func TestClone(t *testing.T) {
	h := New("clone")
	require.NoError(t, h.WriteAny("prefix"))
	c := h.Clone()
	require.NoError(t, c.WriteAny("suffix"))
	assert.NotEqual(t, h.SumHex(), c.SumHex())
}
