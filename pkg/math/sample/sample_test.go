package sample

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/cronokirby/saferith"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModN(t *testing.T) {
	n := saferith.ModulusFromUint64(3 * 11 * 65519)
	x := ModN(rand.Reader, n)
	_, _, lt := x.CmpMod(n)
	assert.Equal(t, saferith.Choice(1), lt, "ModN generated a number >= %v: %v", n, x)
}

func TestScalar(t *testing.T) {
	a := Scalar(rand.Reader)
	b := Scalar(rand.Reader)
	require.False(t, a.IsZero())
	assert.False(t, a.Equal(b))
}

func TestSecret(t *testing.T) {
	a := Secret(rand.Reader)
	b := Secret(rand.Reader)
	assert.Len(t, a, 32)
	assert.False(t, bytes.Equal(a, b))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, assert.AnError }

func TestSecretPanicsOnBrokenReader(t *testing.T) {
	assert.PanicsWithValue(t, ErrMaxIterations, func() { Secret(failingReader{}) })
}
