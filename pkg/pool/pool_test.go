package pool

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelize(t *testing.T) {
	for _, p := range []*Pool{nil, NewPool(0), NewPool(3)} {
		var calls int64
		squares, err := Map(p, 100, func(i int) (int, error) {
			atomic.AddInt64(&calls, 1)
			return i * i, nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 100, calls)
		for i, s := range squares {
			assert.Equal(t, i*i, s)
		}
		p.TearDown()
		p.TearDown()
	}
}

func TestMapError(t *testing.T) {
	p := NewPool(4)
	defer p.TearDown()

	errLow, errHigh := errors.New("low"), errors.New("high")
	_, err := Map(p, 10, func(i int) (struct{}, error) {
		switch i {
		case 3:
			return struct{}{}, errLow
		case 7:
			return struct{}{}, errHigh
		}
		return struct{}{}, nil
	})
	assert.ErrorIs(t, err, errLow)
}

func TestEmpty(t *testing.T) {
	p := NewPool(2)
	defer p.TearDown()
	out, err := Map(p, 0, func(int) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.Empty(t, out)
}
