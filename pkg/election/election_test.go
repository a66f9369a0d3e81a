package election

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constReader byte

func (c constReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(c)
	}
	return len(p), nil
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

type delivery struct {
	to   *Engine
	draw *Draw
}

// run exchanges draws between a and b until neither has anything to send.
func run(a, b *Engine, epoch uint64) (ra, rb *Result, err error) {
	da, err := a.Start(epoch)
	if err != nil {
		return nil, nil, err
	}
	db, err := b.Start(epoch)
	if err != nil {
		return nil, nil, err
	}
	queue := []delivery{{b, da}, {a, db}}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		reply, res, err := d.to.HandleDraw(*d.draw)
		if err != nil {
			return nil, nil, err
		}
		other := a
		if d.to == a {
			other = b
		}
		if reply != nil {
			queue = append(queue, delivery{other, reply})
		}
		if res != nil {
			if d.to == a {
				ra = res
			} else {
				rb = res
			}
		}
	}
	return ra, rb, nil
}

func TestDecide(t *testing.T) {
	lo, hi := []byte{1}, []byte{2}
	tests := []struct {
		name          string
		local, remote float64
		self, peer    []byte
		want          Outcome
	}{
		{"higher draw wins", 0.7, 0.2, lo, hi, Won},
		{"lower draw loses", 0.1, 0.2, hi, lo, Lost},
		{"tie greater key wins", 0.5, 0.5, hi, lo, Won},
		{"tie smaller key loses", 0.5, 0.5, lo, hi, Lost},
		{"tie same key", 0.5, 0.5, lo, lo, Undecided},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.local, tt.remote, tt.self, tt.peer))
		})
	}
}

func TestSampleDrawRange(t *testing.T) {
	v, err := sampleDraw(constReader(0))
	require.NoError(t, err)
	assert.Zero(t, v)
	v, err = sampleDraw(constReader(0xff))
	require.NoError(t, err)
	assert.Less(t, v, 1.0)
	for i := 0; i < 100; i++ {
		v, err = sampleDraw(rand.Reader)
		require.NoError(t, err)
		assert.True(t, v >= 0 && v < 1)
	}
}

func TestExactlyOneAuthority(t *testing.T) {
	for i := 0; i < 200; i++ {
		ka, kb := randomKey(t), randomKey(t)
		a := NewEngine(Config{Self: ka, Peer: kb})
		b := NewEngine(Config{Self: kb, Peer: ka})
		ra, rb, err := run(a, b, uint64(i))
		require.NoError(t, err)
		require.NotNil(t, ra)
		require.NotNil(t, rb)
		assert.NotEqual(t, ra.Authority, rb.Authority)
		assert.False(t, ra.Fallback || rb.Fallback)
		assert.Equal(t, ra.Authority, a.Authority())
		assert.Equal(t, rb.Authority, b.Authority())
	}
}

func TestTieBrokenByKey(t *testing.T) {
	ka, kb := randomKey(t), randomKey(t)
	a := NewEngine(Config{Self: ka, Peer: kb, Rand: constReader(7)})
	b := NewEngine(Config{Self: kb, Peer: ka, Rand: constReader(7)})
	ra, rb, err := run(a, b, 1)
	require.NoError(t, err)
	assert.Equal(t, bytes.Compare(ka, kb) > 0, ra.Authority)
	assert.NotEqual(t, ra.Authority, rb.Authority)
	assert.Zero(t, ra.Round)
}

func TestNoResolution(t *testing.T) {
	k := randomKey(t)
	a := NewEngine(Config{Self: k, Peer: k, Rand: constReader(1), MaxRounds: 4})
	b := NewEngine(Config{Self: k, Peer: k, Rand: constReader(1), MaxRounds: 4})
	_, _, err := run(a, b, 1)
	assert.ErrorIs(t, err, ErrNoResolution)
	assert.False(t, a.Authority())
}

func TestStaleAndNewEpochs(t *testing.T) {
	a := NewEngine(Config{Self: []byte{2}, Peer: []byte{1}})
	_, err := a.Start(5)
	require.NoError(t, err)

	reply, res, err := a.HandleDraw(Draw{Epoch: 4, Value: 0.9})
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Nil(t, res)
	assert.False(t, a.State().Decided)

	reply, res, err = a.HandleDraw(Draw{Epoch: 6, Round: 2, Value: 0.5})
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, uint64(6), reply.Epoch)
	assert.Equal(t, uint32(2), reply.Round)
	require.NotNil(t, res)
	assert.Equal(t, uint64(6), a.State().Epoch)
	assert.Equal(t, 0.5, a.State().RemoteMax)

	decided := *reply

	// A decided epoch ignores draws up to its deciding round and answers later
	// ones with the deciding draw.
	reply, res, err = a.HandleDraw(Draw{Epoch: 6, Round: 1, Value: 0.1})
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Nil(t, res)

	reply, res, err = a.HandleDraw(Draw{Epoch: 6, Round: 3, Value: 0.1})
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NotNil(t, reply)
	assert.Equal(t, decided, *reply)
}

func TestTimeoutNeverDecides(t *testing.T) {
	a := NewEngine(Config{Self: []byte{1}, Peer: []byte{2}, MaxRounds: 3})
	first, err := a.Start(1)
	require.NoError(t, err)

	last := first
	for round := uint32(1); round < 3; round++ {
		d, err := a.Timeout()
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, round, d.Round)
		last = d
	}
	for i := 0; i < 3; i++ {
		d, err := a.Timeout()
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, *last, *d, "exhausted rounds resend the last draw")
	}
	assert.False(t, a.State().Decided)
	assert.False(t, a.Authority())
}

// B decides on A's first draw while A, not hearing back in time, moves on to
// the next round. B's first draw reaches A late. Both must agree.
func TestDelayedDrawAfterTimeout(t *testing.T) {
	for i := 0; i < 200; i++ {
		ka, kb := randomKey(t), randomKey(t)
		a := NewEngine(Config{Self: ka, Peer: kb, MaxRounds: 4})
		b := NewEngine(Config{Self: kb, Peer: ka, MaxRounds: 4})

		a0, err := a.Start(1)
		require.NoError(t, err)
		b0, err := b.Start(1)
		require.NoError(t, err)

		_, rb, err := b.HandleDraw(*a0)
		require.NoError(t, err)
		require.NotNil(t, rb)

		a1, err := a.Timeout()
		require.NoError(t, err)
		require.NotNil(t, a1)

		answer, res, err := b.HandleDraw(*a1)
		require.NoError(t, err)
		assert.Nil(t, res)
		require.NotNil(t, answer)
		assert.Equal(t, *b0, *answer)

		_, ra, err := a.HandleDraw(*b0)
		require.NoError(t, err)
		require.NotNil(t, ra)

		// The answer is a duplicate of b0 by now.
		reply, res, err := a.HandleDraw(*answer)
		require.NoError(t, err)
		assert.Nil(t, reply)
		assert.Nil(t, res)

		d, err := a.Timeout()
		require.NoError(t, err)
		assert.Nil(t, d)

		assert.NotEqual(t, a.Authority(), b.Authority())
		assert.False(t, ra.Fallback || rb.Fallback)
		assert.Equal(t, ra.Round, rb.Round)
	}
}

// A decided side answers every later round with its deciding draw, which is
// enough for a peer that timed out repeatedly to catch up.
func TestDecidedSideAnswersLaterRounds(t *testing.T) {
	ka, kb := randomKey(t), randomKey(t)
	a := NewEngine(Config{Self: ka, Peer: kb})
	b := NewEngine(Config{Self: kb, Peer: ka})

	a0, err := a.Start(1)
	require.NoError(t, err)
	b0, err := b.Start(1)
	require.NoError(t, err)
	_, rb, err := b.HandleDraw(*a0)
	require.NoError(t, err)
	require.NotNil(t, rb)

	a1, err := a.Timeout()
	require.NoError(t, err)
	a2, err := a.Timeout()
	require.NoError(t, err)
	for _, d := range []*Draw{a1, a2} {
		answer, _, err := b.HandleDraw(*d)
		require.NoError(t, err)
		require.NotNil(t, answer)
		assert.Equal(t, *b0, *answer)
	}

	_, ra, err := a.HandleDraw(*b0)
	require.NoError(t, err)
	require.NotNil(t, ra)
	assert.Equal(t, rb.Round, ra.Round)
	assert.NotEqual(t, ra.Authority, rb.Authority)
}

func TestPeerClosed(t *testing.T) {
	a := NewEngine(Config{Self: []byte{1}, Peer: []byte{2}})
	_, err := a.Start(1)
	require.NoError(t, err)
	res := a.PeerClosed()
	assert.True(t, res.Authority)
	assert.True(t, res.Fallback)

	a.Reset()
	assert.False(t, a.Authority())
	assert.False(t, a.State().Decided)
}
