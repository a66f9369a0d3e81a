// Package election decides which of two peers is authoritative for the shared
// random events of a match.
//
// Each side draws a uniform value in [0,1) per round and sends it to the
// peer. Once both draws of a round are known, Decide gives the same answer on
// both sides, so with no message loss exactly one side becomes authoritative.
package election

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNoResolution is returned when every round of an epoch ended in a tie.
// The caller starts a new epoch.
var ErrNoResolution = errors.New("election: no resolution within the round limit")

// Outcome is the result of one round for the local side.
type Outcome int8

const (
	Undecided Outcome = iota
	Won
	Lost
)

func (o Outcome) String() string {
	switch o {
	case Won:
		return "won"
	case Lost:
		return "lost"
	default:
		return "undecided"
	}
}

// Draw is the value one side drew for a round.
type Draw struct {
	Epoch uint64  `cbor:"epoch"`
	Round uint32  `cbor:"round"`
	Value float64 `cbor:"value"`
}

// Decide compares the two draws of a round. The higher draw wins. On an
// exact tie the greater identity key wins, and identical keys leave the
// round undecided.
func Decide(local, remote float64, selfKey, peerKey []byte) Outcome {
	switch {
	case local > remote:
		return Won
	case local < remote:
		return Lost
	}
	switch bytes.Compare(selfKey, peerKey) {
	case 1:
		return Won
	case -1:
		return Lost
	default:
		return Undecided
	}
}

// drawBits is the precision of a float64 mantissa.
const drawBits = 53

// sampleDraw returns a uniform value in [0,1) with 53 bits of randomness.
func sampleDraw(rand io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(rand, buf[:]); err != nil {
		return 0, fmt.Errorf("election: draw: %w", err)
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>(64-drawBits)) / (1 << drawBits), nil
}
