// Package sample draws uniform values from a source of randomness.
package sample

import (
	"fmt"
	"io"

	"github.com/cronokirby/saferith"
	"github.com/taurusgroup/p2p-wager/internal/params"
	"github.com/taurusgroup/p2p-wager/pkg/math/curve"
)

const maxIterations = 255

var ErrMaxIterations = fmt.Errorf("sample: failed to generate after %d iterations", maxIterations)

func mustReadBits(rand io.Reader, buf []byte) {
	for i := 0; i < maxIterations; i++ {
		if _, err := io.ReadFull(rand, buf); err == nil {
			return
		}
	}
	panic(ErrMaxIterations)
}

// ModN samples an element of ℤₙ.
func ModN(rand io.Reader, n *saferith.Modulus) *saferith.Nat {
	out := new(saferith.Nat)
	buf := make([]byte, (n.BitLen()+7)/8)
	for {
		mustReadBits(rand, buf)
		out.SetBytes(buf)
		_, _, lt := out.CmpMod(n)
		if lt == 1 {
			break
		}
	}
	return out
}

// Scalar samples a uniform non-zero scalar.
func Scalar(rand io.Reader) *curve.Scalar {
	s := curve.NewScalar()
	for i := 0; i < maxIterations; i++ {
		n := ModN(rand, curve.Order())
		b := n.Bytes()
		// Nat.Bytes follows the announced length, which can be shorter than a scalar.
		padded := make([]byte, params.BytesScalar)
		copy(padded[params.BytesScalar-len(b):], b)
		if err := s.UnmarshalBinary(padded); err == nil && !s.IsZero() {
			return s
		}
	}
	panic(ErrMaxIterations)
}

// Secret returns params.SecretBytes uniform bytes, used as proof secrets and nonces.
func Secret(rand io.Reader) []byte {
	out := make([]byte, params.SecretBytes)
	mustReadBits(rand, out)
	return out
}
