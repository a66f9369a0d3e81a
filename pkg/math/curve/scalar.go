package curve

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/taurusgroup/p2p-wager/internal/params"
)

// Scalar is an integer modulo the order of secp256k1.
type Scalar struct {
	s secp256k1.ModNScalar
}

// NewScalar returns a new zero Scalar.
func NewScalar() *Scalar {
	return &Scalar{}
}

// NewScalarUInt32 returns a new Scalar set to x.
func NewScalarUInt32(x uint32) *Scalar {
	var s Scalar
	s.s.SetInt(x)
	return &s
}

// Set sets s = t, and returns s.
func (s *Scalar) Set(t *Scalar) *Scalar {
	s.s.Set(&t.s)
	return s
}

// SetUInt32 sets s = x, and returns s.
func (s *Scalar) SetUInt32(x uint32) *Scalar {
	s.s.SetInt(x)
	return s
}

// SetBytesReduced interprets b as a big-endian integer, reduces it mod n,
// sets s to the result, and returns s.
//
// This is the conversion BIP-340 applies to challenge hashes.
func (s *Scalar) SetBytesReduced(b []byte) *Scalar {
	s.s.SetByteSlice(b)
	return s
}

// Add returns s + t.
func (s *Scalar) Add(t *Scalar) *Scalar {
	var out Scalar
	out.s.Add2(&s.s, &t.s)
	return &out
}

// Sub returns s - t.
func (s *Scalar) Sub(t *Scalar) *Scalar {
	return s.Add(t.Negate())
}

// Mul returns s * t.
func (s *Scalar) Mul(t *Scalar) *Scalar {
	var out Scalar
	out.s.Mul2(&s.s, &t.s)
	return &out
}

// Negate returns -s.
func (s *Scalar) Negate() *Scalar {
	var out Scalar
	out.s.NegateVal(&s.s)
	return &out
}

// Invert returns s⁻¹. The inverse of zero is zero.
func (s *Scalar) Invert() *Scalar {
	var out Scalar
	out.s.InverseValNonConst(&s.s)
	return &out
}

// Equal returns true if s and t represent the same integer, in constant time.
func (s *Scalar) Equal(t *Scalar) bool {
	a, b := s.s.Bytes(), t.s.Bytes()
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// IsZero returns true if s = 0.
func (s *Scalar) IsZero() bool {
	return s.s.IsZero()
}

// ActOnBase returns s⋅G.
func (s *Scalar) ActOnBase() *Point {
	var out Point
	secp256k1.ScalarBaseMultNonConst(&s.s, &out.p)
	return &out
}

// Act returns s⋅p.
func (s *Scalar) Act(p *Point) *Point {
	var out Point
	secp256k1.ScalarMultNonConst(&s.s, &p.p, &out.p)
	return &out
}

// Bytes returns the canonical 32-byte big-endian encoding of s.
func (s *Scalar) Bytes() []byte {
	b := s.s.Bytes()
	return b[:]
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Scalar) MarshalBinary() ([]byte, error) {
	return s.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
//
// Unlike SetBytesReduced, this rejects encodings of integers ⩾ n.
func (s *Scalar) UnmarshalBinary(data []byte) error {
	if len(data) != params.BytesScalar {
		return fmt.Errorf("curve: invalid length for scalar: %d", len(data))
	}
	var exact [params.BytesScalar]byte
	copy(exact[:], data)
	if s.s.SetBytes(&exact) != 0 {
		return errors.New("curve: scalar overflows group order")
	}
	return nil
}
