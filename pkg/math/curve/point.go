package curve

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/taurusgroup/p2p-wager/internal/params"
)

// Point is an element of the secp256k1 group, stored in Jacobian coordinates.
type Point struct {
	p secp256k1.JacobianPoint
}

// NewIdentityPoint returns the point at infinity.
func NewIdentityPoint() *Point {
	return &Point{}
}

// NewBasePoint returns the canonical generator G.
func NewBasePoint() *Point {
	return NewScalarUInt32(1).ActOnBase()
}

// affine returns a copy of p with Z = 1.
// It must not be called on the identity.
func (p *Point) affine() secp256k1.JacobianPoint {
	var out secp256k1.JacobianPoint
	out.Set(&p.p)
	out.ToAffine()
	return out
}

// IsIdentity returns true if p is the point at infinity.
func (p *Point) IsIdentity() bool {
	return (p.p.X.IsZero() && p.p.Y.IsZero()) || p.p.Z.IsZero()
}

// Add returns p + q.
func (p *Point) Add(q *Point) *Point {
	var out Point
	secp256k1.AddNonConst(&p.p, &q.p, &out.p)
	return &out
}

// Sub returns p - q.
func (p *Point) Sub(q *Point) *Point {
	return p.Add(q.Negate())
}

// Negate returns -p.
func (p *Point) Negate() *Point {
	if p.IsIdentity() {
		return NewIdentityPoint()
	}
	out := Point{p: p.affine()}
	out.p.Y.Negate(1)
	out.p.Y.Normalize()
	return &out
}

// Equal returns true if p and q represent the same group element.
func (p *Point) Equal(q *Point) bool {
	pID, qID := p.IsIdentity(), q.IsIdentity()
	if pID || qID {
		return pID == qID
	}
	a, b := p.affine(), q.affine()
	return a.X.Equals(&b.X) && a.Y.Equals(&b.Y)
}

// HasEvenY returns true if the affine y coordinate of p is even.
func (p *Point) HasEvenY() bool {
	if p.IsIdentity() {
		return false
	}
	a := p.affine()
	return !a.Y.IsOdd()
}

// XBytes returns the 32-byte big-endian x coordinate of p.
func (p *Point) XBytes() []byte {
	if p.IsIdentity() {
		return make([]byte, params.BytesXOnly)
	}
	a := p.affine()
	return a.X.Bytes()[:]
}

// MarshalBinary returns the 33-byte compressed encoding of p.
func (p *Point) MarshalBinary() ([]byte, error) {
	if p.IsIdentity() {
		return nil, errors.New("curve: cannot marshal identity point")
	}
	a := p.affine()
	out := make([]byte, params.BytesPoint)
	out[0] = 0x02
	if a.Y.IsOdd() {
		out[0] = 0x03
	}
	x := a.X.Bytes()
	copy(out[1:], x[:])
	return out, nil
}

// UnmarshalBinary decodes a 33-byte compressed point, rejecting points not on the curve.
func (p *Point) UnmarshalBinary(data []byte) error {
	if len(data) != params.BytesPoint {
		return fmt.Errorf("curve: invalid length for point: %d", len(data))
	}
	if data[0] != 0x02 && data[0] != 0x03 {
		return fmt.Errorf("curve: invalid point prefix 0x%02x", data[0])
	}
	var x, y secp256k1.FieldVal
	if overflow := x.SetByteSlice(data[1:]); overflow {
		return errors.New("curve: x coordinate out of range")
	}
	if !secp256k1.DecompressY(&x, data[0] == 0x03, &y) {
		return errors.New("curve: x coordinate not on curve")
	}
	y.Normalize()
	p.p.X.Set(&x)
	p.p.Y.Set(&y)
	p.p.Z.SetInt(1)
	return nil
}

// LiftX returns the point with x coordinate x and even y, as defined in BIP-340.
func LiftX(x []byte) (*Point, error) {
	if len(x) != params.BytesXOnly {
		return nil, fmt.Errorf("curve: invalid length for x-only key: %d", len(x))
	}
	data := make([]byte, 0, params.BytesPoint)
	data = append(data, 0x02)
	data = append(data, x...)
	var p Point
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &p, nil
}

// Hex returns the compressed encoding of p as lowercase hex.
// The identity is encoded as the empty string.
func (p *Point) Hex() string {
	b, err := p.MarshalBinary()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// ParsePointHex decodes a hex encoded compressed point.
func ParsePointHex(s string) (*Point, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("curve: point hex: %w", err)
	}
	var p Point
	if err = p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return &p, nil
}
