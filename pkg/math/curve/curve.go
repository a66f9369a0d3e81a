// Package curve wraps secp256k1 arithmetic behind small Scalar and Point types.
//
// Both types follow the convention of the standard library's big.Int:
// methods that produce a new value allocate it, while Set* methods modify the receiver.
package curve

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/cronokirby/saferith"
)

// orderHex is n, the order of the secp256k1 group.
const orderHex = "fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141"

var order *saferith.Modulus

func init() {
	b, _ := hex.DecodeString(orderHex)
	order = saferith.ModulusFromBytes(b)
}

// Order returns the order of the secp256k1 group as a modulus.
func Order() *saferith.Modulus {
	return order
}

// Name is the name of the group used throughout this module.
const Name = "secp256k1"

// hashToCurveDomain is the domain separator used by Cashu mints for hash_to_curve.
var hashToCurveDomain = []byte("Secp256k1_HashToCurve_Cashu_")

// ErrHashToCurve is returned if no valid point could be found for a message.
// With 2¹⁶ candidates, this should never happen in practice.
var ErrHashToCurve = errors.New("curve: hash_to_curve found no valid point")

// HashToCurve deterministically maps message to a point Y.
//
// The mapping is the one used by Cashu mints:
//
//	h = SHA256(domain || message)
//	Y = lift(0x02 || SHA256(h || le32(counter)))
//
// for the smallest counter giving a valid x coordinate.
func HashToCurve(message []byte) (*Point, error) {
	outer := sha256.New()
	outer.Write(hashToCurveDomain)
	outer.Write(message)
	msgHash := outer.Sum(nil)

	var counter [4]byte
	candidate := make([]byte, 0, 33)
	for i := uint32(0); i < 1<<16; i++ {
		binary.LittleEndian.PutUint32(counter[:], i)
		h := sha256.New()
		h.Write(msgHash)
		h.Write(counter[:])

		candidate = append(candidate[:0], 0x02)
		candidate = h.Sum(candidate)

		var p Point
		if err := p.UnmarshalBinary(candidate); err == nil {
			return &p, nil
		}
	}
	return nil, ErrHashToCurve
}
