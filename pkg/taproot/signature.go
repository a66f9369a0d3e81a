// Package taproot implements BIP-340 Schnorr signatures over x-only keys.
//
// These are the signatures Cashu mints accept in P2PK witnesses.
package taproot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/taurusgroup/p2p-wager/internal/params"
	"github.com/taurusgroup/p2p-wager/pkg/math/curve"
)

// TaggedHash adds some domain separation to SHA-256.
//
// This is the hash_tag function mentioned in BIP-340.
//
// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#specification
func TaggedHash(tag string, datas ...[]byte) []byte {
	tagSum := sha256.Sum256([]byte(tag))

	h := sha256.New()
	h.Write(tagSum[:])
	h.Write(tagSum[:])
	for _, data := range datas {
		h.Write(data)
	}
	return h.Sum(nil)
}

// SecretKeyLength is the number of bytes in a SecretKey.
const SecretKeyLength = 32

// PublicKeyLength is the number of bytes in a PublicKey.
const PublicKeyLength = params.BytesXOnly

// SignatureLen is the number of bytes in a Signature.
const SignatureLen = 64

var errInvalidSecretKey = errors.New("taproot: invalid secret key")

// SecretKey represents a secret key for BIP-340 signatures.
//
// This is simply an array of 32 bytes.
type SecretKey []byte

// PublicKey is the x coordinate of the point d⋅G, with the implicit even y.
type PublicKey []byte

// Signature is R.x || s, exactly SignatureLen bytes long.
type Signature []byte

func (sk SecretKey) scalar() (*curve.Scalar, error) {
	d := curve.NewScalar()
	if err := d.UnmarshalBinary(sk); err != nil || d.IsZero() {
		return nil, errInvalidSecretKey
	}
	return d, nil
}

// Public calculates the public key corresponding to a given secret key.
//
// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#public-key-generation
func (sk SecretKey) Public() (PublicKey, error) {
	d, err := sk.scalar()
	if err != nil {
		return nil, err
	}
	return PublicKey(d.ActOnBase().XBytes()), nil
}

// GenKey generates a new key-pair, from a source of randomness.
//
// Errors returned by this function will only come from the reader.
func GenKey(rand io.Reader) (SecretKey, PublicKey, error) {
	for {
		secret := SecretKey(make([]byte, SecretKeyLength))
		if _, err := io.ReadFull(rand, secret); err != nil {
			return nil, nil, err
		}
		if public, err := secret.Public(); err == nil {
			return secret, public, nil
		}
	}
}

// Sign uses a secret key to create a new signature over m.
//
// Note that m should be the hash of a message, and not the actual message.
//
// Passing a nil reader uses 32 zero bytes as auxiliary randomness,
// which makes signatures fully deterministic in (sk, m).
func (sk SecretKey) Sign(rand io.Reader, m []byte) (Signature, error) {
	// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#default-signing
	d, err := sk.scalar()
	if err != nil {
		return nil, err
	}

	P := d.ActOnBase()
	PBytes := P.XBytes()
	if !P.HasEvenY() {
		d = d.Negate()
	}

	a := make([]byte, 32)
	if rand != nil {
		if _, err = io.ReadFull(rand, a); err != nil {
			return nil, err
		}
	}

	t := d.Bytes()
	aHash := TaggedHash("BIP0340/aux", a)
	for i := 0; i < 32; i++ {
		t[i] ^= aHash[i]
	}

	k := curve.NewScalar().SetBytesReduced(TaggedHash("BIP0340/nonce", t, PBytes, m))
	if k.IsZero() {
		return nil, errors.New("taproot: invalid nonce")
	}

	R := k.ActOnBase()
	if !R.HasEvenY() {
		k = k.Negate()
	}
	RBytes := R.XBytes()

	e := curve.NewScalar().SetBytesReduced(TaggedHash("BIP0340/challenge", RBytes, PBytes, m))
	z := e.Mul(d).Add(k)

	sig := make([]byte, 0, SignatureLen)
	sig = append(sig, RBytes...)
	sig = append(sig, z.Bytes()...)
	return Signature(sig), nil
}

// Verify checks the integrity of a signature, using a public key.
//
// Note that m is the hash of a message, and not the message itself.
func (pk PublicKey) Verify(sig Signature, m []byte) bool {
	// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#verification
	if len(sig) != SignatureLen {
		return false
	}

	P, err := curve.LiftX(pk)
	if err != nil {
		return false
	}
	s := curve.NewScalar()
	if err = s.UnmarshalBinary(sig[32:]); err != nil {
		return false
	}
	e := curve.NewScalar().SetBytesReduced(TaggedHash("BIP0340/challenge", sig[:32], pk, m))

	check := s.ActOnBase().Sub(e.Act(P))
	if check.IsIdentity() || !check.HasEvenY() {
		return false
	}
	return bytes.Equal(check.XBytes(), sig[:32])
}

// Hex returns the key in the compressed form Cashu secrets use: "02" followed by x.
func (pk PublicKey) Hex() string {
	return "02" + hex.EncodeToString(pk)
}

// Equal reports whether both keys have the same x coordinate.
func (pk PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(pk, other)
}

// ParsePublicKey accepts either a 64-hex x-only key or a 66-hex compressed key.
// The parity of a compressed key is dropped.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("taproot: public key hex: %w", err)
	}
	switch len(b) {
	case PublicKeyLength:
	case PublicKeyLength + 1:
		if b[0] != 0x02 && b[0] != 0x03 {
			return nil, fmt.Errorf("taproot: invalid public key prefix 0x%02x", b[0])
		}
		b = b[1:]
	default:
		return nil, fmt.Errorf("taproot: invalid public key length %d", len(b))
	}
	if _, err = curve.LiftX(b); err != nil {
		return nil, err
	}
	return PublicKey(b), nil
}

// ParseSignature decodes a hex encoded signature, checking only its length.
func ParseSignature(s string) (Signature, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("taproot: signature hex: %w", err)
	}
	if len(b) != SignatureLen {
		return nil, fmt.Errorf("taproot: invalid signature length %d", len(b))
	}
	return Signature(b), nil
}
