// Package bdhke implements the blind Diffie-Hellman key exchange used by Cashu mints.
//
// A wallet blinds Y = hash_to_curve(secret) as B' = Y + r⋅G. The mint answers
// C' = k⋅B', and the wallet unblinds C = C' - r⋅K, which equals k⋅Y without the
// mint ever seeing Y.
package bdhke

import (
	"errors"
	"fmt"
	"io"

	"github.com/taurusgroup/p2p-wager/pkg/math/curve"
	"github.com/taurusgroup/p2p-wager/pkg/math/sample"
)

// ErrInvalidPoint is returned when a signature or key is the identity.
var ErrInvalidPoint = errors.New("bdhke: point at infinity")

// Blind returns B' = hash_to_curve(secret) + r⋅G.
func Blind(secret []byte, r *curve.Scalar) (*curve.Point, error) {
	Y, err := curve.HashToCurve(secret)
	if err != nil {
		return nil, err
	}
	B := Y.Add(r.ActOnBase())
	if B.IsIdentity() {
		return nil, ErrInvalidPoint
	}
	return B, nil
}

// BlindRandom samples a fresh blinding factor and blinds secret with it.
func BlindRandom(rand io.Reader, secret []byte) (*curve.Point, *curve.Scalar, error) {
	r := sample.Scalar(rand)
	B, err := Blind(secret, r)
	if err != nil {
		return nil, nil, err
	}
	return B, r, nil
}

// Sign computes the mint's blind signature C' = k⋅B'.
func Sign(k *curve.Scalar, B *curve.Point) (*curve.Point, error) {
	if B.IsIdentity() {
		return nil, ErrInvalidPoint
	}
	return k.Act(B), nil
}

// Unblind returns C = C' - r⋅K, where K is the mint's public key for the amount.
func Unblind(blindSig *curve.Point, r *curve.Scalar, K *curve.Point) (*curve.Point, error) {
	if blindSig.IsIdentity() || K.IsIdentity() {
		return nil, ErrInvalidPoint
	}
	C := blindSig.Sub(r.Act(K))
	if C.IsIdentity() {
		return nil, ErrInvalidPoint
	}
	return C, nil
}

// Verify checks that C = k⋅hash_to_curve(secret). Only the mint can run this.
func Verify(k *curve.Scalar, secret []byte, C *curve.Point) (bool, error) {
	Y, err := curve.HashToCurve(secret)
	if err != nil {
		return false, fmt.Errorf("bdhke: verify: %w", err)
	}
	return k.Act(Y).Equal(C), nil
}
