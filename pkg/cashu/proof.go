// Package cashu holds the token model shared with Cashu mints: proofs,
// blinded messages, keysets, fees and token serialization.
package cashu

import (
	"encoding/hex"
	"fmt"

	"github.com/taurusgroup/p2p-wager/pkg/math/curve"
)

// Proof is an unspent value token. Field names follow the mint's wire format.
type Proof struct {
	Amount  uint64 `json:"amount"`
	ID      string `json:"id"`
	Secret  string `json:"secret"`
	C       string `json:"C"`
	Witness string `json:"witness,omitempty"`
}

// Y returns hash_to_curve(secret), the point the mint tracks spent proofs by.
func (p Proof) Y() (*curve.Point, error) {
	return curve.HashToCurve([]byte(p.Secret))
}

// Proofs is a list of proofs.
type Proofs []Proof

// Amount returns the sum of all proof amounts.
func (ps Proofs) Amount() uint64 {
	var total uint64
	for _, p := range ps {
		total += p.Amount
	}
	return total
}

// Secrets returns the secrets in order.
func (ps Proofs) Secrets() []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Secret
	}
	return out
}

// Ys returns the hex encoded Y of every proof, in order.
func (ps Proofs) Ys() ([]string, error) {
	out := make([]string, len(ps))
	for i, p := range ps {
		Y, err := p.Y()
		if err != nil {
			return nil, err
		}
		out[i] = Y.Hex()
	}
	return out, nil
}

// Clone returns a deep copy, so callers can hand proofs out without aliasing.
func (ps Proofs) Clone() Proofs {
	if ps == nil {
		return nil
	}
	out := make(Proofs, len(ps))
	copy(out, ps)
	return out
}

// BlindedMessage is an output submitted to the mint for signing.
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	ID     string `json:"id"`
	B_     string `json:"B_"`
}

// NewBlindedMessage encodes B' for keyset id.
func NewBlindedMessage(id string, amount uint64, B *curve.Point) BlindedMessage {
	return BlindedMessage{Amount: amount, ID: id, B_: B.Hex()}
}

// Point decodes B'.
func (m BlindedMessage) Point() (*curve.Point, error) {
	return curve.ParsePointHex(m.B_)
}

// BlindedMessages is a list of outputs.
type BlindedMessages []BlindedMessage

// Amount returns the sum of all output amounts.
func (ms BlindedMessages) Amount() uint64 {
	var total uint64
	for _, m := range ms {
		total += m.Amount
	}
	return total
}

// BlindSignature is the mint's answer to one BlindedMessage.
type BlindSignature struct {
	Amount uint64 `json:"amount"`
	ID     string `json:"id"`
	C_     string `json:"C_"`
}

// Point decodes C'.
func (s BlindSignature) Point() (*curve.Point, error) {
	return curve.ParsePointHex(s.C_)
}

// ParseSecretHex is a helper for secrets that carry hex encoded randomness.
func ParseSecretHex(secret string) ([]byte, error) {
	b, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("cashu: secret is not hex: %w", err)
	}
	return b, nil
}
