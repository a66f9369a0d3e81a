package p2pk

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/taproot"
)

// Witness is the JSON object carried, as a string, in a proof's witness field.
type Witness struct {
	Signatures []string `json:"signatures"`
}

// ParseWitness decodes a proof witness. The empty string is an empty witness.
func ParseWitness(s string) (*Witness, error) {
	var w Witness
	if s == "" {
		return &w, nil
	}
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return nil, fmt.Errorf("p2pk: witness: %w", err)
	}
	return &w, nil
}

// String renders the witness in its wire form.
func (w *Witness) String() string {
	b, _ := json.Marshal(w)
	return string(b)
}

// MessageHash is the digest signed by every key of a P2PK condition.
func MessageHash(secret string) []byte {
	h := sha256.Sum256([]byte(secret))
	return h[:]
}

// SignSecret signs sha256(secret) with sk and returns the hex signature.
func SignSecret(rand io.Reader, sk taproot.SecretKey, secret string) (string, error) {
	sig, err := sk.Sign(rand, MessageHash(secret))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// VerifySecret checks a hex signature over sha256(secret).
func VerifySecret(pk taproot.PublicKey, secret, sigHex string) bool {
	sig, err := taproot.ParseSignature(sigHex)
	if err != nil {
		return false
	}
	return pk.Verify(sig, MessageHash(secret))
}

// AddSignatures appends sigs to the witness of p, keeping existing ones.
func AddSignatures(p *cashu.Proof, sigs ...string) error {
	w, err := ParseWitness(p.Witness)
	if err != nil {
		return err
	}
	w.Signatures = append(w.Signatures, sigs...)
	p.Witness = w.String()
	return nil
}

// CountSigners returns the number of distinct keys in keys for which
// sigs contains a valid signature over sha256(secret).
func CountSigners(keys []taproot.PublicKey, sigs []string, secret string) int {
	seen := make(map[string]bool, len(keys))
	count := 0
	for _, k := range keys {
		id := string(k)
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, sig := range sigs {
			if VerifySecret(k, secret, sig) {
				count++
				break
			}
		}
	}
	return count
}

// Satisfied reports whether the witness of p unlocks its P2PK condition at now.
//
// The main path needs NSigs distinct keys among Data and Pubkeys. Once the
// locktime has passed, NSigsRefund refund keys suffice as well.
func Satisfied(p cashu.Proof, now time.Time) (bool, error) {
	cond, err := ParseCondition(p.Secret)
	if err != nil {
		return false, err
	}
	w, err := ParseWitness(p.Witness)
	if err != nil {
		return false, err
	}
	if CountSigners(cond.RequiredKeys(), w.Signatures, p.Secret) >= cond.NSigs {
		return true, nil
	}
	if !cond.Expired(now) {
		return false, nil
	}
	if len(cond.Refund) == 0 {
		// No refund keys: anyone can spend after locktime.
		return true, nil
	}
	need := cond.NSigsRefund
	if need == 0 {
		need = 1
	}
	return CountSigners(cond.Refund, w.Signatures, p.Secret) >= need, nil
}
