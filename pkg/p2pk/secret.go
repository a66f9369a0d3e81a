// Package p2pk builds and checks NUT-10 well-known secrets of kind P2PK and
// the signature witnesses that unlock them.
package p2pk

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/taurusgroup/p2p-wager/pkg/math/sample"
	"github.com/taurusgroup/p2p-wager/pkg/taproot"
)

// Kind is the NUT-10 kind of every secret this package produces.
const Kind = "P2PK"

// SigFlag values.
const (
	SigInputs = "SIG_INPUTS"
	SigAll    = "SIG_ALL"
)

const (
	tagSigs       = "n_sigs"
	tagLocktime   = "locktime"
	tagRefund     = "refund"
	tagPubkeys    = "pubkeys"
	tagSigFlag    = "sigflag"
	tagRefundSigs = "n_sigs_refund"
)

// ErrNotP2PK is returned when a secret is not a well-known P2PK secret.
var ErrNotP2PK = errors.New("p2pk: not a P2PK secret")

// Condition is the spending condition shared by all proofs of one stake.
type Condition struct {
	// Data is the primary key, the arbiter for stakes.
	Data taproot.PublicKey
	// Pubkeys are the additional keys that may contribute to NSigs.
	Pubkeys []taproot.PublicKey
	// NSigs is the number of distinct keys among Data and Pubkeys that must sign.
	NSigs int
	// Locktime is when the refund path opens. Zero means never.
	Locktime time.Time
	// Refund keys may spend alone after Locktime.
	Refund []taproot.PublicKey
	// NSigsRefund is the number of refund keys needed, 1 if unset.
	NSigsRefund int
	SigFlag     string
}

// RequiredKeys returns Data followed by Pubkeys.
func (c *Condition) RequiredKeys() []taproot.PublicKey {
	return append([]taproot.PublicKey{c.Data}, c.Pubkeys...)
}

// Expired reports whether the refund path is open at now.
func (c *Condition) Expired(now time.Time) bool {
	return !c.Locktime.IsZero() && !now.Before(c.Locktime)
}

// SameSpending reports whether both conditions lock funds identically.
func (c *Condition) SameSpending(other *Condition) bool {
	if !c.Data.Equal(other.Data) || c.NSigs != other.NSigs || !c.Locktime.Equal(other.Locktime) ||
		c.SigFlag != other.SigFlag || c.NSigsRefund != other.NSigsRefund {
		return false
	}
	return keysEqual(c.Pubkeys, other.Pubkeys) && keysEqual(c.Refund, other.Refund)
}

func keysEqual(a, b []taproot.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Secret is the decoded form of ["P2PK", {nonce, data, tags}].
type Secret struct {
	Nonce string     `json:"nonce"`
	Data  string     `json:"data"`
	Tags  [][]string `json:"tags,omitempty"`
}

// MarshalJSON renders the NUT-10 array form.
func (s Secret) MarshalJSON() ([]byte, error) {
	type plain Secret
	return json.Marshal([]interface{}{Kind, plain(s)})
}

// UnmarshalJSON parses the NUT-10 array form and rejects other kinds.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) != 2 {
		return ErrNotP2PK
	}
	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil || kind != Kind {
		return ErrNotP2PK
	}
	type plain Secret
	var p plain
	if err := json.Unmarshal(parts[1], &p); err != nil {
		return fmt.Errorf("p2pk: secret body: %w", err)
	}
	*s = Secret(p)
	return nil
}

// NewSecret encodes cond as a secret string with a fresh random nonce.
func NewSecret(rand io.Reader, cond *Condition) (string, error) {
	return EncodeSecret(hex.EncodeToString(sample.Secret(rand)), cond)
}

// EncodeSecret encodes cond as a secret string with the given nonce.
func EncodeSecret(nonce string, cond *Condition) (string, error) {
	if len(cond.Data) != taproot.PublicKeyLength {
		return "", errors.New("p2pk: condition has no data key")
	}
	s := Secret{Nonce: nonce, Data: cond.Data.Hex()}
	if cond.SigFlag != "" {
		s.Tags = append(s.Tags, []string{tagSigFlag, cond.SigFlag})
	}
	if cond.NSigs > 0 {
		s.Tags = append(s.Tags, []string{tagSigs, strconv.Itoa(cond.NSigs)})
	}
	if !cond.Locktime.IsZero() {
		s.Tags = append(s.Tags, []string{tagLocktime, strconv.FormatInt(cond.Locktime.Unix(), 10)})
	}
	if len(cond.Refund) > 0 {
		s.Tags = append(s.Tags, keyTag(tagRefund, cond.Refund))
	}
	if len(cond.Pubkeys) > 0 {
		s.Tags = append(s.Tags, keyTag(tagPubkeys, cond.Pubkeys))
	}
	if cond.NSigsRefund > 0 {
		s.Tags = append(s.Tags, []string{tagRefundSigs, strconv.Itoa(cond.NSigsRefund)})
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func keyTag(name string, keys []taproot.PublicKey) []string {
	tag := []string{name}
	for _, k := range keys {
		tag = append(tag, k.Hex())
	}
	return tag
}

// ParseCondition decodes the spending condition of a secret string.
//
// Unknown tags are ignored. A secret without n_sigs requires one signature.
func ParseCondition(secret string) (*Condition, error) {
	var s Secret
	if err := json.Unmarshal([]byte(secret), &s); err != nil {
		if errors.Is(err, ErrNotP2PK) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNotP2PK, err)
	}
	data, err := taproot.ParsePublicKey(s.Data)
	if err != nil {
		return nil, fmt.Errorf("p2pk: data: %w", err)
	}
	c := &Condition{Data: data, NSigs: 1, SigFlag: SigInputs}
	for _, tag := range s.Tags {
		if len(tag) < 2 {
			return nil, fmt.Errorf("p2pk: tag %v has no value", tag)
		}
		switch tag[0] {
		case tagSigs:
			if c.NSigs, err = strconv.Atoi(tag[1]); err != nil || c.NSigs < 1 {
				return nil, fmt.Errorf("p2pk: invalid n_sigs %q", tag[1])
			}
		case tagRefundSigs:
			if c.NSigsRefund, err = strconv.Atoi(tag[1]); err != nil || c.NSigsRefund < 1 {
				return nil, fmt.Errorf("p2pk: invalid n_sigs_refund %q", tag[1])
			}
		case tagLocktime:
			unix, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("p2pk: invalid locktime %q", tag[1])
			}
			c.Locktime = time.Unix(unix, 0)
		case tagSigFlag:
			c.SigFlag = tag[1]
		case tagPubkeys:
			if c.Pubkeys, err = parseKeys(tag[1:]); err != nil {
				return nil, err
			}
		case tagRefund:
			if c.Refund, err = parseKeys(tag[1:]); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func parseKeys(hexKeys []string) ([]taproot.PublicKey, error) {
	out := make([]taproot.PublicKey, 0, len(hexKeys))
	for _, h := range hexKeys {
		k, err := taproot.ParsePublicKey(h)
		if err != nil {
			return nil, fmt.Errorf("p2pk: key %q: %w", h, err)
		}
		out = append(out, k)
	}
	return out, nil
}
