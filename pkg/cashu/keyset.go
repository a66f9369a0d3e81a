package cashu

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/taurusgroup/p2p-wager/pkg/math/curve"
)

// KeysetVersion prefixes every keyset id derived by DeriveKeysetID.
const KeysetVersion = "00"

// Keyset is a versioned set of mint public keys, one per amount.
type Keyset struct {
	ID          string
	Unit        string
	Active      bool
	InputFeePPK uint64
	Keys        map[uint64]*curve.Point
}

// Key returns the public key signing amount, or an error if the keyset has none.
func (k *Keyset) Key(amount uint64) (*curve.Point, error) {
	K, ok := k.Keys[amount]
	if !ok {
		return nil, fmt.Errorf("cashu: keyset %s has no key for amount %d", k.ID, amount)
	}
	return K, nil
}

// Amounts returns the amounts the keyset can sign, ascending.
func (k *Keyset) Amounts() []uint64 {
	out := make([]uint64, 0, len(k.Keys))
	for a := range k.Keys {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DeriveKeysetID computes the id of a keyset: "00" followed by the first
// 14 hex characters of SHA-256 over the compressed keys sorted by amount.
func DeriveKeysetID(keys map[uint64]*curve.Point) (string, error) {
	amounts := make([]uint64, 0, len(keys))
	for a := range keys {
		amounts = append(amounts, a)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	h := sha256.New()
	for _, a := range amounts {
		b, err := keys[a].MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("cashu: key for amount %d: %w", a, err)
		}
		h.Write(b)
	}
	return KeysetVersion + hex.EncodeToString(h.Sum(nil))[:14], nil
}

// KeysetInfo is one entry of GET /v1/keysets.
type KeysetInfo struct {
	ID          string `json:"id"`
	Unit        string `json:"unit"`
	Active      bool   `json:"active"`
	InputFeePPK uint64 `json:"input_fee_ppk,omitempty"`
}

// KeysResponse is one entry of GET /v1/keys: amounts map to hex keys.
type KeysResponse struct {
	ID   string            `json:"id"`
	Unit string            `json:"unit"`
	Keys map[string]string `json:"keys"`
}

// ToWire renders the public half of a keyset for GET /v1/keys.
func (k *Keyset) ToWire() KeysResponse {
	keys := make(map[string]string, len(k.Keys))
	for a, K := range k.Keys {
		keys[strconv.FormatUint(a, 10)] = K.Hex()
	}
	return KeysResponse{ID: k.ID, Unit: k.Unit, Keys: keys}
}

// Info renders the keyset for GET /v1/keysets.
func (k *Keyset) Info() KeysetInfo {
	return KeysetInfo{ID: k.ID, Unit: k.Unit, Active: k.Active, InputFeePPK: k.InputFeePPK}
}

// ParseKeyset combines a keys entry with its keyset info.
func ParseKeyset(keys KeysResponse, info KeysetInfo) (*Keyset, error) {
	if keys.ID != info.ID {
		return nil, fmt.Errorf("cashu: keyset id mismatch %q != %q", keys.ID, info.ID)
	}
	if len(keys.Keys) == 0 {
		return nil, errors.New("cashu: empty keyset")
	}
	out := &Keyset{
		ID:          keys.ID,
		Unit:        keys.Unit,
		Active:      info.Active,
		InputFeePPK: info.InputFeePPK,
		Keys:        make(map[uint64]*curve.Point, len(keys.Keys)),
	}
	for amountStr, keyHex := range keys.Keys {
		amount, err := strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cashu: keyset amount %q: %w", amountStr, err)
		}
		K, err := curve.ParsePointHex(keyHex)
		if err != nil {
			return nil, fmt.Errorf("cashu: keyset key for %d: %w", amount, err)
		}
		out.Keys[amount] = K
	}
	return out, nil
}
