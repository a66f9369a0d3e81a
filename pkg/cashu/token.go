package cashu

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	prefixV4 = "cashuB"
	prefixV3 = "cashuA"
)

// ErrInvalidToken is returned for tokens that cannot be decoded.
var ErrInvalidToken = errors.New("cashu: invalid token")

// Token is a transferable set of proofs from one mint.
type Token struct {
	Mint   string
	Unit   string
	Memo   string
	Proofs Proofs
}

// Amount returns the total value of the token.
func (t *Token) Amount() uint64 {
	return t.Proofs.Amount()
}

// Keysets returns the distinct keyset ids of the token's proofs, in order of first use.
func (t *Token) Keysets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range t.Proofs {
		if !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p.ID)
		}
	}
	return out
}

type tokenV4 struct {
	Mint   string         `cbor:"m"`
	Unit   string         `cbor:"u"`
	Memo   string         `cbor:"d,omitempty"`
	Tokens []tokenV4Entry `cbor:"t"`
}

type tokenV4Entry struct {
	ID     []byte    `cbor:"i"`
	Proofs []proofV4 `cbor:"p"`
}

type proofV4 struct {
	Amount  uint64 `cbor:"a"`
	Secret  string `cbor:"s"`
	C       []byte `cbor:"c"`
	Witness string `cbor:"w,omitempty"`
}

// EncodeV4 serializes the token as "cashuB" followed by base64url(CBOR).
func (t *Token) EncodeV4() (string, error) {
	if len(t.Proofs) == 0 {
		return "", fmt.Errorf("%w: no proofs", ErrInvalidToken)
	}
	raw := tokenV4{Mint: t.Mint, Unit: t.Unit, Memo: t.Memo}
	index := make(map[string]int)
	for _, p := range t.Proofs {
		i, ok := index[p.ID]
		if !ok {
			id, err := hex.DecodeString(p.ID)
			if err != nil {
				return "", fmt.Errorf("%w: keyset id %q: %v", ErrInvalidToken, p.ID, err)
			}
			i = len(raw.Tokens)
			index[p.ID] = i
			raw.Tokens = append(raw.Tokens, tokenV4Entry{ID: id})
		}
		C, err := hex.DecodeString(p.C)
		if err != nil {
			return "", fmt.Errorf("%w: proof C: %v", ErrInvalidToken, err)
		}
		raw.Tokens[i].Proofs = append(raw.Tokens[i].Proofs, proofV4{
			Amount:  p.Amount,
			Secret:  p.Secret,
			C:       C,
			Witness: p.Witness,
		})
	}
	data, err := cbor.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("cashu: encode token: %w", err)
	}
	return prefixV4 + base64.RawURLEncoding.EncodeToString(data), nil
}

type tokenV3 struct {
	Token []tokenV3Entry `json:"token"`
	Unit  string         `json:"unit,omitempty"`
	Memo  string         `json:"memo,omitempty"`
}

type tokenV3Entry struct {
	Mint   string `json:"mint"`
	Proofs Proofs `json:"proofs"`
}

// EncodeV3 serializes the token in the legacy "cashuA" JSON format.
func (t *Token) EncodeV3() (string, error) {
	if len(t.Proofs) == 0 {
		return "", fmt.Errorf("%w: no proofs", ErrInvalidToken)
	}
	data, err := json.Marshal(tokenV3{
		Token: []tokenV3Entry{{Mint: t.Mint, Proofs: t.Proofs}},
		Unit:  t.Unit,
		Memo:  t.Memo,
	})
	if err != nil {
		return "", fmt.Errorf("cashu: encode token: %w", err)
	}
	return prefixV3 + base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a V4 or V3 token. A V3 token must reference a single mint.
func DecodeToken(s string) (*Token, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, prefixV4):
		return decodeV4(s[len(prefixV4):])
	case strings.HasPrefix(s, prefixV3):
		return decodeV3(s[len(prefixV3):])
	default:
		return nil, fmt.Errorf("%w: unknown prefix", ErrInvalidToken)
	}
}

// decodeBase64 accepts both alphabets, padded or not, as wallets in the wild emit all four.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}

func decodeV4(body string) (*Token, error) {
	data, err := decodeBase64(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var raw tokenV4
	if err = cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	t := &Token{Mint: raw.Mint, Unit: raw.Unit, Memo: raw.Memo}
	for _, entry := range raw.Tokens {
		id := hex.EncodeToString(entry.ID)
		for _, p := range entry.Proofs {
			t.Proofs = append(t.Proofs, Proof{
				Amount:  p.Amount,
				ID:      id,
				Secret:  p.Secret,
				C:       hex.EncodeToString(p.C),
				Witness: p.Witness,
			})
		}
	}
	if t.Mint == "" || len(t.Proofs) == 0 {
		return nil, fmt.Errorf("%w: missing mint or proofs", ErrInvalidToken)
	}
	return t, nil
}

func decodeV3(body string) (*Token, error) {
	data, err := decodeBase64(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var raw tokenV3
	if err = json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(raw.Token) != 1 {
		return nil, fmt.Errorf("%w: expected one mint, got %d", ErrInvalidToken, len(raw.Token))
	}
	t := &Token{Mint: raw.Token[0].Mint, Unit: raw.Unit, Memo: raw.Memo, Proofs: raw.Token[0].Proofs}
	if t.Mint == "" || len(t.Proofs) == 0 {
		return nil, fmt.Errorf("%w: missing mint or proofs", ErrInvalidToken)
	}
	return t, nil
}
