// Package identity binds a player's public social key to the per-device hidden
// key used for escrow signatures.
package identity

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/taurusgroup/p2p-wager/pkg/taproot"
)

// KeyPair is a BIP-340 key pair.
type KeyPair struct {
	Secret taproot.SecretKey
	Public taproot.PublicKey
}

// GenerateKeyPair samples a new key pair.
func GenerateKeyPair(rand io.Reader) (*KeyPair, error) {
	sk, pk, err := taproot.GenKey(rand)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &KeyPair{Secret: sk, Public: pk}, nil
}

// KeyPairFromSecret rebuilds a key pair from its secret half.
func KeyPairFromSecret(sk taproot.SecretKey) (*KeyPair, error) {
	pk, err := sk.Public()
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return &KeyPair{Secret: sk, Public: pk}, nil
}

// Identity is what a player brings to a match. Only the public halves are
// ever sent to the peer.
type Identity struct {
	// Social is the long-lived public identity, shown as an npub.
	Social taproot.PublicKey
	// Hidden signs escrow conditions. It is reused across matches on one device.
	Hidden *KeyPair
}

// Npub returns the social key in NIP-19 form.
func (id *Identity) Npub() (string, error) {
	return EncodeNpub(id.Social)
}

// HiddenPublic returns the public half of the hidden key.
func (id *Identity) HiddenPublic() taproot.PublicKey {
	return id.Hidden.Public
}

// EncodeNpub renders an x-only key as a NIP-19 npub.
func EncodeNpub(pk taproot.PublicKey) (string, error) {
	npub, err := nip19.EncodePublicKey(hex.EncodeToString(pk))
	if err != nil {
		return "", fmt.Errorf("identity: encode npub: %w", err)
	}
	return npub, nil
}

// ParseNpub decodes a NIP-19 npub, or a plain hex key, into an x-only key.
func ParseNpub(s string) (taproot.PublicKey, error) {
	if len(s) == 2*taproot.PublicKeyLength || len(s) == 2*taproot.PublicKeyLength+2 {
		return taproot.ParsePublicKey(s)
	}
	prefix, value, err := nip19.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("identity: decode npub: %w", err)
	}
	if prefix != "npub" {
		return nil, fmt.Errorf("identity: expected npub, got %s", prefix)
	}
	h, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("identity: unexpected npub payload %T", value)
	}
	return taproot.ParsePublicKey(h)
}
