// Package hash provides the domain separated BLAKE3 hash used for idempotency
// keys and session identifiers.
package hash

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/taurusgroup/p2p-wager/internal/params"
	"github.com/zeebo/blake3"
)

// DigestLengthBytes is the length of Sum.
const DigestLengthBytes = params.SecBytes

// Hash wraps a BLAKE3 hasher, keyed by a context string so that digests
// computed for different purposes never collide.
type Hash struct {
	h *blake3.Hasher
}

// New creates a Hash whose output is bound to context.
func New(context string) *Hash {
	return &Hash{h: blake3.NewDeriveKey(context)}
}

// Digest returns a reader for the current output of the function.
//
// This finalizes the current state of the hash, and returns what's
// essentially a stream of random bytes.
func (hash *Hash) Digest() io.Reader {
	return hash.h.Digest()
}

// Sum returns a slice of length DigestLengthBytes resulting from the current hash state.
func (hash *Hash) Sum() []byte {
	out := make([]byte, DigestLengthBytes)
	if _, err := io.ReadFull(hash.Digest(), out); err != nil {
		panic(fmt.Sprintf("hash.Sum: internal hash failure: %v", err))
	}
	return out
}

// SumHex returns Sum as lowercase hex.
func (hash *Hash) SumHex() string {
	return hex.EncodeToString(hash.Sum())
}

// WriteAny takes many different data types and writes them to the hash state.
//
// Currently supported types:
//
//   - []byte
//   - string
//   - uint64
//   - hash.WriterToWithDomain
//
// Every item is framed with its domain and length, so ("ab", "c") and ("a", "bc")
// hash differently.
func (hash *Hash) WriteAny(data ...interface{}) error {
	for _, d := range data {
		var err error
		switch t := d.(type) {
		case []byte:
			err = writeWithDomain(hash.h, BytesWithDomain{TheDomain: "[]byte", Bytes: t})
		case string:
			err = writeWithDomain(hash.h, BytesWithDomain{TheDomain: "string", Bytes: []byte(t)})
		case uint64:
			var b [8]byte
			for i := range b {
				b[i] = byte(t >> (56 - 8*i))
			}
			err = writeWithDomain(hash.h, BytesWithDomain{TheDomain: "uint64", Bytes: b[:]})
		case WriterToWithDomain:
			err = writeWithDomain(hash.h, t)
		default:
			return fmt.Errorf("hash.Hash: unsupported type %T", d)
		}
		if err != nil {
			return fmt.Errorf("hash.Hash: write %T: %w", d, err)
		}
	}
	return nil
}

// Clone returns a copy of the Hash in its current state.
func (hash *Hash) Clone() *Hash {
	return &Hash{h: hash.h.Clone()}
}
