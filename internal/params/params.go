package params

import "time"

const (
	SecParam = 256
	SecBytes = SecParam / 8

	// BytesScalar is the length of a serialized secp256k1 scalar.
	BytesScalar = 32
	// BytesPoint is the length of a compressed secp256k1 point.
	BytesPoint = 33
	// BytesXOnly is the length of a BIP-340 x-only public key.
	BytesXOnly = 32

	// SecretBytes is the amount of randomness in a fresh proof secret or P2PK nonce.
	SecretBytes = 32

	// MaxOrder bounds the denominations a keyset signs: amounts 2⁰ … 2^(MaxOrder-1).
	MaxOrder = 32

	// RequiredSigs is the number of signatures a stake's spending condition asks for:
	// the arbiter and the winner.
	RequiredSigs = 2

	// LocktimeWindow is how long a stake stays locked to the 2-of-2 path
	// before the staker may reclaim it with the refund key.
	LocktimeWindow = 10 * time.Minute

	// MintTimeout bounds a single call to the mint, independent of the caller's context.
	MintTimeout = 30 * time.Second

	// ArbiterTimeout bounds a single call to the arbiter.
	ArbiterTimeout = 15 * time.Second

	// ElectionRounds is the number of draw exchanges after which an unresolved election
	// is abandoned.
	ElectionRounds = 8

	// ElectionTimeout is how long a side waits for the peer's draw before redrawing.
	ElectionTimeout = 3 * time.Second

	// DedupCacheSize is the number of cash idempotency keys a session remembers.
	DedupCacheSize = 256

	// MaxProtocolErrors is the number of consecutive malformed messages after which
	// a session closes the connection.
	MaxProtocolErrors = 8

	// FeePPKDivisor converts a keyset's input_fee_ppk into whole units.
	FeePPKDivisor = 1000
)
