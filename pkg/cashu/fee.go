package cashu

import (
	"fmt"
	"math/bits"

	"github.com/taurusgroup/p2p-wager/internal/params"
)

// Keysets indexes keysets by id.
type Keysets map[string]*Keyset

// InputFee returns ceil(Σ input_fee_ppk / 1000) over the keysets of proofs.
//
// An unknown keyset is an error, since its fee cannot be known.
func (ks Keysets) InputFee(proofs Proofs) (uint64, error) {
	var ppk uint64
	for _, p := range proofs {
		k, ok := ks[p.ID]
		if !ok {
			return 0, fmt.Errorf("cashu: unknown keyset %q", p.ID)
		}
		ppk += k.InputFeePPK
	}
	return FeeFromPPK(ppk), nil
}

// FeeFromPPK rounds a sum of per-proof fees in parts per thousand up to whole units.
func FeeFromPPK(ppk uint64) uint64 {
	return (ppk + params.FeePPKDivisor - 1) / params.FeePPKDivisor
}

// Split decomposes amount into ascending powers of two, one per set bit.
func Split(amount uint64) []uint64 {
	out := make([]uint64, 0, bits.OnesCount64(amount))
	for i := 0; i < 64; i++ {
		if amount&(1<<i) != 0 {
			out = append(out, 1<<i)
		}
	}
	return out
}
