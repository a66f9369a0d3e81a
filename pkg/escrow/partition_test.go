package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/p2p-wager/pkg/cashu"
)

type feeWallet struct {
	Wallet
	ppk uint64
}

func (w feeWallet) InputFee(proofs cashu.Proofs) (uint64, error) {
	return cashu.FeeFromPPK(uint64(len(proofs)) * w.ppk), nil
}

func proofsOf(amounts ...uint64) cashu.Proofs {
	out := make(cashu.Proofs, len(amounts))
	for i, a := range amounts {
		out[i] = cashu.Proof{Amount: a, ID: "00aa", Secret: string(rune('a' + i))}
	}
	return out
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name    string
		ppk     uint64
		send    []uint64
		fee     uint64
		kept    uint64
		wantErr bool
	}{
		{"no fee", 0, []uint64{1, 32}, 0, 33, false},
		{"one sat fee", 100, []uint64{1, 32, 1}, 1, 33, false},
		{"fee larger than smallest", 1000, []uint64{4, 2}, 2, 4, false},
		{"fee of several proofs", 1000, []uint64{8, 2, 1}, 3, 8, false},
		{"no exact fee", 1000, []uint64{4, 4}, 0, 0, true},
		{"nothing left to lock", 1000, []uint64{1}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Engine{cfg: Config{Wallet: feeWallet{ppk: tt.ppk}}}
			fee, kept, err := e.partition(proofsOf(tt.send...))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFeeNotCovered)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.fee, fee.Amount())
			assert.Equal(t, tt.kept, kept.Amount())
			assert.Len(t, append(fee, kept...), len(tt.send))
		})
	}
}

func TestStakeIDIgnoresProofOrder(t *testing.T) {
	proofs := proofsOf(1, 2, 4)
	reversed := cashu.Proofs{proofs[2], proofs[1], proofs[0]}
	assert.Equal(t, stakeID(proofs), stakeID(reversed))
	assert.Equal(t, []string{"a", "b", "c"}, proofs.Secrets())
	assert.NotEqual(t, stakeID(proofs), stakeID(proofs[:2]))
}
