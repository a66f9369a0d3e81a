package cashu

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/p2p-wager/pkg/math/curve"
	"github.com/taurusgroup/p2p-wager/pkg/math/sample"
)

func testKeyset(t *testing.T, feePPK uint64) *Keyset {
	t.Helper()
	keys := make(map[uint64]*curve.Point)
	for i := 0; i < 8; i++ {
		keys[1<<i] = sample.Scalar(rand.Reader).ActOnBase()
	}
	id, err := DeriveKeysetID(keys)
	require.NoError(t, err)
	return &Keyset{ID: id, Unit: "sat", Active: true, InputFeePPK: feePPK, Keys: keys}
}

func testProof(t *testing.T, id string, amount uint64) Proof {
	t.Helper()
	return Proof{
		Amount: amount,
		ID:     id,
		Secret: hex.EncodeToString(sample.Secret(rand.Reader)),
		C:      sample.Scalar(rand.Reader).ActOnBase().Hex(),
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		amount uint64
		want   []uint64
	}{
		{0, []uint64{}},
		{1, []uint64{1}},
		{33, []uint64{1, 32}},
		{64, []uint64{64}},
		{255, []uint64{1, 2, 4, 8, 16, 32, 64, 128}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Split(tt.amount), "Split(%d)", tt.amount)
	}
}

func TestInputFee(t *testing.T) {
	free := testKeyset(t, 0)
	paid := testKeyset(t, 400)
	ks := Keysets{free.ID: free, paid.ID: paid}

	tests := []struct {
		name   string
		proofs Proofs
		want   uint64
	}{
		{"none", nil, 0},
		{"free", Proofs{testProof(t, free.ID, 4)}, 0},
		{"one paid rounds up", Proofs{testProof(t, paid.ID, 4)}, 1},
		{"two paid", Proofs{testProof(t, paid.ID, 4), testProof(t, paid.ID, 8)}, 1},
		{"three paid", Proofs{testProof(t, paid.ID, 1), testProof(t, paid.ID, 2), testProof(t, paid.ID, 4)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, err := ks.InputFee(tt.proofs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fee)
		})
	}

	_, err := ks.InputFee(Proofs{testProof(t, "00ffffffffffffff", 1)})
	assert.Error(t, err)
}

func TestDeriveKeysetID(t *testing.T) {
	k := testKeyset(t, 0)
	assert.Len(t, k.ID, 16)
	assert.Equal(t, KeysetVersion, k.ID[:2])

	again, err := DeriveKeysetID(k.Keys)
	require.NoError(t, err)
	assert.Equal(t, k.ID, again)
}

func TestKeysetWire(t *testing.T) {
	k := testKeyset(t, 100)
	parsed, err := ParseKeyset(k.ToWire(), k.Info())
	require.NoError(t, err)
	assert.Equal(t, k.ID, parsed.ID)
	assert.Equal(t, k.InputFeePPK, parsed.InputFeePPK)
	assert.Equal(t, k.Amounts(), parsed.Amounts())
	for a, K := range k.Keys {
		assert.True(t, K.Equal(parsed.Keys[a]))
	}

	_, err = ParseKeyset(k.ToWire(), KeysetInfo{ID: "00aa"})
	assert.Error(t, err)
}

func TestTokenV4RoundTrip(t *testing.T) {
	k1, k2 := testKeyset(t, 0), testKeyset(t, 0)
	p := testProof(t, k1.ID, 8)
	p.Witness = `{"signatures":["aa","bb"]}`
	token := &Token{
		Mint:   "https://mint.example.com",
		Unit:   "sat",
		Memo:   "stake",
		Proofs: Proofs{p, testProof(t, k1.ID, 1), testProof(t, k2.ID, 32)},
	}

	s, err := token.EncodeV4()
	require.NoError(t, err)
	assert.Equal(t, "cashuB", s[:6])

	decoded, err := DecodeToken(s)
	require.NoError(t, err)
	assert.Equal(t, token, decoded)
	assert.Equal(t, uint64(41), decoded.Amount())
	assert.Equal(t, []string{k1.ID, k2.ID}, decoded.Keysets())
}

func TestTokenV3RoundTrip(t *testing.T) {
	k := testKeyset(t, 0)
	token := &Token{
		Mint:   "https://mint.example.com",
		Unit:   "sat",
		Proofs: Proofs{testProof(t, k.ID, 2), testProof(t, k.ID, 4)},
	}
	s, err := token.EncodeV3()
	require.NoError(t, err)
	assert.Equal(t, "cashuA", s[:6])

	decoded, err := DecodeToken(s)
	require.NoError(t, err)
	assert.Equal(t, token, decoded)
}

func TestDecodeTokenRejects(t *testing.T) {
	for _, s := range []string{
		"",
		"cashuC",
		"cashuB!!!",
		"cashuBoWFt",
		"cashuA" + "eyJ0b2tlbiI6W119",
	} {
		_, err := DecodeToken(s)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", s)
	}

	_, err := (&Token{Mint: "x"}).EncodeV4()
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestProofsHelpers(t *testing.T) {
	k := testKeyset(t, 0)
	ps := Proofs{testProof(t, k.ID, 2), testProof(t, k.ID, 16)}
	assert.Equal(t, uint64(18), ps.Amount())
	assert.Equal(t, []string{ps[0].Secret, ps[1].Secret}, ps.Secrets())

	ys, err := ps.Ys()
	require.NoError(t, err)
	assert.Len(t, ys, 2)
	assert.NotEqual(t, ys[0], ys[1])

	clone := ps.Clone()
	clone[0].Amount = 99
	assert.Equal(t, uint64(2), ps[0].Amount)
}
