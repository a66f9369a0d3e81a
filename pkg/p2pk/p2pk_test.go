package p2pk

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/taproot"
)

type keyPair struct {
	sk taproot.SecretKey
	pk taproot.PublicKey
}

func newKey(t *testing.T) keyPair {
	t.Helper()
	sk, pk, err := taproot.GenKey(rand.Reader)
	require.NoError(t, err)
	return keyPair{sk, pk}
}

func stakeCondition(arbiter, cosigner, refund keyPair, locktime time.Time) *Condition {
	return &Condition{
		Data:     arbiter.pk,
		Pubkeys:  []taproot.PublicKey{cosigner.pk},
		NSigs:    2,
		Locktime: locktime,
		Refund:   []taproot.PublicKey{refund.pk},
		SigFlag:  SigInputs,
	}
}

func sign(t *testing.T, k keyPair, secret string) string {
	t.Helper()
	sig, err := SignSecret(rand.Reader, k.sk, secret)
	require.NoError(t, err)
	return sig
}

func TestSecretRoundTrip(t *testing.T) {
	arbiter, cosigner, refund := newKey(t), newKey(t), newKey(t)
	lock := time.Unix(1_700_000_600, 0)
	cond := stakeCondition(arbiter, cosigner, refund, lock)

	secret, err := NewSecret(rand.Reader, cond)
	require.NoError(t, err)

	var raw []interface{}
	require.NoError(t, json.Unmarshal([]byte(secret), &raw))
	assert.Equal(t, "P2PK", raw[0])

	parsed, err := ParseCondition(secret)
	require.NoError(t, err)
	assert.True(t, cond.SameSpending(parsed))
	assert.Equal(t, lock, parsed.Locktime)

	other, err := NewSecret(rand.Reader, cond)
	require.NoError(t, err)
	assert.NotEqual(t, secret, other, "every secret gets its own nonce")
}

func TestParseConditionRejects(t *testing.T) {
	_, err := ParseCondition(hex.EncodeToString([]byte("plain secret")))
	assert.ErrorIs(t, err, ErrNotP2PK)

	_, err = ParseCondition(`["HTLC",{"nonce":"00","data":"00"}]`)
	assert.ErrorIs(t, err, ErrNotP2PK)

	k := newKey(t)
	_, err = ParseCondition(`["P2PK",{"nonce":"00","data":"` + k.pk.Hex() + `","tags":[["n_sigs","zero"]]}]`)
	assert.Error(t, err)

	cond, err := ParseCondition(`["P2PK",{"nonce":"00","data":"` + k.pk.Hex() + `"}]`)
	require.NoError(t, err)
	assert.Equal(t, 1, cond.NSigs)
	assert.True(t, cond.Locktime.IsZero())
}

func TestWitnessSatisfaction(t *testing.T) {
	arbiter, winner, refund, stranger := newKey(t), newKey(t), newKey(t), newKey(t)
	now := time.Unix(1_700_000_000, 0)
	cond := stakeCondition(arbiter, winner, refund, now.Add(10*time.Minute))
	secret, err := NewSecret(rand.Reader, cond)
	require.NoError(t, err)

	arbiterSig := sign(t, arbiter, secret)
	winnerSig := sign(t, winner, secret)

	tests := []struct {
		name string
		sigs []string
		want bool
	}{
		{"empty", nil, false},
		{"arbiter only", []string{arbiterSig}, false},
		{"winner only", []string{winnerSig}, false},
		{"duplicate arbiter", []string{arbiterSig, arbiterSig}, false},
		{"arbiter and stranger", []string{arbiterSig, sign(t, stranger, secret)}, false},
		{"arbiter and garbage", []string{arbiterSig, "00"}, false},
		{"refund before locktime", []string{sign(t, refund, secret)}, false},
		{"arbiter and winner", []string{arbiterSig, winnerSig}, true},
		{"order independent", []string{winnerSig, arbiterSig}, true},
		{"with extra invalid", []string{"zz", arbiterSig, winnerSig}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := cashu.Proof{Amount: 1, ID: "00aa", Secret: secret}
			require.NoError(t, AddSignatures(&p, tt.sigs...))
			ok, err := Satisfied(p, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestRefundPath(t *testing.T) {
	arbiter, winner, refund := newKey(t), newKey(t), newKey(t)
	now := time.Unix(1_700_000_000, 0)
	cond := stakeCondition(arbiter, winner, refund, now.Add(10*time.Minute))
	secret, err := NewSecret(rand.Reader, cond)
	require.NoError(t, err)

	p := cashu.Proof{Amount: 1, ID: "00aa", Secret: secret}
	require.NoError(t, AddSignatures(&p, sign(t, refund, secret)))

	ok, err := Satisfied(p, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Satisfied(p, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	q := cashu.Proof{Amount: 1, ID: "00aa", Secret: secret}
	require.NoError(t, AddSignatures(&q, sign(t, winner, secret)))
	ok, err = Satisfied(q, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "only the refund key unlocks the expired path")
}

func TestAddSignaturesAccumulates(t *testing.T) {
	p := cashu.Proof{Secret: "s"}
	require.NoError(t, AddSignatures(&p, "aa"))
	require.NoError(t, AddSignatures(&p, "bb"))
	w, err := ParseWitness(p.Witness)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "bb"}, w.Signatures)
	assert.Equal(t, `{"signatures":["aa","bb"]}`, p.Witness)

	p.Witness = "{"
	assert.Error(t, AddSignatures(&p, "cc"))
}
