package mint_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/p2p-wager/internal/test"
	"github.com/taurusgroup/p2p-wager/pkg/bdhke"
	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/math/curve"
	"github.com/taurusgroup/p2p-wager/pkg/math/sample"
	"github.com/taurusgroup/p2p-wager/pkg/mint"
	"github.com/taurusgroup/p2p-wager/pkg/protocol"
)

type output struct {
	secret string
	r      *curve.Scalar
	msg    cashu.BlindedMessage
}

func outputs(t *testing.T, id string, amounts ...uint64) ([]output, cashu.BlindedMessages) {
	t.Helper()
	outs := make([]output, len(amounts))
	msgs := make(cashu.BlindedMessages, len(amounts))
	for i, a := range amounts {
		secret := hex.EncodeToString(sample.Secret(rand.Reader))
		B, r, err := bdhke.BlindRandom(rand.Reader, []byte(secret))
		require.NoError(t, err)
		outs[i] = output{secret: secret, r: r, msg: cashu.NewBlindedMessage(id, a, B)}
		msgs[i] = outs[i].msg
	}
	return outs, msgs
}

func unblind(t *testing.T, ks *cashu.Keyset, outs []output, sigs []cashu.BlindSignature) cashu.Proofs {
	t.Helper()
	require.Len(t, sigs, len(outs))
	proofs := make(cashu.Proofs, len(outs))
	for i, s := range sigs {
		C_, err := s.Point()
		require.NoError(t, err)
		K, err := ks.Key(s.Amount)
		require.NoError(t, err)
		C, err := bdhke.Unblind(C_, outs[i].r, K)
		require.NoError(t, err)
		proofs[i] = cashu.Proof{Amount: s.Amount, ID: s.ID, Secret: outs[i].secret, C: C.Hex()}
	}
	return proofs
}

func mintProofs(t *testing.T, m *test.Mint, c *mint.Client, ks *cashu.Keyset, amounts ...uint64) cashu.Proofs {
	t.Helper()
	ctx := context.Background()
	var total uint64
	for _, a := range amounts {
		total += a
	}
	q, err := c.MintQuote(ctx, total, "sat")
	require.NoError(t, err)
	m.PayQuote(q.Quote)
	outs, msgs := outputs(t, ks.ID, amounts...)
	sigs, err := c.Mint(ctx, q.Quote, msgs)
	require.NoError(t, err)
	return unblind(t, ks, outs, sigs)
}

func TestLoadKeysets(t *testing.T) {
	m := test.NewMint(t, test.WithFeePPK(100))
	c := mint.NewClient(m.URL() + "/")
	assert.Equal(t, m.URL(), c.URL())

	keysets, err := c.LoadKeysets(context.Background())
	require.NoError(t, err)
	ks, ok := keysets[m.Keyset().ID]
	require.True(t, ok)
	assert.Equal(t, uint64(100), ks.InputFeePPK)

	id, err := cashu.DeriveKeysetID(ks.Keys)
	require.NoError(t, err)
	assert.Equal(t, ks.ID, id)
}

func TestQuoteLifecycle(t *testing.T) {
	ctx := context.Background()
	m := test.NewMint(t)
	c := mint.NewClient(m.URL())
	ks := m.Keyset()

	q, err := c.MintQuote(ctx, 8, "sat")
	require.NoError(t, err)
	assert.Equal(t, mint.QuoteUnpaid, q.State)

	_, msgs := outputs(t, ks.ID, 8)
	_, err = c.Mint(ctx, q.Quote, msgs)
	assert.ErrorIs(t, err, mint.ErrQuoteNotPaid)
	assert.True(t, protocol.IsKind(err, protocol.Mint))

	m.PayQuote(q.Quote)
	state, err := c.MintQuoteState(ctx, q.Quote)
	require.NoError(t, err)
	assert.Equal(t, mint.QuotePaid, state.State)

	outs, msgs := outputs(t, ks.ID, 8)
	sigs, err := c.Mint(ctx, q.Quote, msgs)
	require.NoError(t, err)
	proofs := unblind(t, ks, outs, sigs)
	assert.Equal(t, uint64(8), proofs.Amount())

	state, err = c.MintQuoteState(ctx, q.Quote)
	require.NoError(t, err)
	assert.Equal(t, mint.QuoteIssued, state.State)
}

func TestSwapAndDoubleSpend(t *testing.T) {
	ctx := context.Background()
	m := test.NewMint(t)
	c := mint.NewClient(m.URL())
	ks := m.Keyset()
	proofs := mintProofs(t, m, c, ks, 4, 2)

	outs, msgs := outputs(t, ks.ID, 1, 1, 4)
	sigs, err := c.Swap(ctx, proofs, msgs)
	require.NoError(t, err)
	fresh := unblind(t, ks, outs, sigs)
	assert.Equal(t, proofs.Amount(), fresh.Amount())

	_, msgs = outputs(t, ks.ID, 2, 4)
	_, err = c.Swap(ctx, proofs, msgs)
	assert.ErrorIs(t, err, mint.ErrProofsSpent)

	ys, err := proofs.Ys()
	require.NoError(t, err)
	states, err := c.CheckState(ctx, ys)
	require.NoError(t, err)
	for _, s := range states {
		assert.Equal(t, mint.StateSpent, s.State)
	}

	_, msgs = outputs(t, ks.ID, 8)
	_, err = c.Swap(ctx, fresh, msgs)
	assert.ErrorIs(t, err, mint.ErrRejected, "unbalanced swap")
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	m := test.NewMint(t)
	c := mint.NewClient(m.URL())
	ks := m.Keyset()
	proofs := mintProofs(t, m, c, ks, 2)

	outs, msgs := outputs(t, ks.ID, 1, 1)
	m.DropNextSwapAnswer()
	_, err := c.Swap(ctx, proofs, msgs)
	require.ErrorIs(t, err, mint.ErrMintUnavailable)

	_, unknown := outputs(t, ks.ID, 1)
	resp, err := c.Restore(ctx, append(msgs, unknown...))
	require.NoError(t, err)
	assert.Equal(t, msgs, resp.Outputs)
	restored := unblind(t, ks, outs, resp.Signatures)
	assert.Equal(t, uint64(2), restored.Amount())
}

func TestMintDown(t *testing.T) {
	m := test.NewMint(t)
	c := mint.NewClient(m.URL())
	m.SetDown(true)
	_, err := c.Keysets(context.Background())
	assert.ErrorIs(t, err, mint.ErrMintUnavailable)

	c = mint.NewClient("http://127.0.0.1:1")
	_, err = c.Keys(context.Background())
	assert.ErrorIs(t, err, mint.ErrMintUnavailable)
}
