package arbiter_test

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/p2p-wager/pkg/arbiter"
	"github.com/taurusgroup/p2p-wager/pkg/p2pk"
	"github.com/taurusgroup/p2p-wager/pkg/protocol"
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

func stakeSecret(t *testing.T, arb, cosigner, refund keyPair) string {
	t.Helper()
	secret, err := p2pk.NewSecret(rand.Reader, &p2pk.Condition{
		Data:     arb.pk,
		Pubkeys:  []taproot.PublicKey{cosigner.pk},
		NSigs:    2,
		Locktime: time.Now().Add(10 * time.Minute),
		Refund:   []taproot.PublicKey{refund.pk},
	})
	require.NoError(t, err)
	return secret
}

func newSigner(t *testing.T, key keyPair, policy arbiter.Policy) *arbiter.Signer {
	t.Helper()
	s, err := arbiter.NewSigner(key.sk, policy, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSignWinner(t *testing.T) {
	arb, a, b := newKey(t), newKey(t), newKey(t)
	signer := newSigner(t, arb, nil)
	assert.True(t, signer.PublicKey().Equal(arb.pk))

	secrets := []string{stakeSecret(t, arb, a, b), stakeSecret(t, arb, a, b), "plain"}
	req := &arbiter.SignWinnerRequest{MatchID: "m1", Winner: a.pk.Hex(), Secrets: secrets}
	resp, err := signer.SignWinner(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Signatures, len(secrets))
	for i, secret := range secrets {
		assert.True(t, p2pk.VerifySecret(arb.pk, secret, resp.Signatures[i]), "signature %d", i)
	}

	again, err := signer.SignWinner(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, resp.Signatures, again.Signatures, "signatures must be deterministic")
}

func TestSignWinnerBadRequest(t *testing.T) {
	arb, a := newKey(t), newKey(t)
	signer := newSigner(t, arb, nil)
	tests := []struct {
		name string
		req  arbiter.SignWinnerRequest
	}{
		{"no match", arbiter.SignWinnerRequest{Winner: a.pk.Hex(), Secrets: []string{"s"}}},
		{"no secrets", arbiter.SignWinnerRequest{MatchID: "m", Winner: a.pk.Hex()}},
		{"bad winner", arbiter.SignWinnerRequest{MatchID: "m", Winner: "zz", Secrets: []string{"s"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.SignWinner(context.Background(), &tt.req)
			assert.ErrorIs(t, err, arbiter.ErrBadRequest)
		})
	}
}

func TestPolicies(t *testing.T) {
	arb, a, b, other := newKey(t), newKey(t), newKey(t), newKey(t)
	forA := stakeSecret(t, arb, a, b)
	forOtherArbiter := stakeSecret(t, other, a, b)

	cosign := arbiter.WinnerMustCosign{}
	req := &arbiter.SignWinnerRequest{MatchID: "m", Winner: a.pk.Hex(), Secrets: []string{forA}}
	assert.NoError(t, cosign.Allow(req, a.pk, arb.pk))
	assert.ErrorIs(t, cosign.Allow(req, b.pk, arb.pk), arbiter.ErrRefused)

	req.Secrets = []string{forOtherArbiter}
	assert.ErrorIs(t, cosign.Allow(req, a.pk, arb.pk), arbiter.ErrRefused)
	req.Secrets = []string{"not p2pk"}
	assert.ErrorIs(t, cosign.Allow(req, a.pk, arb.pk), arbiter.ErrRefused)

	registry, err := arbiter.NewMatchRegistry(4)
	require.NoError(t, err)
	req = &arbiter.SignWinnerRequest{MatchID: "m"}
	assert.NoError(t, registry.Allow(req, a.pk, arb.pk))
	assert.NoError(t, registry.Allow(req, a.pk, arb.pk))
	assert.ErrorIs(t, registry.Allow(req, b.pk, arb.pk), arbiter.ErrRefused)

	chain := arbiter.Chain{cosign, registry}
	req = &arbiter.SignWinnerRequest{MatchID: "m2", Secrets: []string{forA}}
	assert.ErrorIs(t, chain.Allow(req, b.pk, arb.pk), arbiter.ErrRefused)
	assert.NoError(t, chain.Allow(req, a.pk, arb.pk))
}

func TestServerClient(t *testing.T) {
	arb, a, b := newKey(t), newKey(t), newKey(t)
	signer := newSigner(t, arb, arbiter.WinnerMustCosign{})
	srv := httptest.NewServer(arbiter.NewServer(signer, zerolog.Nop()))
	defer srv.Close()

	c := arbiter.NewClient(srv.URL, nil)
	ctx := context.Background()

	pk, err := c.PublicKey(ctx)
	require.NoError(t, err)
	assert.True(t, pk.Equal(arb.pk))

	secret := stakeSecret(t, arb, a, b)
	resp, err := c.SignWinner(ctx, &arbiter.SignWinnerRequest{MatchID: "m", Winner: a.pk.Hex(), Secrets: []string{secret}})
	require.NoError(t, err)
	require.Len(t, resp.Signatures, 1)
	assert.True(t, p2pk.VerifySecret(arb.pk, secret, resp.Signatures[0]))

	_, err = c.SignWinner(ctx, &arbiter.SignWinnerRequest{MatchID: "m", Winner: b.pk.Hex(), Secrets: []string{secret}})
	assert.ErrorIs(t, err, arbiter.ErrRefused)
	assert.False(t, protocol.IsKind(err, protocol.Transport))

	_, err = c.SignWinner(ctx, &arbiter.SignWinnerRequest{Winner: a.pk.Hex(), Secrets: []string{secret}})
	assert.ErrorIs(t, err, arbiter.ErrBadRequest)

	res, err := http.Get(srv.URL + arbiter.PathHealth)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestClientTransportErrors(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	req := &arbiter.SignWinnerRequest{MatchID: "m", Winner: "00", Secrets: []string{"s"}}
	_, err := arbiter.NewClient(down.URL, nil).SignWinner(context.Background(), req)
	assert.True(t, protocol.IsKind(err, protocol.Transport))

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	_, err = arbiter.NewClient(url, nil).SignWinner(context.Background(), req)
	assert.True(t, protocol.IsKind(err, protocol.Transport))
}
