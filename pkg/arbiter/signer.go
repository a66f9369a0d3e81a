// Package arbiter implements the match server's signing service: given a
// declared winner and the staked secrets, it returns one BIP-340 signature
// per secret. It never holds funds.
package arbiter

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/taurusgroup/p2p-wager/pkg/p2pk"
	"github.com/taurusgroup/p2p-wager/pkg/taproot"
)

var (
	// ErrBadRequest is returned for requests missing a match, a winner or secrets.
	ErrBadRequest = errors.New("arbiter: bad request")
	// ErrRefused is returned when the signing policy rejects a request.
	ErrRefused = errors.New("arbiter: request refused by policy")
)

// SignWinnerRequest asks the arbiter to attest that Winner won MatchID.
type SignWinnerRequest struct {
	MatchID string `json:"matchId"`
	// Winner is the winner's hidden key, hex encoded.
	Winner  string   `json:"winner"`
	Secrets []string `json:"secrets"`
}

// SignWinnerResponse holds one hex signature per requested secret, in order.
type SignWinnerResponse struct {
	Signatures []string `json:"signatures"`
}

// Signer signs stake secrets with the arbiter key.
type Signer struct {
	key    taproot.SecretKey
	public taproot.PublicKey
	policy Policy
	log    zerolog.Logger
}

// NewSigner returns a signer enforcing policy, Unconditional if nil.
func NewSigner(key taproot.SecretKey, policy Policy, log zerolog.Logger) (*Signer, error) {
	public, err := key.Public()
	if err != nil {
		return nil, fmt.Errorf("arbiter: %w", err)
	}
	if policy == nil {
		policy = Unconditional{}
	}
	return &Signer{
		key:    key,
		public: public,
		policy: policy,
		log:    log.With().Str("component", "arbiter").Logger(),
	}, nil
}

// PublicKey returns the arbiter key stakes must be locked to.
func (s *Signer) PublicKey() taproot.PublicKey {
	return s.public
}

// SignWinner signs sha256(secret) for every secret, after the policy allowed the request.
//
// Signatures use no auxiliary randomness, so the same request always yields
// the same answer.
func (s *Signer) SignWinner(_ context.Context, req *SignWinnerRequest) (*SignWinnerResponse, error) {
	if req.MatchID == "" || len(req.Secrets) == 0 {
		return nil, fmt.Errorf("%w: missing match id or secrets", ErrBadRequest)
	}
	winner, err := taproot.ParsePublicKey(req.Winner)
	if err != nil {
		return nil, fmt.Errorf("%w: winner: %v", ErrBadRequest, err)
	}
	if err = s.policy.Allow(req, winner, s.public); err != nil {
		s.log.Warn().Err(err).Str("match", req.MatchID).Msg("sign request refused")
		return nil, err
	}
	sigs := make([]string, len(req.Secrets))
	for i, secret := range req.Secrets {
		if sigs[i], err = p2pk.SignSecret(nil, s.key, secret); err != nil {
			return nil, err
		}
	}
	s.log.Info().Str("match", req.MatchID).Str("winner", req.Winner).Int("secrets", len(sigs)).Msg("winner signed")
	return &SignWinnerResponse{Signatures: sigs}, nil
}
