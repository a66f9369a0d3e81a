package arbiter

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/taurusgroup/p2p-wager/pkg/p2pk"
	"github.com/taurusgroup/p2p-wager/pkg/taproot"
)

// Policy decides whether the arbiter attests a result.
type Policy interface {
	Allow(req *SignWinnerRequest, winner, arbiter taproot.PublicKey) error
}

// Unconditional signs every well-formed request. Match results are then
// assumed to be verified upstream.
type Unconditional struct{}

func (Unconditional) Allow(*SignWinnerRequest, taproot.PublicKey, taproot.PublicKey) error {
	return nil
}

// WinnerMustCosign only signs P2PK secrets locked to the arbiter that name
// the winner as co-signer, so an attestation can only ever unlock funds for the winner.
type WinnerMustCosign struct{}

func (WinnerMustCosign) Allow(req *SignWinnerRequest, winner, arbiter taproot.PublicKey) error {
	for i, secret := range req.Secrets {
		cond, err := p2pk.ParseCondition(secret)
		if err != nil {
			return fmt.Errorf("%w: secret %d: %v", ErrRefused, i, err)
		}
		if !cond.Data.Equal(arbiter) {
			return fmt.Errorf("%w: secret %d is not locked to this arbiter", ErrRefused, i)
		}
		named := false
		for _, k := range cond.Pubkeys {
			named = named || k.Equal(winner)
		}
		if !named {
			return fmt.Errorf("%w: secret %d does not name the winner", ErrRefused, i)
		}
	}
	return nil
}

// MatchRegistry remembers the winner attested for recent matches and refuses
// to attest a different one.
type MatchRegistry struct {
	mu      sync.Mutex
	winners *lru.Cache[string, string]
}

// NewMatchRegistry remembers up to size matches.
func NewMatchRegistry(size int) (*MatchRegistry, error) {
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("arbiter: %w", err)
	}
	return &MatchRegistry{winners: c}, nil
}

func (r *MatchRegistry) Allow(req *SignWinnerRequest, winner, _ taproot.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := string(winner)
	if prev, ok := r.winners.Get(req.MatchID); ok && prev != w {
		return fmt.Errorf("%w: match %s already attested for another winner", ErrRefused, req.MatchID)
	}
	r.winners.Add(req.MatchID, w)
	return nil
}

// Chain applies policies in order and stops at the first refusal.
type Chain []Policy

func (c Chain) Allow(req *SignWinnerRequest, winner, arbiter taproot.PublicKey) error {
	for _, p := range c {
		if err := p.Allow(req, winner, arbiter); err != nil {
			return err
		}
	}
	return nil
}
