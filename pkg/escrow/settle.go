package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/taurusgroup/p2p-wager/pkg/arbiter"
	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/mint"
	"github.com/taurusgroup/p2p-wager/pkg/p2pk"
	"github.com/taurusgroup/p2p-wager/pkg/protocol"
	"github.com/taurusgroup/p2p-wager/pkg/taproot"
)

// Settle claims every open incoming stake of matchID for winner, which must
// be the local hidden key. It returns the fresh proofs added to the wallet.
//
// Stakes whose witness is already complete skip the arbiter. A stake that
// fails stays open and is reported in the joined error.
func (e *Engine) Settle(ctx context.Context, matchID string, winner taproot.PublicKey) (cashu.Proofs, error) {
	if !winner.Equal(e.cfg.Hidden.Public) {
		return nil, ErrNotWinner
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()

	var open []*Stake
	e.mu.Lock()
	for _, s := range e.stakes {
		if s.MatchID == matchID && s.Role == Incoming && !s.Status.Closed() {
			open = append(open, s)
		}
	}
	e.mu.Unlock()
	if len(open) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoStake, matchID)
	}

	var (
		received cashu.Proofs
		errs     []error
	)
	for _, s := range open {
		fresh, err := e.settle(ctx, s, winner)
		if err != nil {
			errs = append(errs, fmt.Errorf("stake %s: %w", s.ID, err))
			continue
		}
		received = append(received, fresh...)
	}
	return received, errors.Join(errs...)
}

func (e *Engine) settle(ctx context.Context, s *Stake, winner taproot.PublicKey) (cashu.Proofs, error) {
	log := e.log.With().Str("match", s.MatchID).Str("stake", s.ID.String()).Logger()
	if !s.witnessed {
		e.update(s, func(s *Stake) { s.Status = AwaitingArbiter })
		secrets := s.Proofs.Secrets()
		sigs, err := e.requestSignatures(ctx, s, winner, secrets)
		if err != nil {
			log.Warn().Err(err).Msg("arbiter did not sign")
			return nil, err
		}
		witnessed, err := e.witness(s.Proofs, sigs)
		if err != nil {
			log.Error().Err(err).Msg("arbiter signatures rejected")
			return nil, err
		}
		e.update(s, func(s *Stake) {
			s.Proofs = witnessed
			s.witnessed = true
		})
		log.Info().Msg("stake witnessed")
	}

	fresh, err := e.cfg.Wallet.ReceiveProofs(ctx, s.Proofs.Clone())
	switch {
	case errors.Is(err, mint.ErrProofsSpent):
		// The owner took the refund path.
		e.update(s, func(s *Stake) { s.close(Refunded) })
		log.Warn().Msg("stake was refunded before it could be claimed")
		return nil, err
	case err != nil:
		log.Warn().Err(err).Msg("redeeming witnessed stake failed")
		return nil, err
	}
	e.update(s, func(s *Stake) { s.close(Settled) })
	log.Info().Uint64("amount", fresh.Amount()).Msg("stake settled")
	return fresh, nil
}

// requestSignatures calls the arbiter until it answers, a non transport error
// occurs, or the stake's locktime passes.
func (e *Engine) requestSignatures(ctx context.Context, s *Stake, winner taproot.PublicKey, secrets []string) ([]string, error) {
	until := s.Locktime().Sub(e.cfg.Now())
	if until <= 0 {
		return nil, fmt.Errorf("%w: locktime passed", ErrStakeClosed)
	}
	ctx, cancel := context.WithTimeout(ctx, until)
	defer cancel()

	req := &arbiter.SignWinnerRequest{MatchID: s.MatchID, Winner: winner.Hex(), Secrets: secrets}
	var resp *arbiter.SignWinnerResponse
	op := func() error {
		var err error
		resp, err = e.cfg.Arbiter.SignWinner(ctx, req)
		if err != nil && !protocol.IsKind(err, protocol.Transport) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		e.log.Debug().Err(err).Dur("retry_in", d).Str("stake", s.ID.String()).Msg("arbiter unreachable")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(e.cfg.NewBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	if len(resp.Signatures) != len(secrets) {
		return nil, protocol.Errorf(protocol.Crypto, "settle", "%d secrets but %d arbiter signatures", len(secrets), len(resp.Signatures))
	}
	for i, sig := range resp.Signatures {
		if !p2pk.VerifySecret(e.cfg.ArbiterKey, secrets[i], sig) {
			return nil, protocol.Errorf(protocol.Crypto, "settle", "invalid arbiter signature for proof %d", i)
		}
	}
	return resp.Signatures, nil
}

// witness returns copies of proofs carrying the arbiter's and the local
// signatures, and checks that they unlock the main path.
func (e *Engine) witness(proofs cashu.Proofs, arbiterSigs []string) (cashu.Proofs, error) {
	out := proofs.Clone()
	now := e.cfg.Now()
	for i := range out {
		own, err := p2pk.SignSecret(e.cfg.Rand, e.cfg.Hidden.Secret, out[i].Secret)
		if err != nil {
			return nil, protocol.Wrap(protocol.Crypto, "settle", err)
		}
		out[i].Witness = ""
		if err = p2pk.AddSignatures(&out[i], arbiterSigs[i], own); err != nil {
			return nil, protocol.Wrap(protocol.Crypto, "settle", err)
		}
		ok, err := p2pk.Satisfied(out[i], now)
		if err != nil || !ok {
			return nil, protocol.Errorf(protocol.Crypto, "settle", "witness of proof %d does not unlock it", i)
		}
	}
	return out, nil
}

// Refund spends an own stake back into the wallet through the refund path.
// If the mint reports the proofs spent, the winner claimed them and the stake
// is marked Settled.
func (e *Engine) Refund(ctx context.Context, id uuid.UUID) (cashu.Proofs, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	s, ok := e.get(id)
	if !ok || s.Role != Own {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStake, id)
	}
	return e.refund(ctx, s)
}

func (e *Engine) refund(ctx context.Context, s *Stake) (cashu.Proofs, error) {
	if s.Status.Closed() {
		return nil, fmt.Errorf("%w: %s is %s", ErrStakeClosed, s.ID, s.Status)
	}
	if !s.Condition.Expired(e.cfg.Now()) {
		return nil, fmt.Errorf("%w: stake %s unlocks at %s", ErrLocktimeNotReached, s.ID, s.Locktime().Format(time.RFC3339))
	}
	signed := s.Proofs.Clone()
	for i := range signed {
		sig, err := p2pk.SignSecret(e.cfg.Rand, e.cfg.Hidden.Secret, signed[i].Secret)
		if err != nil {
			return nil, protocol.Wrap(protocol.Crypto, "refund", err)
		}
		signed[i].Witness = ""
		if err = p2pk.AddSignatures(&signed[i], sig); err != nil {
			return nil, protocol.Wrap(protocol.Crypto, "refund", err)
		}
	}
	log := e.log.With().Str("match", s.MatchID).Str("stake", s.ID.String()).Logger()
	fresh, err := e.cfg.Wallet.ReceiveProofs(ctx, signed)
	switch {
	case errors.Is(err, mint.ErrProofsSpent):
		e.update(s, func(s *Stake) { s.close(Settled) })
		log.Info().Msg("stake was claimed by the winner")
		return nil, err
	case err != nil:
		return nil, err
	}
	e.update(s, func(s *Stake) { s.close(Refunded) })
	log.Info().Uint64("amount", fresh.Amount()).Msg("stake refunded")
	return fresh, nil
}

// RefundExpired refunds every open own stake past its locktime and
// relinquishes expired incoming stakes. A witnessed incoming stake gets one
// last redemption attempt first.
func (e *Engine) RefundExpired(ctx context.Context) (cashu.Proofs, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	now := e.cfg.Now()
	var expired []*Stake
	e.mu.Lock()
	for _, s := range e.stakes {
		if !s.Status.Closed() && s.Condition.Expired(now) {
			expired = append(expired, s)
		}
	}
	e.mu.Unlock()

	var (
		received cashu.Proofs
		errs     []error
	)
	for _, s := range expired {
		if s.Role == Own {
			fresh, err := e.refund(ctx, s)
			if err != nil && !errors.Is(err, mint.ErrProofsSpent) {
				errs = append(errs, fmt.Errorf("stake %s: %w", s.ID, err))
			}
			received = append(received, fresh...)
			continue
		}
		if s.witnessed {
			if fresh, err := e.cfg.Wallet.ReceiveProofs(ctx, s.Proofs.Clone()); err == nil {
				e.update(s, func(s *Stake) { s.close(Settled) })
				received = append(received, fresh...)
				continue
			}
		}
		e.update(s, func(s *Stake) { s.close(Refunded) })
		e.log.Info().Str("match", s.MatchID).Str("stake", s.ID.String()).Msg("incoming stake relinquished")
	}
	return received, errors.Join(errs...)
}
