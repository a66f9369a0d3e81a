// Package escrow locks match stakes into 2-of-2 P2PK proofs shared by the
// arbiter and the peer, settles them for the winner and refunds them after
// their locktime.
package escrow

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taurusgroup/p2p-wager/internal/params"
	"github.com/taurusgroup/p2p-wager/pkg/arbiter"
	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/identity"
	"github.com/taurusgroup/p2p-wager/pkg/p2pk"
	"github.com/taurusgroup/p2p-wager/pkg/taproot"
	"github.com/taurusgroup/p2p-wager/pkg/wallet"
)

var (
	// ErrNotWinner is returned when a party that lost tries to settle.
	ErrNotWinner = errors.New("escrow: local party is not the winner")
	// ErrLocktimeNotReached is returned when refunding before the locktime.
	ErrLocktimeNotReached = errors.New("escrow: locktime not reached")
	// ErrFeeNotCovered is returned when the send proofs cannot be split into
	// exact fee inputs and stake outputs. The proofs go back to the wallet.
	ErrFeeNotCovered = errors.New("escrow: fee cannot be covered exactly")
	// ErrInvalidStake is returned for a peer token that does not lock funds
	// to this party and the arbiter.
	ErrInvalidStake = errors.New("escrow: invalid stake")
	// ErrUnknownStake is returned for stake ids the engine does not hold.
	ErrUnknownStake = errors.New("escrow: unknown stake")
	// ErrStakeClosed is returned when acting on a settled or refunded stake.
	ErrStakeClosed = errors.New("escrow: stake already closed")
	// ErrNoStake is returned when a match has no stake to settle.
	ErrNoStake = errors.New("escrow: no open stake for match")
)

// Wallet is the part of wallet.Wallet the engine spends from.
type Wallet interface {
	MintURL() string
	Keysets() cashu.Keysets
	InputFee(proofs cashu.Proofs) (uint64, error)
	Send(ctx context.Context, amount uint64, opts wallet.SendOptions) (*wallet.SendResult, error)
	SwapInto(ctx context.Context, inputs cashu.Proofs, outputs []wallet.Output) (cashu.Proofs, error)
	ReceiveProofs(ctx context.Context, proofs cashu.Proofs) (cashu.Proofs, error)
	Deposit(proofs cashu.Proofs) error
}

// Arbiter attests match results. Both arbiter.Signer and arbiter.Client satisfy it.
type Arbiter interface {
	SignWinner(ctx context.Context, req *arbiter.SignWinnerRequest) (*arbiter.SignWinnerResponse, error)
}

// Config holds the dependencies of an Engine.
type Config struct {
	Wallet     Wallet
	Arbiter    Arbiter
	ArbiterKey taproot.PublicKey
	// Hidden signs as co-signer of incoming stakes and as refund key of own stakes.
	Hidden *identity.KeyPair

	// LocktimeWindow defaults to params.LocktimeWindow.
	LocktimeWindow time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
	// NewBackOff builds the retry policy for arbiter calls. Retries always
	// stop at the stake's locktime.
	NewBackOff func() backoff.BackOff
	Logger     zerolog.Logger
}

// Engine owns the stakes of one party.
//
// Operations that move funds are serialized by opMu. The stake map is
// guarded by mu, so snapshots never wait on a mint or arbiter call.
type Engine struct {
	cfg Config
	log zerolog.Logger

	opMu sync.Mutex

	mu     sync.Mutex
	stakes map[uuid.UUID]*Stake
}

// NewEngine validates cfg and fills in its defaults.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Wallet == nil || cfg.Arbiter == nil {
		return nil, errors.New("escrow: wallet and arbiter are required")
	}
	if len(cfg.ArbiterKey) != taproot.PublicKeyLength || cfg.Hidden == nil {
		return nil, errors.New("escrow: arbiter key and hidden key are required")
	}
	if cfg.LocktimeWindow == 0 {
		cfg.LocktimeWindow = params.LocktimeWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &Engine{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "escrow").Logger(),
		stakes: make(map[uuid.UUID]*Stake),
	}, nil
}

// Stake locks amount for matchID so that it can only be spent by the arbiter
// together with peer, or by this party after the locktime. It returns the
// recorded stake and the V4 token to send to the peer.
//
// The receiver's input fee is taken from the wallet on top of amount, and
// the swap fee is paid out of it, so the stake is worth exactly amount.
func (e *Engine) Stake(ctx context.Context, matchID string, amount uint64, peer taproot.PublicKey) (*Stake, string, error) {
	if len(peer) != taproot.PublicKeyLength {
		return nil, "", fmt.Errorf("escrow: invalid peer key")
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()

	w := e.cfg.Wallet
	res, err := w.Send(ctx, amount, wallet.SendOptions{IncludeFees: true})
	if err != nil {
		return nil, "", err
	}
	send := res.Send

	feeInputs, kept, err := e.partition(send)
	if err != nil {
		if derr := w.Deposit(send); derr != nil {
			e.log.Error().Err(derr).Msg("could not return send proofs")
		}
		return nil, "", err
	}

	cond := &p2pk.Condition{
		Data:     e.cfg.ArbiterKey,
		Pubkeys:  []taproot.PublicKey{peer},
		NSigs:    params.RequiredSigs,
		Locktime: time.Unix(e.cfg.Now().Add(e.cfg.LocktimeWindow).Unix(), 0),
		Refund:   []taproot.PublicKey{e.cfg.Hidden.Public},
		SigFlag:  p2pk.SigInputs,
	}
	outputs := make([]wallet.Output, len(kept))
	for i, p := range kept {
		secret, err := p2pk.NewSecret(e.cfg.Rand, cond)
		if err != nil {
			_ = w.Deposit(send)
			return nil, "", err
		}
		outputs[i] = wallet.Output{Amount: p.Amount, KeysetID: p.ID, Secret: secret}
	}

	inputs := append(kept.Clone(), feeInputs...)
	locked, err := w.SwapInto(ctx, inputs, outputs)
	if err != nil {
		return nil, "", err
	}

	stake := &Stake{
		ID:        stakeID(locked),
		MatchID:   matchID,
		Role:      Own,
		Status:    Pending,
		Amount:    locked.Amount(),
		Condition: cond,
		Proofs:    locked,
	}
	token := cashu.Token{Mint: w.MintURL(), Unit: e.unit(locked), Proofs: locked}
	encoded, err := token.EncodeV4()
	if err != nil {
		return nil, "", err
	}
	e.put(stake)
	e.log.Info().
		Str("match", matchID).
		Str("stake", stake.ID.String()).
		Uint64("amount", stake.Amount).
		Time("locktime", cond.Locktime).
		Msg("stake locked")
	return stake.clone(), encoded, nil
}

// partition splits send into fee inputs summing exactly to the input fee of
// send, and the proofs that are re-issued one for one as locked outputs.
//
// Proofs are visited largest first. Since the send set contains split(fee),
// a greedy choice over powers of two always lands on the fee exactly.
func (e *Engine) partition(send cashu.Proofs) (fee, kept cashu.Proofs, err error) {
	total, err := e.cfg.Wallet.InputFee(send)
	if err != nil {
		return nil, nil, err
	}
	sorted := send.Clone()
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })

	remaining := total
	for _, p := range sorted {
		if p.Amount <= remaining {
			remaining -= p.Amount
			fee = append(fee, p)
			continue
		}
		kept = append(kept, p)
	}
	if remaining != 0 || len(kept) == 0 {
		return nil, nil, fmt.Errorf("%w: fee %d, %d left over", ErrFeeNotCovered, total, remaining)
	}
	if kept.Amount() != send.Amount()-total {
		return nil, nil, fmt.Errorf("%w: outputs %d, inputs %d, fee %d", ErrFeeNotCovered, kept.Amount(), send.Amount(), total)
	}
	return fee, kept, nil
}

func (e *Engine) unit(proofs cashu.Proofs) string {
	if len(proofs) == 0 {
		return ""
	}
	if ks, ok := e.cfg.Wallet.Keysets()[proofs[0].ID]; ok {
		return ks.Unit
	}
	return ""
}

// AcceptStake records the peer's locked stake for matchID. Delivering the
// same token twice returns the stake recorded the first time.
func (e *Engine) AcceptStake(matchID, token string) (*Stake, error) {
	t, err := cashu.DecodeToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStake, err)
	}
	if strings.TrimRight(t.Mint, "/") != e.cfg.Wallet.MintURL() {
		return nil, fmt.Errorf("%w: token from mint %q", ErrInvalidStake, t.Mint)
	}
	keysets := e.cfg.Wallet.Keysets()
	var cond *p2pk.Condition
	for i, p := range t.Proofs {
		if _, ok := keysets[p.ID]; !ok {
			return nil, fmt.Errorf("%w: unknown keyset %q", ErrInvalidStake, p.ID)
		}
		c, err := p2pk.ParseCondition(p.Secret)
		if err != nil {
			return nil, fmt.Errorf("%w: proof %d: %v", ErrInvalidStake, i, err)
		}
		if err = e.checkIncoming(c); err != nil {
			return nil, fmt.Errorf("%w: proof %d: %v", ErrInvalidStake, i, err)
		}
		if cond == nil {
			cond = c
		} else if !cond.SameSpending(c) {
			return nil, fmt.Errorf("%w: proof %d has a different condition", ErrInvalidStake, i)
		}
	}

	id := stakeID(t.Proofs)
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.stakes[id]; ok {
		return s.clone(), nil
	}
	s := &Stake{
		ID:        id,
		MatchID:   matchID,
		Role:      Incoming,
		Status:    Pending,
		Amount:    t.Amount(),
		Condition: cond,
		Proofs:    t.Proofs.Clone(),
	}
	e.stakes[id] = s
	e.log.Info().Str("match", matchID).Str("stake", id.String()).Uint64("amount", s.Amount).Msg("stake accepted")
	return s.clone(), nil
}

func (e *Engine) checkIncoming(c *p2pk.Condition) error {
	if c.NSigs != params.RequiredSigs {
		return fmt.Errorf("n_sigs is %d", c.NSigs)
	}
	if !c.Data.Equal(e.cfg.ArbiterKey) {
		return errors.New("not locked to the arbiter")
	}
	if len(c.Pubkeys) != 1 || !c.Pubkeys[0].Equal(e.cfg.Hidden.Public) {
		return errors.New("local hidden key is not the co-signer")
	}
	if c.Locktime.IsZero() || len(c.Refund) == 0 {
		return errors.New("no refund path")
	}
	return nil
}

// Stakes returns a snapshot of the stakes of matchID, or of every match if
// matchID is empty.
func (e *Engine) Stakes(matchID string) []*Stake {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Stake, 0, len(e.stakes))
	for _, s := range e.stakes {
		if matchID == "" || s.MatchID == matchID {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Teardown forgets every stake of matchID. Own stakes that are still open
// are returned, so the caller can keep them for a later refund.
func (e *Engine) Teardown(matchID string) []*Stake {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	var open []*Stake
	for id, s := range e.stakes {
		if s.MatchID != matchID {
			continue
		}
		if s.Role == Own && !s.Status.Closed() {
			open = append(open, s.clone())
		}
		s.close(s.Status)
		delete(e.stakes, id)
	}
	return open
}

// Adopt registers an own stake kept from an earlier Teardown.
func (e *Engine) Adopt(s *Stake) {
	e.put(s.clone())
}

func (e *Engine) put(s *Stake) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stakes[s.ID] = s
}

func (e *Engine) get(id uuid.UUID) (*Stake, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stakes[id]
	return s, ok
}

// update runs f on the stake under the map lock.
func (e *Engine) update(s *Stake, f func(*Stake)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(s)
}
