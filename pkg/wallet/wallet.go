// Package wallet holds one party's proofs and serializes every operation that
// spends them, so that no proof is ever selected twice.
package wallet

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/taurusgroup/p2p-wager/internal/params"
	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/mint"
	"github.com/taurusgroup/p2p-wager/pkg/p2pk"
	"github.com/taurusgroup/p2p-wager/pkg/pool"
	"github.com/taurusgroup/p2p-wager/pkg/protocol"
)

var (
	// ErrInvalidToken is returned for malformed tokens and tokens of another mint.
	ErrInvalidToken = cashu.ErrInvalidToken
	// ErrInsufficientFunds is returned when the pool cannot cover an amount and its fees.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	// ErrUnbalanced is returned when the outputs of a swap do not match its inputs minus fees.
	ErrUnbalanced = errors.New("wallet: outputs do not match inputs minus fee")
	// ErrOperationPending is returned when the outcome of a mint call could not be
	// determined. The operation is kept and retried by Recover.
	ErrOperationPending = errors.New("wallet: operation outcome unknown")
)

// QuoteState is the payment state of a mint quote.
type QuoteState string

const (
	QuoteUnpaid QuoteState = mint.QuoteUnpaid
	QuotePaid   QuoteState = mint.QuotePaid
	QuoteIssued QuoteState = mint.QuoteIssued
)

// Wallet is one party's view of its funds at a single mint.
//
// Operations that spend or add proofs hold a weighted semaphore of size one,
// so they run one at a time while still honouring their caller's context.
// Read-only accessors only take the inner mutex.
type Wallet struct {
	client  *mint.Client
	keysets cashu.Keysets
	active  *cashu.Keyset
	unit    string

	seed    []byte
	timeout time.Duration
	pool    *pool.Pool
	log     zerolog.Logger

	sem *semaphore.Weighted

	mu      sync.Mutex
	proofs  cashu.Proofs
	pending map[uuid.UUID]*operation
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Wallet) { w.log = l }
}

// WithSeed fixes the seed output secrets and blinding factors are derived from.
func WithSeed(seed []byte) Option {
	return func(w *Wallet) { w.seed = append([]byte(nil), seed...) }
}

// WithPool unblinds large batches on p.
func WithPool(p *pool.Pool) Option {
	return func(w *Wallet) { w.pool = p }
}

// WithUnit selects the keyset unit, "sat" by default.
func WithUnit(unit string) Option {
	return func(w *Wallet) { w.unit = unit }
}

// WithMintTimeout bounds every mint call.
func WithMintTimeout(d time.Duration) Option {
	return func(w *Wallet) { w.timeout = d }
}

// New loads the mint's keysets and returns an empty wallet.
func New(ctx context.Context, client *mint.Client, opts ...Option) (*Wallet, error) {
	w := &Wallet{
		client:  client,
		unit:    "sat",
		timeout: params.MintTimeout,
		log:     zerolog.Nop(),
		sem:     semaphore.NewWeighted(1),
		pending: make(map[uuid.UUID]*operation),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.seed == nil {
		w.seed = make([]byte, params.SecBytes)
		if _, err := io.ReadFull(rand.Reader, w.seed); err != nil {
			return nil, fmt.Errorf("wallet: seed: %w", err)
		}
	}
	w.log = w.log.With().Str("component", "wallet").Str("mint", client.URL()).Logger()

	mctx, cancel := w.mintContext(ctx)
	defer cancel()
	keysets, err := client.LoadKeysets(mctx)
	if err != nil {
		return nil, err
	}
	w.keysets = keysets
	for _, ks := range keysets {
		if !ks.Active || ks.Unit != w.unit {
			continue
		}
		if w.active == nil || ks.InputFeePPK < w.active.InputFeePPK {
			w.active = ks
		}
	}
	if w.active == nil {
		return nil, protocol.Errorf(protocol.Mint, "keysets", "%v: no active %s keyset", mint.ErrRejected, w.unit)
	}
	return w, nil
}

// MintURL returns the URL of the wallet's mint.
func (w *Wallet) MintURL() string {
	return w.client.URL()
}

// Keysets returns the keysets known to the wallet.
func (w *Wallet) Keysets() cashu.Keysets {
	return w.keysets
}

// ActiveKeyset returns the keyset new outputs are signed with.
func (w *Wallet) ActiveKeyset() *cashu.Keyset {
	return w.active
}

// InputFee returns the fee the mint charges for spending proofs.
func (w *Wallet) InputFee(proofs cashu.Proofs) (uint64, error) {
	return w.keysets.InputFee(proofs)
}

// Balance returns the total value of the pool.
func (w *Wallet) Balance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.proofs.Amount()
}

// Proofs returns a copy of the pool.
func (w *Wallet) Proofs() cashu.Proofs {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.proofs.Clone()
}

// Deposit returns proofs to the pool, for instance after an aborted stake.
// Proofs locked to a spending condition are refused.
func (w *Wallet) Deposit(proofs cashu.Proofs) error {
	for _, p := range proofs {
		if _, err := p2pk.ParseCondition(p.Secret); err == nil {
			return fmt.Errorf("wallet: deposit: proof is locked to a spending condition")
		}
		if _, ok := w.keysets[p.ID]; !ok {
			return fmt.Errorf("wallet: deposit: unknown keyset %q", p.ID)
		}
	}
	w.deposit(proofs)
	return nil
}

func (w *Wallet) deposit(proofs cashu.Proofs) {
	if len(proofs) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.proofs = append(w.proofs, proofs...)
}

// take removes the proofs at the given pool indices and returns them.
func (w *Wallet) take(indices []int) cashu.Proofs {
	w.mu.Lock()
	defer w.mu.Unlock()
	drop := make(map[int]bool, len(indices))
	out := make(cashu.Proofs, 0, len(indices))
	for _, i := range indices {
		drop[i] = true
		out = append(out, w.proofs[i])
	}
	kept := make(cashu.Proofs, 0, len(w.proofs)-len(indices))
	for i, p := range w.proofs {
		if !drop[i] {
			kept = append(kept, p)
		}
	}
	w.proofs = kept
	return out
}

// lock acquires the single writer slot.
func (w *Wallet) lock(ctx context.Context) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	return nil
}

func (w *Wallet) unlock() {
	w.sem.Release(1)
}

// mintContext detaches a mint call from its caller, so that a disconnect does
// not abandon a swap halfway, and bounds it by the mint timeout instead.
func (w *Wallet) mintContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
}

// RequestMintQuote asks the mint for an invoice of amount.
func (w *Wallet) RequestMintQuote(ctx context.Context, amount uint64) (string, error) {
	mctx, cancel := w.mintContext(ctx)
	defer cancel()
	q, err := w.client.MintQuote(mctx, amount, w.unit)
	if err != nil {
		return "", err
	}
	w.log.Info().Str("quote", q.Quote).Uint64("amount", amount).Msg("mint quote requested")
	return q.Quote, nil
}

// CheckQuote returns the payment state of a quote.
func (w *Wallet) CheckQuote(ctx context.Context, quote string) (QuoteState, error) {
	mctx, cancel := w.mintContext(ctx)
	defer cancel()
	q, err := w.client.MintQuoteState(mctx, quote)
	if err != nil {
		return "", err
	}
	return QuoteState(q.State), nil
}

// RedeemQuote mints amount against a paid quote. The new proofs join the pool.
func (w *Wallet) RedeemQuote(ctx context.Context, quote string, amount uint64) (cashu.Proofs, error) {
	if err := w.lock(ctx); err != nil {
		return nil, err
	}
	defer w.unlock()

	op, err := w.newOperation("mint", false, nil, w.splitOutputs(amount))
	if err != nil {
		return nil, err
	}
	mctx, cancel := w.mintContext(ctx)
	defer cancel()
	sigs, err := w.client.Mint(mctx, quote, op.messages())
	if err != nil {
		if !errors.Is(err, mint.ErrMintUnavailable) {
			return nil, err
		}
		// The mint may have signed before the answer was lost.
		sigs, err = w.restore(mctx, op, err)
		if err != nil {
			return nil, err
		}
	}
	proofs, err := w.unblind(op, sigs)
	if err != nil {
		return nil, err
	}
	w.deposit(proofs)
	w.log.Info().Str("quote", quote).Uint64("amount", amount).Int("proofs", len(proofs)).Msg("quote redeemed")
	return proofs.Clone(), nil
}

// splitOutputs requests fresh wallet outputs worth amount on the active keyset.
func (w *Wallet) splitOutputs(amount uint64) []Output {
	amounts := cashu.Split(amount)
	out := make([]Output, len(amounts))
	for i, a := range amounts {
		out[i] = Output{Amount: a}
	}
	return out
}

// sortedByAmount returns pool indices ordered by decreasing amount.
func sortedByAmount(proofs cashu.Proofs) []int {
	idx := make([]int, len(proofs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return proofs[idx[a]].Amount > proofs[idx[b]].Amount })
	return idx
}
