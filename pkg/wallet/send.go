package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/taurusgroup/p2p-wager/pkg/cashu"
)

// SendOptions tune Send.
type SendOptions struct {
	// IncludeFees adds proofs covering the input fee the receiver pays
	// to spend the send set.
	IncludeFees bool
}

// SendResult splits the pool after a send.
type SendResult struct {
	// Keep is what remains in the pool.
	Keep cashu.Proofs
	// Send has left the pool and belongs to the caller.
	Send cashu.Proofs
	// SwapFee is what the mint charged to produce Send, zero if no swap was needed.
	SwapFee uint64
}

// Send takes proofs worth amount out of the pool, plus the receiver's input
// fee when opts.IncludeFees is set.
//
// The send set is split(amount), followed by split(fee) with fees. If the pool
// already holds exactly those denominations no swap is made. Otherwise inputs
// are swapped at the mint and the change goes back to the pool, so that
// sum(Keep) + sum(Send) + SwapFee equals the pool's value before the call.
func (w *Wallet) Send(ctx context.Context, amount uint64, opts SendOptions) (*SendResult, error) {
	if amount == 0 {
		return nil, fmt.Errorf("wallet: send: zero amount")
	}
	if err := w.lock(ctx); err != nil {
		return nil, err
	}
	defer w.unlock()

	target := cashu.Split(amount)
	if opts.IncludeFees {
		target = w.sendAmounts(amount)
	}
	var targetSum uint64
	for _, a := range target {
		targetSum += a
	}

	if idx, ok := w.exact(target); ok {
		send := w.take(idx)
		w.log.Info().Uint64("amount", amount).Uint64("send", send.Amount()).Msg("send from exact denominations")
		return &SendResult{Keep: w.Proofs(), Send: send}, nil
	}

	idx, err := w.selectInputs(targetSum)
	if err != nil {
		return nil, err
	}
	inputs := w.take(idx)
	fee, err := w.InputFee(inputs)
	if err != nil {
		w.deposit(inputs)
		return nil, err
	}

	outputs := make([]Output, 0, len(target))
	for _, a := range target {
		outputs = append(outputs, Output{Amount: a})
	}
	outputs = append(outputs, w.splitOutputs(inputs.Amount()-fee-targetSum)...)

	op, err := w.newOperation("send", true, inputs, outputs)
	if err != nil {
		w.deposit(inputs)
		return nil, err
	}
	proofs, err := w.swap(ctx, op)
	if err != nil {
		return nil, err
	}
	send := proofs[:len(target)]
	w.deposit(proofs[len(target):])
	w.log.Info().
		Uint64("amount", amount).
		Uint64("send", send.Amount()).
		Uint64("fee", fee).
		Str("op", op.id.String()).
		Msg("send swapped")
	return &SendResult{Keep: w.Proofs(), Send: send, SwapFee: fee}, nil
}

// sendAmounts returns split(amount) ++ split(fee) where fee covers the input
// fee of the whole set. The fee is raised until it covers itself.
func (w *Wallet) sendAmounts(amount uint64) []uint64 {
	base := cashu.Split(amount)
	var fee uint64
	for {
		set := append(append(make([]uint64, 0, len(base)+8), base...), cashu.Split(fee)...)
		need := cashu.FeeFromPPK(uint64(len(set)) * w.active.InputFeePPK)
		if need <= fee {
			return set
		}
		fee = need
	}
}

// exact looks for pool proofs of the active keyset with exactly the target
// denominations and returns their indices.
func (w *Wallet) exact(target []uint64) ([]int, bool) {
	need := make(map[uint64]int, len(target))
	for _, a := range target {
		need[a]++
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := make([]int, 0, len(target))
	for i, p := range w.proofs {
		if p.ID == w.active.ID && need[p.Amount] > 0 {
			need[p.Amount]--
			idx = append(idx, i)
		}
	}
	return idx, len(idx) == len(target)
}

// selectInputs picks pool proofs, largest first, until they cover target
// plus their own input fee.
func (w *Wallet) selectInputs(target uint64) ([]int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var (
		selected cashu.Proofs
		idx      []int
	)
	for _, i := range sortedByAmount(w.proofs) {
		selected = append(selected, w.proofs[i])
		idx = append(idx, i)
		fee, err := w.keysets.InputFee(selected)
		if err != nil {
			return nil, err
		}
		if selected.Amount() >= target+fee {
			return idx, nil
		}
	}
	return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, target, w.proofs.Amount())
}

// Receive redeems a serialized token from this wallet's mint for fresh proofs,
// which join the pool. On a malformed or foreign token the pool is unchanged.
func (w *Wallet) Receive(ctx context.Context, token string) (cashu.Proofs, error) {
	t, err := cashu.DecodeToken(token)
	if err != nil {
		return nil, err
	}
	if strings.TrimRight(t.Mint, "/") != w.MintURL() {
		return nil, fmt.Errorf("%w: token from mint %q, wallet uses %q", ErrInvalidToken, t.Mint, w.MintURL())
	}
	if t.Unit != "" && t.Unit != w.unit {
		return nil, fmt.Errorf("%w: token unit %q, wallet uses %q", ErrInvalidToken, t.Unit, w.unit)
	}
	for _, id := range t.Keysets() {
		if _, ok := w.keysets[id]; !ok {
			return nil, fmt.Errorf("%w: unknown keyset %q", ErrInvalidToken, id)
		}
	}
	return w.ReceiveProofs(ctx, t.Proofs)
}

// ReceiveProofs swaps proofs the wallet does not own yet, witnessed ones
// included, for fresh proofs that join the pool.
func (w *Wallet) ReceiveProofs(ctx context.Context, proofs cashu.Proofs) (cashu.Proofs, error) {
	if len(proofs) == 0 {
		return nil, fmt.Errorf("%w: no proofs", ErrInvalidToken)
	}
	if err := w.lock(ctx); err != nil {
		return nil, err
	}
	defer w.unlock()

	fee, err := w.InputFee(proofs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if proofs.Amount() <= fee {
		return nil, fmt.Errorf("%w: token worth %d does not cover fee %d", ErrInsufficientFunds, proofs.Amount(), fee)
	}
	op, err := w.newOperation("receive", false, proofs.Clone(), w.splitOutputs(proofs.Amount()-fee))
	if err != nil {
		return nil, err
	}
	fresh, err := w.swap(ctx, op)
	if err != nil {
		return nil, err
	}
	w.deposit(fresh)
	w.log.Info().Uint64("amount", fresh.Amount()).Uint64("fee", fee).Msg("proofs received")
	return fresh.Clone(), nil
}

// SwapInto spends inputs for exactly the requested outputs, which are
// returned to the caller and do not join the pool.
//
// sum(inputs) must equal sum(outputs) plus the input fee. If the swap fails
// and the inputs are known to be unspent, plain inputs are returned to the pool.
// The inputs are treated as the wallet's own.
func (w *Wallet) SwapInto(ctx context.Context, inputs cashu.Proofs, outputs []Output) (cashu.Proofs, error) {
	if err := w.lock(ctx); err != nil {
		return nil, err
	}
	defer w.unlock()

	fee, err := w.InputFee(inputs)
	if err != nil {
		w.deposit(plain(inputs))
		return nil, err
	}
	var sum uint64
	for _, o := range outputs {
		sum += o.Amount
	}
	if inputs.Amount() != sum+fee {
		w.deposit(plain(inputs))
		return nil, fmt.Errorf("%w: inputs %d, outputs %d, fee %d", ErrUnbalanced, inputs.Amount(), sum, fee)
	}
	op, err := w.newOperation("swap", true, inputs.Clone(), outputs)
	if err != nil {
		w.deposit(plain(inputs))
		return nil, err
	}
	return w.swap(ctx, op)
}
