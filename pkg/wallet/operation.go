package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/taurusgroup/p2p-wager/pkg/bdhke"
	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/math/curve"
	"github.com/taurusgroup/p2p-wager/pkg/mint"
	"github.com/taurusgroup/p2p-wager/pkg/p2pk"
	"github.com/taurusgroup/p2p-wager/pkg/pool"
	"github.com/taurusgroup/p2p-wager/pkg/protocol"
)

const hkdfSalt = "p2p-wager/wallet/outputs/v1"

// Output requests one new proof.
type Output struct {
	Amount uint64
	// KeysetID selects the keyset, the wallet's active one if empty.
	KeysetID string
	// Secret is the proof secret, derived from the wallet seed if empty.
	Secret string
}

// blinded is an Output together with the blinding factor that unblinds it.
type blinded struct {
	keyset *cashu.Keyset
	secret string
	r      *curve.Scalar
	msg    cashu.BlindedMessage
}

// operation is one call to the mint that consumes inputs and produces outputs.
// Its blinded messages are a pure function of the wallet seed and its id.
type operation struct {
	id   uuid.UUID
	kind string
	// owned is set when inputs came from the wallet's pool. Inputs handed in
	// by a peer never enter the pool unless the mint swapped them.
	owned   bool
	inputs  cashu.Proofs
	outputs []blinded
}

func (op *operation) messages() cashu.BlindedMessages {
	out := make(cashu.BlindedMessages, len(op.outputs))
	for i, o := range op.outputs {
		out[i] = o.msg
	}
	return out
}

// derive returns the secret and blinding factor of output index of operation id.
func (w *Wallet) derive(id uuid.UUID, index int) (string, *curve.Scalar, error) {
	info := make([]byte, 0, len(id)+4)
	info = append(info, id[:]...)
	info = binary.BigEndian.AppendUint32(info, uint32(index))
	kdf := hkdf.New(sha256.New, w.seed, []byte(hkdfSalt), info)

	var buf [64]byte
	if _, err := io.ReadFull(kdf, buf[:]); err != nil {
		return "", nil, fmt.Errorf("wallet: derive: %w", err)
	}
	r := curve.NewScalar().SetBytesReduced(buf[32:])
	if r.IsZero() {
		return "", nil, errors.New("wallet: derive: zero blinding factor")
	}
	return hex.EncodeToString(buf[:32]), r, nil
}

func (w *Wallet) newOperation(kind string, owned bool, inputs cashu.Proofs, outputs []Output) (*operation, error) {
	op := &operation{id: uuid.New(), kind: kind, owned: owned, inputs: inputs, outputs: make([]blinded, len(outputs))}
	for i, o := range outputs {
		ks := w.active
		if o.KeysetID != "" {
			var ok bool
			if ks, ok = w.keysets[o.KeysetID]; !ok {
				return nil, fmt.Errorf("wallet: unknown keyset %q", o.KeysetID)
			}
		}
		if _, err := ks.Key(o.Amount); err != nil {
			return nil, err
		}
		secret, r, err := w.derive(op.id, i)
		if err != nil {
			return nil, err
		}
		if o.Secret != "" {
			secret = o.Secret
		}
		B, err := bdhke.Blind([]byte(secret), r)
		if err != nil {
			return nil, protocol.Wrap(protocol.Crypto, "blind", err)
		}
		op.outputs[i] = blinded{
			keyset: ks,
			secret: secret,
			r:      r,
			msg:    cashu.NewBlindedMessage(ks.ID, o.Amount, B),
		}
	}
	return op, nil
}

// unblind turns the mint's signatures into proofs, matching them to outputs by position.
func (w *Wallet) unblind(op *operation, sigs []cashu.BlindSignature) (cashu.Proofs, error) {
	if len(sigs) != len(op.outputs) {
		return nil, protocol.Errorf(protocol.Crypto, "unblind", "%d outputs but %d signatures", len(op.outputs), len(sigs))
	}
	proofs, err := pool.Map(w.pool, len(sigs), func(i int) (cashu.Proof, error) {
		out, sig := op.outputs[i], sigs[i]
		if sig.Amount != out.msg.Amount || sig.ID != out.msg.ID {
			return cashu.Proof{}, fmt.Errorf("signature %d is for %d/%s, expected %d/%s", i, sig.Amount, sig.ID, out.msg.Amount, out.msg.ID)
		}
		C_, err := sig.Point()
		if err != nil {
			return cashu.Proof{}, err
		}
		K, err := out.keyset.Key(sig.Amount)
		if err != nil {
			return cashu.Proof{}, err
		}
		C, err := bdhke.Unblind(C_, out.r, K)
		if err != nil {
			return cashu.Proof{}, err
		}
		return cashu.Proof{Amount: sig.Amount, ID: sig.ID, Secret: out.secret, C: C.Hex()}, nil
	})
	if err != nil {
		return nil, protocol.Wrap(protocol.Crypto, "unblind", err)
	}
	return proofs, nil
}

// swap runs op at the mint. A refusal from the mint commits nothing: owned
// inputs go back to the pool unless the mint reports them spent. When the mint
// is unreachable the outcome is unknown, so the inputs' state decides:
// unspent owned inputs go back to the pool, spent ones have their outputs
// restored, and anything else leaves op pending.
func (w *Wallet) swap(ctx context.Context, op *operation) (cashu.Proofs, error) {
	mctx, cancel := w.mintContext(ctx)
	defer cancel()

	sigs, err := w.client.Swap(mctx, op.inputs, op.messages())
	if err == nil {
		return w.unblind(op, sigs)
	}
	if !errors.Is(err, mint.ErrMintUnavailable) {
		w.log.Warn().Err(err).Str("op", op.id.String()).Str("kind", op.kind).Msg("swap refused")
		if !errors.Is(err, mint.ErrProofsSpent) {
			w.release(op)
		}
		return nil, err
	}
	w.log.Warn().Err(err).Str("op", op.id.String()).Str("kind", op.kind).Msg("swap failed, checking inputs")

	spent, unspent, serr := w.inputStates(mctx, op.inputs)
	switch {
	case serr != nil:
		w.keepPending(op)
		return nil, fmt.Errorf("%w: %s %s: %v (state check: %v)", ErrOperationPending, op.kind, op.id, err, serr)
	case unspent == len(op.inputs):
		w.release(op)
		return nil, err
	case spent == len(op.inputs):
		if sigs, rerr := w.restore(mctx, op, err); rerr == nil {
			w.log.Info().Str("op", op.id.String()).Msg("swap outputs restored")
			return w.unblind(op, sigs)
		}
		w.keepPending(op)
		return nil, fmt.Errorf("%w: %s %s: %v", ErrOperationPending, op.kind, op.id, err)
	default:
		w.keepPending(op)
		return nil, fmt.Errorf("%w: %s %s: %d of %d inputs spent: %v", ErrOperationPending, op.kind, op.id, spent, len(op.inputs), err)
	}
}

// restore fetches signatures the mint already issued for op's outputs.
// It fails with cause unless every output was signed.
func (w *Wallet) restore(ctx context.Context, op *operation, cause error) ([]cashu.BlindSignature, error) {
	resp, err := w.client.Restore(ctx, op.messages())
	if err != nil {
		return nil, cause
	}
	if len(resp.Signatures) != len(op.outputs) {
		return nil, cause
	}
	for i, o := range resp.Outputs {
		if o.B_ != op.outputs[i].msg.B_ {
			return nil, cause
		}
	}
	return resp.Signatures, nil
}

func (w *Wallet) inputStates(ctx context.Context, inputs cashu.Proofs) (spent, unspent int, err error) {
	ys, err := inputs.Ys()
	if err != nil {
		return 0, 0, err
	}
	states, err := w.client.CheckState(ctx, ys)
	if err != nil {
		return 0, 0, err
	}
	for _, s := range states {
		switch s.State {
		case mint.StateSpent:
			spent++
		case mint.StateUnspent:
			unspent++
		}
	}
	return spent, unspent, nil
}

// release returns op's plain inputs to the pool if they came from it.
func (w *Wallet) release(op *operation) {
	if op.owned {
		w.deposit(plain(op.inputs))
	}
}

func (w *Wallet) keepPending(op *operation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[op.id] = op
	w.log.Error().Str("op", op.id.String()).Str("kind", op.kind).Uint64("inputs", op.inputs.Amount()).Msg("operation pending")
}

// plain filters out proofs locked to a spending condition.
func plain(proofs cashu.Proofs) cashu.Proofs {
	out := make(cashu.Proofs, 0, len(proofs))
	for _, p := range proofs {
		if _, err := p2pk.ParseCondition(p.Secret); err != nil {
			out = append(out, p)
		}
	}
	return out
}

// Pending returns the ids of operations whose outcome is unknown.
func (w *Wallet) Pending() []uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]uuid.UUID, 0, len(w.pending))
	for id := range w.pending {
		out = append(out, id)
	}
	return out
}

// Recover resolves pending operations: owned inputs still unspent return to
// the pool, unspent inputs of a peer are left to the caller, and outputs of completed operations are restored into the pool.
// Operations that still cannot be resolved stay pending.
func (w *Wallet) Recover(ctx context.Context) error {
	if err := w.lock(ctx); err != nil {
		return err
	}
	defer w.unlock()

	w.mu.Lock()
	ops := make([]*operation, 0, len(w.pending))
	for _, op := range w.pending {
		ops = append(ops, op)
	}
	w.mu.Unlock()

	var errs []error
	for _, op := range ops {
		if err := w.recoverOne(ctx, op); err != nil {
			errs = append(errs, err)
			continue
		}
		w.mu.Lock()
		delete(w.pending, op.id)
		w.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (w *Wallet) recoverOne(ctx context.Context, op *operation) error {
	mctx, cancel := w.mintContext(ctx)
	defer cancel()

	spent, unspent, err := w.inputStates(mctx, op.inputs)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOperationPending, op.id, err)
	}
	switch {
	case len(op.inputs) > 0 && unspent == len(op.inputs):
		w.release(op)
		return nil
	case spent == len(op.inputs):
		sigs, err := w.restore(mctx, op, mint.ErrProofsSpent)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrOperationPending, op.id, err)
		}
		proofs, err := w.unblind(op, sigs)
		if err != nil {
			return err
		}
		w.deposit(plain(proofs))
		return nil
	default:
		return fmt.Errorf("%w: %s: %d of %d inputs spent", ErrOperationPending, op.id, spent, len(op.inputs))
	}
}
