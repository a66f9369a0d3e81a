// Package test provides in-process collaborators for tests: a Cashu mint
// served over httptest and a controllable clock.
package test

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/taurusgroup/p2p-wager/internal/params"
	"github.com/taurusgroup/p2p-wager/pkg/bdhke"
	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/math/curve"
	"github.com/taurusgroup/p2p-wager/pkg/math/sample"
	"github.com/taurusgroup/p2p-wager/pkg/mint"
	"github.com/taurusgroup/p2p-wager/pkg/p2pk"
)

type keyset struct {
	public  *cashu.Keyset
	private map[uint64]*curve.Scalar
}

func newKeyset(feePPK uint64) *keyset {
	k := &keyset{private: make(map[uint64]*curve.Scalar, params.MaxOrder)}
	public := make(map[uint64]*curve.Point, params.MaxOrder)
	for i := 0; i < params.MaxOrder; i++ {
		amount := uint64(1) << i
		s := sample.Scalar(rand.Reader)
		k.private[amount] = s
		public[amount] = s.ActOnBase()
	}
	id, err := cashu.DeriveKeysetID(public)
	if err != nil {
		panic(err)
	}
	k.public = &cashu.Keyset{ID: id, Unit: "sat", Active: true, InputFeePPK: feePPK, Keys: public}
	return k
}

type quote struct {
	amount uint64
	state  string
}

// Mint is a minimal Cashu mint. It checks signatures, P2PK witnesses, balance
// and double spends, and remembers every signature it issued.
type Mint struct {
	server *httptest.Server

	mu      sync.Mutex
	keyset  *keyset
	quotes  map[string]*quote
	spent   map[string]bool
	signed  map[string]cashu.BlindSignature
	now     func() time.Time
	down    bool
	dropped bool
	swaps   int
}

// MintOption configures a Mint.
type MintOption func(*Mint)

// WithFeePPK sets the input fee of the mint's keyset.
func WithFeePPK(ppk uint64) MintOption {
	return func(m *Mint) { m.keyset = newKeyset(ppk) }
}

// WithClock makes the mint evaluate locktimes against now.
func WithClock(now func() time.Time) MintOption {
	return func(m *Mint) { m.now = now }
}

// NewMint starts a mint, shut down when the test ends.
func NewMint(t testing.TB, opts ...MintOption) *Mint {
	m := &Mint{
		quotes: make(map[string]*quote),
		spent:  make(map[string]bool),
		signed: make(map[string]cashu.BlindSignature),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.keyset == nil {
		m.keyset = newKeyset(0)
	}

	r := mux.NewRouter()
	r.Use(m.availability)
	r.HandleFunc(mint.PathKeys, m.handleKeys).Methods(http.MethodGet)
	r.HandleFunc(mint.PathKeysets, m.handleKeysets).Methods(http.MethodGet)
	r.HandleFunc(mint.PathMintQuote, m.handleCreateQuote).Methods(http.MethodPost)
	r.HandleFunc(mint.PathMintQuote+"/{quote}", m.handleGetQuote).Methods(http.MethodGet)
	r.HandleFunc(mint.PathMint, m.handleMint).Methods(http.MethodPost)
	r.HandleFunc(mint.PathSwap, m.handleSwap).Methods(http.MethodPost)
	r.HandleFunc(mint.PathCheckState, m.handleCheckState).Methods(http.MethodPost)
	r.HandleFunc(mint.PathRestore, m.handleRestore).Methods(http.MethodPost)

	m.server = httptest.NewServer(r)
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the base URL of the mint.
func (m *Mint) URL() string {
	return m.server.URL
}

// Keyset returns the public keyset.
func (m *Mint) Keyset() *cashu.Keyset {
	return m.keyset.public
}

// PayQuote marks a quote as paid, as if its invoice had been settled.
func (m *Mint) PayQuote(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.quotes[id]; ok && q.state == mint.QuoteUnpaid {
		q.state = mint.QuotePaid
	}
}

// SetDown makes every request fail with 503 while down is true.
func (m *Mint) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// DropNextSwapAnswer makes the next successful swap commit, then answer 502
// as if the connection broke after the mint processed it.
func (m *Mint) DropNextSwapAnswer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = true
}

// Swaps returns the number of swaps committed so far.
func (m *Mint) Swaps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swaps
}

// IsSpent reports whether a proof with this secret was spent.
func (m *Mint) IsSpent(secret string) bool {
	Y, err := curve.HashToCurve([]byte(secret))
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent[Y.Hex()]
}

func (m *Mint) availability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		down := m.down
		m.mu.Unlock()
		if down {
			writeError(w, http.StatusServiceUnavailable, 0, "mint is down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(mint.ErrorResponse{Detail: detail, Code: code})
}

// codedError is a request failure with a mint error code.
type codedError struct {
	code   int
	detail string
}

func (e *codedError) Error() string { return e.detail }

func fail(code int, format string, args ...interface{}) error {
	return &codedError{code: code, detail: fmt.Sprintf(format, args...)}
}

func writeFailure(w http.ResponseWriter, err error) {
	var c *codedError
	if errors.As(err, &c) {
		writeError(w, http.StatusBadRequest, c.code, c.detail)
		return
	}
	writeError(w, http.StatusBadRequest, 0, err.Error())
}

func (m *Mint) handleKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, mint.GetKeysResponse{Keysets: []cashu.KeysResponse{m.keyset.public.ToWire()}})
}

func (m *Mint) handleKeysets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, mint.GetKeysetsResponse{Keysets: []cashu.KeysetInfo{m.keyset.public.Info()}})
}

func (m *Mint) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	var req mint.PostMintQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == 0 {
		writeError(w, http.StatusBadRequest, 0, "invalid quote request")
		return
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.quotes[id] = &quote{amount: req.Amount, state: mint.QuoteUnpaid}
	m.mu.Unlock()
	writeJSON(w, m.quoteResponse(id, mint.QuoteUnpaid))
}

func (m *Mint) quoteResponse(id, state string) mint.MintQuoteResponse {
	return mint.MintQuoteResponse{
		Quote:   id,
		Request: "lnbc" + id,
		State:   state,
		Expiry:  m.now().Add(time.Hour).Unix(),
	}
}

func (m *Mint) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["quote"]
	m.mu.Lock()
	q, ok := m.quotes[id]
	var state string
	if ok {
		state = q.state
	}
	m.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, 0, "unknown quote")
		return
	}
	writeJSON(w, m.quoteResponse(id, state))
}

func (m *Mint) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mint.PostMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 0, err.Error())
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotes[req.Quote]
	switch {
	case !ok:
		writeError(w, http.StatusBadRequest, 0, "unknown quote")
		return
	case q.state == mint.QuoteUnpaid:
		writeError(w, http.StatusBadRequest, mint.CodeQuoteNotPaid, "quote not paid")
		return
	case q.state == mint.QuoteIssued:
		writeError(w, http.StatusBadRequest, mint.CodeQuoteIssued, "quote already issued")
		return
	}
	if req.Outputs.Amount() != q.amount {
		writeError(w, http.StatusBadRequest, mint.CodeTransactionUnbalanced, "outputs do not match quote amount")
		return
	}
	sigs, err := m.signOutputs(req.Outputs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	q.state = mint.QuoteIssued
	writeJSON(w, mint.PostMintResponse{Signatures: sigs})
}

func (m *Mint) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req mint.PostSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 0, err.Error())
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ys, err := m.verifyInputs(req.Inputs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	fee := cashu.FeeFromPPK(uint64(len(req.Inputs)) * m.keyset.public.InputFeePPK)
	if req.Inputs.Amount() != req.Outputs.Amount()+fee {
		writeError(w, http.StatusBadRequest, mint.CodeTransactionUnbalanced,
			fmt.Sprintf("inputs %d != outputs %d + fee %d", req.Inputs.Amount(), req.Outputs.Amount(), fee))
		return
	}
	sigs, err := m.signOutputs(req.Outputs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	for _, y := range ys {
		m.spent[y] = true
	}
	m.swaps++
	if m.dropped {
		m.dropped = false
		writeError(w, http.StatusBadGateway, 0, "connection reset")
		return
	}
	writeJSON(w, mint.PostSwapResponse{Signatures: sigs})
}

// verifyInputs checks every input and returns their Ys. It does not mark them spent.
func (m *Mint) verifyInputs(inputs cashu.Proofs) ([]string, error) {
	if len(inputs) == 0 {
		return nil, fail(mint.CodeTransactionUnbalanced, "no inputs")
	}
	ys := make([]string, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, p := range inputs {
		if p.ID != m.keyset.public.ID {
			return nil, fail(mint.CodeKeysetUnknown, "unknown keyset %s", p.ID)
		}
		k, ok := m.keyset.private[p.Amount]
		if !ok {
			return nil, fail(mint.CodeTokenNotVerified, "invalid amount %d", p.Amount)
		}
		C, err := curve.ParsePointHex(p.C)
		if err != nil {
			return nil, fail(mint.CodeTokenNotVerified, "invalid C: %v", err)
		}
		if ok, _ = bdhke.Verify(k, []byte(p.Secret), C); !ok {
			return nil, fail(mint.CodeTokenNotVerified, "proof could not be verified")
		}
		Y, err := p.Y()
		if err != nil {
			return nil, fail(mint.CodeTokenNotVerified, "%v", err)
		}
		y := Y.Hex()
		if seen[y] {
			return nil, fail(mint.CodeTransactionUnbalanced, "duplicate input")
		}
		seen[y] = true
		if m.spent[y] {
			return nil, fail(mint.CodeProofsSpent, "proofs already spent")
		}
		if _, err = p2pk.ParseCondition(p.Secret); err == nil {
			satisfied, err := p2pk.Satisfied(p, m.now())
			if err != nil || !satisfied {
				return nil, fail(mint.CodeTokenNotVerified, "spending condition not met")
			}
		}
		ys = append(ys, y)
	}
	return ys, nil
}

func (m *Mint) signOutputs(outputs cashu.BlindedMessages) ([]cashu.BlindSignature, error) {
	sigs := make([]cashu.BlindSignature, 0, len(outputs))
	seen := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		if o.ID != m.keyset.public.ID {
			return nil, fail(mint.CodeKeysetUnknown, "unknown keyset %s", o.ID)
		}
		k, ok := m.keyset.private[o.Amount]
		if !ok {
			return nil, fail(mint.CodeTransactionUnbalanced, "invalid amount %d", o.Amount)
		}
		if _, ok = m.signed[o.B_]; ok || seen[o.B_] {
			return nil, fail(mint.CodeOutputsAlreadySigned, "outputs have already been signed before")
		}
		seen[o.B_] = true
		B, err := o.Point()
		if err != nil {
			return nil, fail(mint.CodeTokenNotVerified, "invalid B_: %v", err)
		}
		C, err := bdhke.Sign(k, B)
		if err != nil {
			return nil, fail(mint.CodeTokenNotVerified, "%v", err)
		}
		sigs = append(sigs, cashu.BlindSignature{Amount: o.Amount, ID: o.ID, C_: C.Hex()})
	}
	for i, o := range outputs {
		m.signed[o.B_] = sigs[i]
	}
	return sigs, nil
}

func (m *Mint) handleCheckState(w http.ResponseWriter, r *http.Request) {
	var req mint.PostCheckStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 0, err.Error())
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]mint.ProofState, len(req.Ys))
	for i, y := range req.Ys {
		state := mint.StateUnspent
		if m.spent[y] {
			state = mint.StateSpent
		}
		states[i] = mint.ProofState{Y: y, State: state}
	}
	writeJSON(w, mint.PostCheckStateResponse{States: states})
}

func (m *Mint) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req mint.PostRestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 0, err.Error())
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := mint.PostRestoreResponse{
		Outputs:    cashu.BlindedMessages{},
		Signatures: []cashu.BlindSignature{},
	}
	for _, o := range req.Outputs {
		if sig, ok := m.signed[o.B_]; ok {
			resp.Outputs = append(resp.Outputs, o)
			resp.Signatures = append(resp.Signatures, sig)
		}
	}
	writeJSON(w, resp)
}
