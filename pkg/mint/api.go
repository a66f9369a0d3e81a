package mint

import "github.com/taurusgroup/p2p-wager/pkg/cashu"

// Quote states reported by POST and GET /v1/mint/quote/bolt11.
const (
	QuoteUnpaid = "UNPAID"
	QuotePaid   = "PAID"
	QuoteIssued = "ISSUED"
)

// Proof states reported by /v1/checkstate.
const (
	StateUnspent = "UNSPENT"
	StatePending = "PENDING"
	StateSpent   = "SPENT"
)

// Endpoint paths, relative to the mint URL.
const (
	PathKeys       = "/v1/keys"
	PathKeysets    = "/v1/keysets"
	PathMintQuote  = "/v1/mint/quote/bolt11"
	PathMint       = "/v1/mint/bolt11"
	PathSwap       = "/v1/swap"
	PathCheckState = "/v1/checkstate"
)

type GetKeysResponse struct {
	Keysets []cashu.KeysResponse `json:"keysets"`
}

type GetKeysetsResponse struct {
	Keysets []cashu.KeysetInfo `json:"keysets"`
}

type PostMintQuoteRequest struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
}

// MintQuoteResponse is returned both when a quote is created and when it is polled.
type MintQuoteResponse struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   string `json:"state"`
	Expiry  int64  `json:"expiry,omitempty"`
}

type PostMintRequest struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostMintResponse struct {
	Signatures []cashu.BlindSignature `json:"signatures"`
}

type PostSwapRequest struct {
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostSwapResponse struct {
	Signatures []cashu.BlindSignature `json:"signatures"`
}

type PostCheckStateRequest struct {
	Ys []string `json:"Ys"`
}

type ProofState struct {
	Y       string `json:"Y"`
	State   string `json:"state"`
	Witness string `json:"witness,omitempty"`
}

type PostCheckStateResponse struct {
	States []ProofState `json:"states"`
}

// ErrorResponse is the body of every non 2xx answer.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   int    `json:"code"`
}

// PathRestore is the NUT-09 endpoint answering previously signed outputs.
const PathRestore = "/v1/restore"

type PostRestoreRequest struct {
	Outputs cashu.BlindedMessages `json:"outputs"`
}

// PostRestoreResponse lists the outputs the mint has signed before, with their
// signatures at the same positions.
type PostRestoreResponse struct {
	Outputs    cashu.BlindedMessages  `json:"outputs"`
	Signatures []cashu.BlindSignature `json:"signatures"`
}
