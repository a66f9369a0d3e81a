package mint

import (
	"errors"
	"fmt"
)

// Error codes returned by Cashu mints.
const (
	CodeOutputsAlreadySigned  = 10002
	CodeTokenNotVerified      = 10003
	CodeProofsSpent           = 11001
	CodeTransactionUnbalanced = 11002
	CodeKeysetUnknown         = 12001
	CodeKeysetInactive        = 12002
	CodeQuoteNotPaid          = 20001
	CodeQuoteIssued           = 20002
)

var (
	// ErrMintUnavailable covers network failures and 5xx answers.
	ErrMintUnavailable = errors.New("mint unavailable")
	// ErrQuoteNotPaid is returned when minting against an unpaid quote.
	ErrQuoteNotPaid = errors.New("quote not paid")
	// ErrProofsSpent is returned when an input was already spent.
	ErrProofsSpent = errors.New("proofs already spent")
	// ErrRejected covers every other 4xx answer.
	ErrRejected = errors.New("request rejected by mint")
)

// APIError is a decoded error answer from the mint.
type APIError struct {
	Status int
	Code   int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mint answered %d (code %d): %s", e.Status, e.Code, e.Detail)
}

// Unwrap maps the answer onto one of the package sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status >= 500:
		return ErrMintUnavailable
	case e.Code == CodeQuoteNotPaid:
		return ErrQuoteNotPaid
	case e.Code == CodeProofsSpent:
		return ErrProofsSpent
	default:
		return ErrRejected
	}
}
