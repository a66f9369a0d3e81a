// Package protocol defines the error taxonomy shared by the wallet, escrow
// and peer layers.
package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies an Error by how the caller is expected to react.
type Kind uint8

const (
	// Transport errors are disconnects or unreachable services. They are
	// recoverable: retry, or fall back to self-authority.
	Transport Kind = iota + 1
	// Mint errors abort the current operation with no partial state committed.
	Mint
	// Protocol errors are malformed or unexpected peer messages. The message is dropped.
	Protocol
	// Crypto errors are verification failures. They abort the current
	// settlement attempt and leave the stake for the refund path.
	Crypto
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Mint:
		return "mint"
	case Protocol:
		return "protocol"
	case Crypto:
		return "crypto"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is a custom error which records the kind of failure and the operation
// in which it occurred.
type Error struct {
	Kind Kind
	// Op names the operation, and may be empty.
	Op string
	// Err is the underlying error
	Err error
}

func (e Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// Wrap returns nil if err is nil, and an Error of the given kind otherwise.
// An err that already carries the same kind is returned as is.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsKind(err, kind) {
		return err
	}
	return Error{Kind: kind, Op: op, Err: err}
}

// Errorf formats a new Error of the given kind.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether any Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
