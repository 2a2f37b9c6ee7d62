// Package chainerr carries the error taxonomy shared by the ledger, consensus,
// and storage layers: a kind plus minimal offending context, never a panic.
package chainerr

import "fmt"

// Kind classifies an error for callers that need to branch on it instead of
// parsing a message.
type Kind int

const (
	// Validation covers malformed addresses, bad signatures, bad encoding.
	Validation Kind = iota
	// Protocol covers nonce mismatch, insufficient balance/stake, unknown or
	// duplicate validators, and other rule violations.
	Protocol
	// Consistency covers state-root mismatch, prev-hash mismatch, height gaps.
	Consistency
	// FinalityViolation covers an attempted reorg below the finalized height.
	FinalityViolation
	// Storage covers I/O failures.
	Storage
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Protocol:
		return "protocol"
	case Consistency:
		return "consistency"
	case FinalityViolation:
		return "finality_violation"
	case Storage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across package boundaries in this
// module. It always carries a Kind and a human-readable message, and may
// carry offending context (height, hash, address) for logging.
type Error struct {
	Kind    Kind
	Message string
	Height  uint64
	Hash    string
	Address string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a bare kinded error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a kinded error around a lower-level cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, err: err}
}

// WithHeight attaches a height to the error context and returns the same
// error for chaining.
func (e *Error) WithHeight(h uint64) *Error {
	e.Height = h
	return e
}

// WithHash attaches a hex hash to the error context.
func (e *Error) WithHash(h string) *Error {
	e.Hash = h
	return e
}

// WithAddress attaches an address to the error context.
func (e *Error) WithAddress(a string) *Error {
	e.Address = a
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*Error)
	return ok && ce.Kind == kind
}
