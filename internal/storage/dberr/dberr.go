// Package dberr defines the typed error taxonomy returned by the storage
// engine. The teacher codebase wraps stdlib errors with fmt.Errorf and
// tests with errors.Is/errors.As against sentinel values; this package
// keeps that wrapping idiom (every constructor still carries %w over the
// underlying cause) but adds a stable Kind so callers can branch on the
// failure category without string matching.
package dberr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories a handle can return.
type Kind int

const (
	// KindInvalidFile means the header failed magic/format validation.
	KindInvalidFile Kind = iota
	// KindUnsupportedFeature means the file requires a feature this
	// engine does not implement (WAL mode, an incompatible page size).
	KindUnsupportedFeature
	// KindCorrupt means on-disk structure violated an invariant.
	KindCorrupt
	// KindIO means the underlying os/file layer failed.
	KindIO
	// KindCrypto means page decryption failed authentication.
	KindCrypto
	// KindBusy means a lock could not be acquired.
	KindBusy
	// KindConstraint means a row violated a table constraint.
	KindConstraint
	// KindNotFound means a seek or lookup found no matching entry.
	KindNotFound
	// KindTransactionAborted means the active transaction was rolled
	// back due to a prior error and can no longer be used.
	KindTransactionAborted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidFile:
		return "InvalidFile"
	case KindUnsupportedFeature:
		return "UnsupportedFeature"
	case KindCorrupt:
		return "Corrupt"
	case KindIO:
		return "Io"
	case KindCrypto:
		return "CryptoError"
	case KindBusy:
		return "Busy"
	case KindConstraint:
		return "Constraint"
	case KindNotFound:
		return "NotFound"
	case KindTransactionAborted:
		return "TransactionAborted"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by the engine. Page is
// populated for the Corrupt and CryptoError kinds; Reason for those and
// for InvalidFile, UnsupportedFeature and Constraint. Both are
// zero/empty otherwise.
type Error struct {
	Kind   Kind
	Page   uint32
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCorrupt:
		return fmt.Sprintf("corrupt: page %d: %s", e.Page, e.Reason)
	case KindCrypto:
		return fmt.Sprintf("crypto error: page %d: %s", e.Page, e.Reason)
	case KindConstraint:
		return fmt.Sprintf("constraint violation: %s", e.Reason)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, dberr.NotFound) etc. match on Kind alone.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind && te.Page == 0 && te.Reason == ""
	}
	return false
}

func InvalidFile(reason string, cause error) error {
	return &Error{Kind: KindInvalidFile, Reason: reason, Cause: cause}
}

func UnsupportedFeature(reason string) error {
	return &Error{Kind: KindUnsupportedFeature, Reason: reason}
}

func Corrupt(page uint32, reason string) error {
	return &Error{Kind: KindCorrupt, Page: page, Reason: reason}
}

func Io(cause error) error {
	return &Error{Kind: KindIO, Cause: cause}
}

func Crypto(page uint32, reason string) error {
	return &Error{Kind: KindCrypto, Page: page, Reason: reason}
}

// Busy is a pre-built sentinel: lock contention carries no extra state.
var Busy error = &Error{Kind: KindBusy}

func Constraint(kind, reason string) error {
	return &Error{Kind: KindConstraint, Reason: fmt.Sprintf("%s: %s", kind, reason)}
}

// NotFound is a pre-built sentinel for seek/lookup misses.
var NotFound error = &Error{Kind: KindNotFound}

// TransactionAborted is a pre-built sentinel for use-after-abort.
var TransactionAborted error = &Error{Kind: KindTransactionAborted}

// Kindof reports the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func Kindof(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
