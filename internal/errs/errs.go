// Package errs defines the uniform error taxonomy returned by every public
// RaleighDB operation (spec §7).
//
// All engine-level failures are represented by [Error], which wraps one of
// the sentinel errors below together with structured context (OID, TXN-ID,
// object name). Use [errors.Is] against a sentinel to classify a failure,
// or [errors.As] to pull out the context fields.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per errno discriminant in spec §7.
var (
	// Resource
	ErrNoMemory         = errors.New("no memory")
	ErrNoSpaceOnDevice  = errors.New("no space on device")
	ErrPageFull         = errors.New("page full")

	// Naming
	ErrObjectNotFound  = errors.New("object not found")
	ErrObjectExists    = errors.New("object exists")
	ErrObjectWrongType = errors.New("object wrong type")
	ErrPluginNotLoaded = errors.New("plugin not loaded")

	// Data
	ErrDataKeyNotFound = errors.New("data key not found")
	ErrDataKeyExists   = errors.New("data key exists")

	// Transactional
	ErrTxnNotFound   = errors.New("txn not found")
	ErrTxnClosed     = errors.New("txn closed")
	ErrTxnLockedKey  = errors.New("txn locked key")
	ErrTxnRolledBack = errors.New("txn rolled back")

	// Control
	ErrSchedYield     = errors.New("sched yield")
	ErrNotImplemented = errors.New("not implemented")
)

// errnoNames mirrors spec §6's errno_byte_slice: a stable, short string name
// per sentinel, independent of Error()'s free-form message, for wire framing
// by adapters that must not hard-code status strings.
var errnoNames = map[error]string{
	ErrNoMemory:        "NO_MEMORY",
	ErrNoSpaceOnDevice: "NO_SPACE_ON_DEVICE",
	ErrPageFull:        "PAGE_FULL",
	ErrObjectNotFound:  "OBJECT_NOT_FOUND",
	ErrObjectExists:    "OBJECT_EXISTS",
	ErrObjectWrongType: "OBJECT_WRONG_TYPE",
	ErrPluginNotLoaded: "PLUGIN_NOT_LOADED",
	ErrDataKeyNotFound: "DATA_KEY_NOT_FOUND",
	ErrDataKeyExists:   "DATA_KEY_EXISTS",
	ErrTxnNotFound:     "TXN_NOT_FOUND",
	ErrTxnClosed:       "TXN_CLOSED",
	ErrTxnLockedKey:    "TXN_LOCKED_KEY",
	ErrTxnRolledBack:   "TXN_ROLLEDBACK",
	ErrSchedYield:      "SCHED_YIELD",
	ErrNotImplemented:  "NOT_IMPLEMENTED",
}

// ByteSlice implements spec §6's errno_byte_slice: it returns the stable
// name for a sentinel (or one reachable via errors.Is/errors.Unwrap from
// err), or "NONE" if err is nil, or "UNKNOWN" for an unrecognised error.
func ByteSlice(err error) []byte {
	if err == nil {
		return []byte("NONE")
	}

	for sentinel, name := range errnoNames {
		if errors.Is(err, sentinel) {
			return []byte(name)
		}
	}

	return []byte("UNKNOWN")
}

// Error is the uniform error type returned by engine operations.
//
// It carries the sentinel cause plus whichever of OID/TxnID/Name apply to
// the failing operation, formatted as:
//
//	object not found (oid=7 name="scores")
//
// Use [errors.Is] against the sentinels in this package to classify the
// failure; use [errors.As] to recover the structured fields.
type Error struct {
	// Err is the underlying sentinel cause.
	Err error

	// OID is the object identifier involved, or 0 if not applicable.
	OID uint64

	// TxnID is the transaction identifier involved, or 0 if not applicable.
	TxnID uint64

	// Name is the semantic-layer name involved, or "" if not applicable.
	Name string
}

// Error formats as "<cause> (oid=... txn=... name=...)", omitting any
// context field that is zero/empty.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	suffix := e.suffix()
	if suffix == "" {
		return cause
	}

	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

func (e *Error) suffix() string {
	var parts []byte

	add := func(s string) {
		if len(parts) > 0 {
			parts = append(parts, ' ')
		}

		parts = append(parts, s...)
	}

	if e.OID != 0 {
		add(fmt.Sprintf("oid=%d", e.OID))
	}

	if e.TxnID != 0 {
		add(fmt.Sprintf("txn=%d", e.TxnID))
	}

	if e.Name != "" {
		add(fmt.Sprintf("name=%q", e.Name))
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + string(parts) + ")"
}

// Unwrap exposes the underlying sentinel for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// WithOID returns a copy of e with OID set.
func (e *Error) WithOID(oid uint64) *Error {
	cp := *e
	cp.OID = oid

	return &cp
}

// WithTxnID returns a copy of e with TxnID set.
func (e *Error) WithTxnID(txnID uint64) *Error {
	cp := *e
	cp.TxnID = txnID

	return &cp
}

// WithName returns a copy of e with Name set.
func (e *Error) WithName(name string) *Error {
	cp := *e
	cp.Name = name

	return &cp
}

// New wraps a sentinel error into an *Error with no context.
func New(sentinel error) *Error {
	return &Error{Err: sentinel}
}

// Is reports whether err is (or wraps) the given errno sentinel. A thin
// convenience wrapper over errors.Is used throughout the engine's
// scheduler/transaction state machines to classify an operation's outcome.
func Is(err, sentinel error) bool {
	return errors.Is(err, sentinel)
}
