// Package errors provides standardized error types and helpers for the Sharc codebase.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the core error taxonomy
var (
	// ErrInvalidDatabase indicates a bad header magic, short header, or
	// unsupported header feature flags
	ErrInvalidDatabase = errors.New("invalid database")
	// ErrCorruptPage indicates structural corruption inside a page: bad page
	// type, out-of-range cell pointer, overflow cycle, record overrun
	ErrCorruptPage = errors.New("corrupt page")
	// ErrUnsupported indicates an unsupported feature or format (WAL mode,
	// WITHOUT ROWID tables, reserved serial types)
	ErrUnsupported = errors.New("unsupported")
	// ErrInvalidArgument indicates invalid input: bad ordinal, unknown column,
	// filter depth overflow, zero-length varint input
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrPermissionDenied indicates an entitlement, validity-window, or
	// identity failure
	ErrPermissionDenied = errors.New("permission denied")
	// ErrIO indicates a page source read/write failure
	ErrIO = errors.New("i/o error")
	// ErrInvalidState indicates use after dispose, or a transaction operation
	// after commit/rollback
	ErrInvalidState = errors.New("invalid state")
	// ErrPageFull indicates an insert did not fit the target leaf page
	ErrPageFull = errors.New("page full")

	// ErrUnknownAgent indicates a ledger entry from an agent absent from the
	// local registry
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrInvalidSignature indicates a ledger entry whose signature does not
	// verify against the agent's public key
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrSequenceConflict indicates an imported entry whose sequence number is
	// not the next expected on the receiver
	ErrSequenceConflict = errors.New("sequence conflict")
	// ErrHashChainBroken indicates an entry whose previous-hash does not match
	// the prior entry's payload hash
	ErrHashChainBroken = errors.New("hash chain broken")
)

// CorruptError reports structural corruption with the page it was found on
type CorruptError struct {
	Page   uint32 // Page number where corruption was detected (0 if unknown)
	Detail string // What was wrong
	Err    error  // Underlying error, if any
}

func (e *CorruptError) Error() string {
	if e.Page != 0 {
		return fmt.Sprintf("corrupt page %d: %s", e.Page, e.Detail)
	}
	return fmt.Sprintf("corrupt data: %s", e.Detail)
}

func (e *CorruptError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrCorruptPage
}

// UnsupportedError reports an unsupported feature or format
type UnsupportedError struct {
	Feature string // Feature or format that is unsupported
	Reason  string // Why it's not supported
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported %s: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("unsupported %s", e.Feature)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// PermissionError reports an authorization failure with agent context
type PermissionError struct {
	AgentID   string // Agent whose access was denied
	Operation string // Operation that was attempted ("read", "write", "append")
	Resource  string // Table or column being accessed
	Reason    string // Why permission was denied
}

func (e *PermissionError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("permission denied: agent %s cannot %s %s: %s",
			e.AgentID, e.Operation, e.Resource, e.Reason)
	}
	return fmt.Sprintf("permission denied: agent %s: %s", e.AgentID, e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// LedgerError reports a ledger verification or import failure with the
// offending sequence number
type LedgerError struct {
	Sequence int64 // Sequence number of the failing entry
	Err      error // One of the ledger sentinels
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger entry %d: %v", e.Sequence, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// IOError reports a page source I/O failure with context
type IOError struct {
	Operation string // Operation being performed ("read", "write", "open")
	Path      string // File path, if applicable
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	if e.Err != nil && errors.Is(e.Err, ErrIO) {
		return e.Err
	}
	if e.Err != nil {
		return fmt.Errorf("%w: %v", ErrIO, e.Err)
	}
	return ErrIO
}

// Helper functions for creating common errors

// NewCorrupt creates a CorruptError for the given page
func NewCorrupt(page uint32, detail string) *CorruptError {
	return &CorruptError{Page: page, Detail: detail}
}

// NewUnsupported creates an UnsupportedError
func NewUnsupported(feature, reason string) *UnsupportedError {
	return &UnsupportedError{Feature: feature, Reason: reason}
}

// NewPermission creates a PermissionError
func NewPermission(agentID, operation, resource, reason string) *PermissionError {
	return &PermissionError{AgentID: agentID, Operation: operation, Resource: resource, Reason: reason}
}

// NewLedger creates a LedgerError wrapping one of the ledger sentinels
func NewLedger(sequence int64, err error) *LedgerError {
	return &LedgerError{Sequence: sequence, Err: err}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{Operation: operation, Path: path, Err: err}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
