package storage

import "fmt"

// Code classifies storage-layer errors so callers (the executor, the
// database/sql driver) can branch on category without string matching.
type Code uint8

const (
	CodeUnknown Code = iota
	CodeTableNotFound
	CodeColumnNotFound
	CodeTypeMismatch
	CodeInvalidSyntax
	CodeIndexAlreadyExists
	CodeIndexNotFound
	CodeNodeNotFound
	CodeWalNotEnabled
	CodeWalAlreadyEnabled
	CodeInvalidWalRecord
	CodeSerializationFailure
	CodeRowNotFound
	CodeNoActiveTransaction
	CodeOutOfMemory
)

func (c Code) String() string {
	switch c {
	case CodeTableNotFound:
		return "TableNotFound"
	case CodeColumnNotFound:
		return "ColumnNotFound"
	case CodeTypeMismatch:
		return "TypeMismatch"
	case CodeInvalidSyntax:
		return "InvalidSyntax"
	case CodeIndexAlreadyExists:
		return "IndexAlreadyExists"
	case CodeIndexNotFound:
		return "IndexNotFound"
	case CodeNodeNotFound:
		return "NodeNotFound"
	case CodeWalNotEnabled:
		return "WalNotEnabled"
	case CodeWalAlreadyEnabled:
		return "WalAlreadyEnabled"
	case CodeInvalidWalRecord:
		return "InvalidWalRecord"
	case CodeSerializationFailure:
		return "SerializationFailure"
	case CodeRowNotFound:
		return "RowNotFound"
	case CodeNoActiveTransaction:
		return "NoActiveTransaction"
	case CodeOutOfMemory:
		return "OutOfMemory"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type surfaced across package boundaries.
// It wraps an underlying cause (if any) so errors.Is/errors.As keep working.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match by Code, so a wrapped *Error still compares
// equal to a package-level sentinel of the same Code.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

func newErr(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func wrapErr(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// Sentinels for the common cases callers compare against directly with
// errors.Is, mirroring the package-level sentinel style mvcc.go uses.
var (
	ErrRowNotFound          = newErr(CodeRowNotFound, "row not found")
	ErrSerializationFailure = newErr(CodeSerializationFailure, "concurrent writer won the race")
	ErrTxNotActive          = newErr(CodeNoActiveTransaction, "no active transaction")
	ErrTableNotFound        = newErr(CodeTableNotFound, "table not found")
	ErrColumnNotFound       = newErr(CodeColumnNotFound, "column not found")
	ErrTypeMismatch         = newErr(CodeTypeMismatch, "type mismatch")
	ErrIndexAlreadyExists   = newErr(CodeIndexAlreadyExists, "index already exists")
	ErrIndexNotFound        = newErr(CodeIndexNotFound, "index not found")
	ErrNodeNotFound         = newErr(CodeNodeNotFound, "node not found")
	ErrWalNotEnabled        = newErr(CodeWalNotEnabled, "wal not enabled")
	ErrWalAlreadyEnabled    = newErr(CodeWalAlreadyEnabled, "wal already enabled")
	ErrInvalidWalRecord     = newErr(CodeInvalidWalRecord, "invalid wal record")
	ErrOutOfMemory          = newErr(CodeOutOfMemory, "out of memory")
)
