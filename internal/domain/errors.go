package domain

import (
	"context"
	"errors"
	"fmt"
)

// Structural errors abort a whole populate pass.
var (
	ErrFileRejected          = errors.New("file rejected")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrDecompressionFailed   = errors.New("decompression failed")
	ErrParseFailed           = errors.New("parse failed")
	ErrNoTransactionsFound   = errors.New("no transactions found")
	ErrSerialization         = errors.New("serialization failed")
	ErrPersistence           = errors.New("persistence error")
	ErrUnsupportedSourceType = errors.New("unsupported source type")
)

// ErrEmptyStatement is a well-formed statement with no transactions in its period.
// It matches ErrNoTransactionsFound under errors.Is.
var ErrEmptyStatement = fmt.Errorf("%w: statement lists no transactions", ErrNoTransactionsFound)

// Staging store errors.
var (
	ErrBatchNotFound     = errors.New("batch not found")
	ErrBatchNotStaging   = errors.New("batch is not in staging status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateRow      = errors.New("duplicate row number in batch")
	ErrCounterInvariant  = errors.New("batch counters violate ready+error <= total")
)

// Error codes written to import_row_errors.
const (
	CodeFileRejected       = "file_rejected"
	CodeStorageUnavailable = "storage_unavailable"
	CodeDecompression      = "decompression_failed"
	CodeParseFailed        = "parse_failed"
	CodeNoTransactions     = "no_transactions"
	CodeEmptyStatement     = "empty_statement"
	CodeSerialization      = "serialization_failed"
	CodePersistence        = "persistence_error"
	CodeCancelled          = "cancelled"
	CodeInterrupted        = "interrupted"
	CodeRowInvalid         = "row_invalid"
	CodeUnknown            = "unknown"
)

// ErrorCode maps err to the ledger code. More specific errors are checked first.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	case errors.Is(err, ErrEmptyStatement):
		return CodeEmptyStatement
	case errors.Is(err, ErrNoTransactionsFound):
		return CodeNoTransactions
	case errors.Is(err, ErrDecompressionFailed):
		return CodeDecompression
	case errors.Is(err, ErrParseFailed):
		return CodeParseFailed
	case errors.Is(err, ErrSerialization):
		return CodeSerialization
	case errors.Is(err, ErrFileRejected):
		return CodeFileRejected
	case errors.Is(err, ErrStorageUnavailable):
		return CodeStorageUnavailable
	case errors.Is(err, ErrPersistence), errors.Is(err, ErrDuplicateRow), errors.Is(err, ErrCounterInvariant):
		return CodePersistence
	default:
		return CodeUnknown
	}
}

// TruncateMessage bounds error text stored on batches and ledger rows.
func TruncateMessage(msg string) string {
	const maxLen = 2000
	if len(msg) <= maxLen {
		return msg
	}
	runes := []rune(msg)
	if len(runes) <= maxLen {
		return msg
	}
	return string(runes[:maxLen])
}
