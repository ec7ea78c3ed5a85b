package crm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWriteFailed is matched by every error a store returns for a rejected insert, update, upsert or delete.
	ErrWriteFailed = errors.New("write failed")

	// ErrPartialBatch is matched by a BatchError when some records in the batch were written.
	ErrPartialBatch = errors.New("partial batch failure")
)

// RecordFailure describes why a single record in a bulk write was rejected.
type RecordFailure struct {
	// Code is the store's error code (e.g., REQUIRED_FIELD_MISSING).
	Code string

	// Fields lists the fields involved, when the store reports them.
	Fields []string

	// ID is the record identifier, empty for failed inserts.
	ID string

	// Index is the position of the record in the submitted batch.
	Index int

	// Message is the store's error message.
	Message string
}

// BatchError reports the records a bulk write rejected.
type BatchError struct {
	// Failures lists the rejected records.
	Failures []RecordFailure

	// Op is the write operation (insert, update, delete).
	Op string

	// Total is the number of records submitted.
	Total int
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msg := fmt.Sprintf("record %d", f.Index)
		if f.ID != "" {
			msg += " (" + f.ID + ")"
		}
		if f.Code != "" {
			msg += ": " + f.Code
		}
		if f.Message != "" {
			msg += ": " + f.Message
		}
		msgs = append(msgs, msg)
	}
	return fmt.Sprintf("%s: %d of %d records failed: %s", e.Op, len(e.Failures), e.Total, strings.Join(msgs, "; "))
}

// Is reports whether the batch error matches ErrWriteFailed, or ErrPartialBatch when some records succeeded.
func (e *BatchError) Is(target error) bool {
	switch target {
	case ErrWriteFailed:
		return true
	case ErrPartialBatch:
		return len(e.Failures) < e.Total
	default:
		return false
	}
}

// WriteFailed wraps err so that it matches ErrWriteFailed.
func WriteFailed(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrWriteFailed, err)
}
