package outbox

import "fmt"

// PersistenceError marks a failure to read or write outbox state in Postgres.
// It propagates to the caller, which for Enqueue aborts the surrounding
// business transaction.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("outbox persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SinkError marks a failed delivery attempt to the analytical sink. The
// exporter absorbs it: affected rows are marked failed and retried later.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("outbox sink: %v", e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// ConversionError marks a row whose stored payload cannot be turned into a
// sink tuple. Retrying cannot fix it, so the exporter parks the row instead.
type ConversionError struct {
	RecordID int64
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("outbox conversion: record %d: %v", e.RecordID, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }
