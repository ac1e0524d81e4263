package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies per-item failures for the outcome records. Batch-level
// failures never appear here; they abort the call before any item runs.
type ErrorKind string

const (
	KindDecode                  ErrorKind = "decode"
	KindUnsatisfiableDimensions ErrorKind = "unsatisfiable_dimensions"
	KindEncode                  ErrorKind = "encode"
	KindStorage                 ErrorKind = "storage"
)

var (
	ErrEmptyBatch              = errors.New("batch contains no files")
	ErrBatchTooLarge           = errors.New("batch exceeds size cap")
	ErrUnsatisfiableDimensions = errors.New("unsatisfiable target dimensions")
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")
	ErrArtifactNotFound        = errors.New("artifact not found")
)

// BatchError is a batch-level validation failure. Nothing is processed when
// one is returned.
type BatchError struct {
	Reason error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch rejected: %v", e.Reason)
}

func (e *BatchError) Unwrap() error { return e.Reason }

// ItemError is the per-item failure record occupying a result slot. Siblings
// in the batch are unaffected by it.
type ItemError struct {
	Index   int       `json:"index"`
	Kind    ErrorKind `json:"error_kind"`
	Message string    `json:"message"`
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %s: %s", e.Index, e.Kind, e.Message)
}

// ClassifyItemError maps a pipeline failure onto its outcome kind.
func ClassifyItemError(index int, err error) *ItemError {
	kind := KindEncode
	switch {
	case errors.Is(err, ErrUnsatisfiableDimensions):
		kind = KindUnsatisfiableDimensions
	case IsDecodeError(err):
		kind = KindDecode
	case IsStorageError(err):
		kind = KindStorage
	}
	return &ItemError{Index: index, Kind: kind, Message: err.Error()}
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode image: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// DecodeError marks err as a source-image decode failure.
func DecodeError(err error) error {
	if err == nil {
		return nil
	}
	return &decodeError{err: err}
}

func IsDecodeError(err error) bool {
	var de *decodeError
	return errors.As(err, &de)
}

type storageError struct{ err error }

func (e *storageError) Error() string { return "store artifact: " + e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

// StorageError marks err as an artifact persistence failure. Kept distinct
// from encode failures because the retry strategy differs.
func StorageError(err error) error {
	if err == nil {
		return nil
	}
	return &storageError{err: err}
}

func IsStorageError(err error) bool {
	var se *storageError
	return errors.As(err, &se)
}
