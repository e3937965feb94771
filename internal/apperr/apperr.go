// Package apperr defines the error kinds shared by the analysis pipeline.
//
// Every stage reports failures as an *Error carrying a Kind. The request
// boundary (HTTP or MCP) uses KindOf to decide whether a failure is fatal
// for the request and which status to report; stages use it to decide
// whether to degrade to the next-best output.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Unknown is the kind of any error not produced through E.
	Unknown Kind = iota

	// ImageDecodeFailure means the uploaded bytes are not a decodable image.
	// Always fatal for the request.
	ImageDecodeFailure

	// ModelUnavailable means an inference capability is not loaded or failed.
	// The caller degrades to the next tier.
	ModelUnavailable

	// InvalidGeometry means externally supplied geometry is missing or
	// non-numeric. The caller skips the offending shape only.
	InvalidGeometry

	// OracleFailure means the classification oracle call failed. The caller
	// falls back to a mock result and logs the degradation.
	OracleFailure

	// PersistenceFailure means the report store rejected an operation.
	// Surfaced to the caller; never retried.
	PersistenceFailure

	// NotFound means a requested record does not exist.
	NotFound

	// InvalidInput means a request field is missing or malformed.
	InvalidInput
)

var kindNames = map[Kind]string{
	Unknown:            "unknown",
	ImageDecodeFailure: "image_decode_failure",
	ModelUnavailable:   "model_unavailable",
	InvalidGeometry:    "invalid_geometry",
	OracleFailure:      "oracle_failure",
	PersistenceFailure: "persistence_failure",
	NotFound:           "not_found",
	InvalidInput:       "invalid_input",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is a failure tagged with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
