// Package apperr defines the error categories shared by the ingest, resolver and execution paths.
//
// Categories are sentinel errors from github.com/cockroachdb/errors. Concrete errors are marked
// with their category (errors.Mark) so callers can test with errors.Is while the message stays
// specific:
//
//	err := apperr.MalformedInput("record %d: missing timestamp", i)
//	errors.Is(err, apperr.ErrMalformedInput) // true
//
// HTTPStatus maps a category onto the status code returned by the API.
package apperr

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Error categories
var (
	// ErrMalformedInput indicates a bad batch or record shape; rejected before queueing, never retried
	ErrMalformedInput = errors.New("malformed input")

	// ErrRegistryInconsistent indicates a model descriptor missing required fields
	ErrRegistryInconsistent = errors.New("registry inconsistency")

	// ErrTransient indicates a store or queue connection failure that survived retries
	ErrTransient = errors.New("transient infrastructure failure")

	// ErrDataNotReady indicates required samples were absent after the bounded poll
	ErrDataNotReady = errors.New("data not ready")

	// ErrShapeMismatch indicates the tensor shape differs from the model's declared input shape
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrNoCompatibleModel indicates no registry model is satisfiable by the available data
	ErrNoCompatibleModel = errors.New("no compatible model")

	// ErrModelNotFound indicates a named model is not in the compatible set
	ErrModelNotFound = errors.New("model not found")

	// ErrNotFound indicates the requested data does not exist
	ErrNotFound = errors.New("not found")
)

func mark(category error, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), category)
}

// MalformedInput creates a malformed-input error
func MalformedInput(format string, args ...interface{}) error {
	return mark(ErrMalformedInput, format, args...)
}

// RegistryInconsistent creates a registry-inconsistency error
func RegistryInconsistent(format string, args ...interface{}) error {
	return mark(ErrRegistryInconsistent, format, args...)
}

// DataNotReady creates a data-not-ready error
func DataNotReady(format string, args ...interface{}) error {
	return errors.WithHint(mark(ErrDataNotReady, format, args...),
		"the drain worker may still be persisting this execution; retry later or send the samples inline")
}

// ShapeMismatch creates a shape-mismatch error
func ShapeMismatch(format string, args ...interface{}) error {
	return mark(ErrShapeMismatch, format, args...)
}

// NoCompatibleModel creates a no-compatible-model error
func NoCompatibleModel(format string, args ...interface{}) error {
	return mark(ErrNoCompatibleModel, format, args...)
}

// ModelNotFound creates a model-not-found error
func ModelNotFound(format string, args ...interface{}) error {
	return mark(ErrModelNotFound, format, args...)
}

// NotFound creates a not-found error
func NotFound(format string, args ...interface{}) error {
	return mark(ErrNotFound, format, args...)
}

// Transient marks err as a transient infrastructure failure, keeping its message
func Transient(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrTransient)
}

// Category returns the category sentinel err belongs to, or nil
func Category(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range []error{
		ErrMalformedInput,
		ErrRegistryInconsistent,
		ErrDataNotReady,
		ErrShapeMismatch,
		ErrNoCompatibleModel,
		ErrModelNotFound,
		ErrNotFound,
		ErrTransient,
	} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// HTTPStatus maps an error onto an HTTP status code
func HTTPStatus(err error) int {
	switch Category(err) {
	case nil:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	case ErrMalformedInput, ErrShapeMismatch:
		return http.StatusBadRequest
	case ErrNoCompatibleModel, ErrModelNotFound, ErrNotFound:
		return http.StatusNotFound
	case ErrDataNotReady:
		return http.StatusConflict
	case ErrTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Hint returns the user-facing hints attached to err, joined by "; "
func Hint(err error) string {
	return errors.FlattenHints(err)
}

var kinds = map[error]string{
	ErrMalformedInput:       "malformed_input",
	ErrRegistryInconsistent: "registry_inconsistent",
	ErrTransient:            "transient",
	ErrDataNotReady:         "data_not_ready",
	ErrShapeMismatch:        "shape_mismatch",
	ErrNoCompatibleModel:    "no_compatible_model",
	ErrModelNotFound:        "model_not_found",
	ErrNotFound:             "not_found",
}

// Kind returns a stable snake_case name for err's category, "internal" when it has none
func Kind(err error) string {
	if err == nil {
		return ""
	}
	if k, ok := kinds[Category(err)]; ok {
		return k
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "internal"
}
