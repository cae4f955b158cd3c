// Package dagerr defines the closed error taxonomy used across dagflow.
//
// Error policy (mirrors lvlath/builder):
//   - Only sentinel variables are exposed; callers MUST branch with errors.Is.
//   - Sentinels are never stringified with dynamic data at definition site.
//   - Wrapping uses github.com/pkg/errors so stack traces survive a
//     goroutine-to-main-thread handoff (ExecutionFailure, StorageError).
package dagerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors for the six-member taxonomy from the engine's error design.
var (
	// ErrGraph indicates a malformed graph: a cycle, a missing input, an
	// unrecognized producer kind, a placeholder reused across graphs, or a
	// reducer attempting to introduce a new placeholder.
	ErrGraph = errors.New("dagflow: malformed graph")

	// ErrValidation indicates a producer's own validate() call failed.
	ErrValidation = errors.New("dagflow: producer validation failed")

	// ErrShapeMismatch indicates per-placeholder readers disagree on size64,
	// or a batch read returned fewer elements than expected mid-execution.
	ErrShapeMismatch = errors.New("dagflow: reader shape mismatch")

	// ErrNotSupported indicates an operation unsupported by the chosen
	// executor: applying a preparable graph through the fast prepared-only
	// executor, or BATCH preparation without a replayable reader.
	ErrNotSupported = errors.New("dagflow: operation not supported")

	// ErrExecution wraps the first exception captured from a user-supplied
	// producer during execution.
	ErrExecution = errors.New("dagflow: execution failed")

	// ErrStorage indicates a write/read failure on disk-backed intermediate
	// storage; fatal to the run.
	ErrStorage = errors.New("dagflow: storage failure")
)

// GraphError wraps ErrGraph with context. Fatal during canonicalization.
func GraphError(format string, args ...interface{}) error {
	return pkgerrors.Wrapf(ErrGraph, format, args...)
}

// ValidationError wraps ErrValidation with the producer's class and name.
func ValidationError(class, name string, cause error) error {
	return pkgerrors.Wrapf(ErrValidation, "%s %q: %v", class, name, cause)
}

// ShapeMismatchError wraps ErrShapeMismatch with the offending sizes.
func ShapeMismatchError(format string, args ...interface{}) error {
	return pkgerrors.Wrapf(ErrShapeMismatch, format, args...)
}

// NotSupportedError wraps ErrNotSupported with the unsupported operation.
func NotSupportedError(format string, args ...interface{}) error {
	return pkgerrors.Wrapf(ErrNotSupported, format, args...)
}

// ExecutionFailure wraps ErrExecution around the first captured cause.
// It preserves cause's stack trace (if it has one from pkg/errors) instead
// of flattening it into a string, so a caller inspecting the error after it
// crosses the scheduler's goroutine boundary can still see where it
// originated.
func ExecutionFailure(cause error) error {
	if cause == nil {
		return nil
	}

	return pkgerrors.WithStack(fmt.Errorf("%w: %w", ErrExecution, cause))
}

// StorageError wraps ErrStorage around an I/O failure from a disk-backed
// ObjectWriter/ObjectReader.
func StorageError(op string, cause error) error {
	return pkgerrors.WithStack(fmt.Errorf("%w: %s: %w", ErrStorage, op, cause))
}

// Is reports whether err is in target's chain, delegating to errors.Is so
// that pkgerrors-wrapped causes participate in the standard matching
// protocol.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
