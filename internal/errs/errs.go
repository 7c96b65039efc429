// Package errs defines the error kinds shared by the transfer packages.
// Callers match them with errors.Is; the root gfile package re-exports them.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the upload source does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed share URLs, size strings and options.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProtocol is returned when the remote service answers with something
	// the transfer cannot continue from: a missing or non-zero status, or an
	// upload that finished without a share URL.
	ErrProtocol = errors.New("protocol error")

	// ErrIO is returned for local disk read and write failures.
	ErrIO = errors.New("i/o error")

	// ErrIntegrityMismatch is reported when a downloaded file's size differs
	// from the size the server declared.
	ErrIntegrityMismatch = errors.New("integrity mismatch")

	// ErrAborted is returned to a worker parked at the transmission gate when
	// its session failed or was interrupted before its turn came.
	ErrAborted = errors.New("transfer aborted")
)

// NotFound wraps the formatted message as ErrNotFound.
func NotFound(format string, args ...interface{}) error {
	return kind(ErrNotFound, format, args...)
}

// InvalidArgument wraps the formatted message as ErrInvalidArgument.
func InvalidArgument(format string, args ...interface{}) error {
	return kind(ErrInvalidArgument, format, args...)
}

// Protocol wraps the formatted message as ErrProtocol.
func Protocol(format string, args ...interface{}) error {
	return kind(ErrProtocol, format, args...)
}

// IO wraps the formatted message as ErrIO.
func IO(format string, args ...interface{}) error {
	return kind(ErrIO, format, args...)
}

func kind(k error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %w", k, fmt.Errorf(format, args...))
}
