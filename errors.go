package gfile

import (
	"github.com/bitrise-io/gfile/internal/errs"
)

// Error kinds returned by Client. Match them with errors.Is.
var (
	ErrNotFound          = errs.ErrNotFound
	ErrInvalidArgument   = errs.ErrInvalidArgument
	ErrProtocol          = errs.ErrProtocol
	ErrIO                = errs.ErrIO
	ErrIntegrityMismatch = errs.ErrIntegrityMismatch
	ErrAborted           = errs.ErrAborted
)
