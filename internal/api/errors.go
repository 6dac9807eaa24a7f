package api

import (
	"errors"

	"connectrpc.com/connect"
)

// IsPermanent reports whether err is a rejection that can never succeed on
// retry: the request itself is malformed or refused.
//
// Anything that is not a recognized client-error code counts as transient,
// including transport failures and errors without a code.
func IsPermanent(err error) bool {
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		return false
	}
	switch connectErr.Code() {
	case connect.CodeInvalidArgument,
		connect.CodeNotFound,
		connect.CodeAlreadyExists,
		connect.CodePermissionDenied,
		connect.CodeFailedPrecondition,
		connect.CodeOutOfRange,
		connect.CodeUnimplemented:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err should leave the request queued for retry.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}
