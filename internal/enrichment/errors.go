package enrichment

import (
	"errors"
	"fmt"

	apperrors "wikirelay/pkg/errors"
)

var errBreakerOpen = errors.New("enrichment circuit breaker is open")

func transportError(format string, args ...interface{}) error {
	return apperrors.ErrTransport.WithCause(fmt.Errorf(format, args...))
}

func decodeError(format string, args ...interface{}) error {
	return apperrors.ErrDecode.WithCause(fmt.Errorf(format, args...))
}

func unexpectedError(format string, args ...interface{}) error {
	return apperrors.ErrUnexpected.WithCause(fmt.Errorf(format, args...))
}

func emptyResultError(format string, args ...interface{}) error {
	return apperrors.ErrEmptyResult.WithCause(fmt.Errorf(format, args...))
}
