package reconcile

import (
	"errors"
	"fmt"
)

// ValidationError marks a malformed event payload (missing required
// identifiers, undecodable JSON). It is non-retryable: the webhook handler
// answers 400 so the provider does not redeliver the event forever.
// Everything else that fails during reconciliation is considered transient
// and retryable.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
