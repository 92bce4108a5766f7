package worker

import (
	"errors"
	"fmt"
)

// ValidationError marks a delivery failure that can never succeed on retry,
// such as malformed contact info. The worker routes these straight to the
// dead-letter queue without consuming retry budget. Provider and network
// failures are plain errors and are treated as transient.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsPermanent reports whether err is a delivery failure that retrying
// cannot fix.
func IsPermanent(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrMalformedMessage marks a queue payload that could not be deserialized.
// The raw payload is dead-lettered verbatim rather than dropped.
var ErrMalformedMessage = errors.New("malformed queue message")
