package helpers

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type RelayError struct {
	Message string
	Cause   error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RelayError) Unwrap() error {
	return e.Cause
}

// TransportError: connect failure, stream read error, write failure. Recoverable.
type TransportError struct{ RelayError }

// DecodeError: a single malformed frame. The frame is dropped, the connection is kept.
type DecodeError struct{ RelayError }

// ConfigurationError: missing or invalid settings. Fatal at startup.
type ConfigurationError struct{ RelayError }

// ExhaustedError: the reconnect attempt budget ran out. Fatal.
type ExhaustedError struct {
	RelayError
	Attempts int
}

// ErrStreamEnded is matched by every ExhaustedError and returned when a
// stream closes without auto-reconnect.
var ErrStreamEnded = errors.New("stream ended")

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrStreamEnded
}

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func NewTransportError(message string, cause error) *TransportError {
	return &TransportError{RelayError{Message: message, Cause: cause}}
}

func NewDecodeError(message string, cause error) *DecodeError {
	return &DecodeError{RelayError{Message: message, Cause: cause}}
}

func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{RelayError{Message: fmt.Sprintf(format, args...)}}
}

func NewExhaustedError(operation string, attempts int, cause error) *ExhaustedError {
	return &ExhaustedError{
		RelayError: RelayError{
			Message: fmt.Sprintf("%s: max reconnect attempts (%d) reached", operation, attempts),
			Cause:   cause,
		},
		Attempts: attempts,
	}
}

// -----------------------------------------------------------------------------

func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
