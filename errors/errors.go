package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/c360/networker/pkg/retry"
)

// ErrorClass tells a caller whether to retry, fix its input, or stop
type ErrorClass int

const (
	// ErrorTransient covers no responders, timeouts and peers that left mid-call
	ErrorTransient ErrorClass = iota
	// ErrorInvalid covers bad tokens, payloads and configuration
	ErrorInvalid
	// ErrorFatal covers role violations and routers used outside their lifecycle
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Router lifecycle
var (
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("router not started")
	ErrShuttingDown   = errors.New("router shutting down")
)

// Transport state reported by the NATS client and the memory bus
var (
	ErrConnectionLost    = errors.New("transport connection lost")
	ErrConnectionTimeout = errors.New("transport connection timeout")
	ErrCircuitOpen       = errors.New("transport circuit breaker open")
)

// Payloads and settings
var (
	// ErrInvalidData marks a message body that failed to decode or validate
	ErrInvalidData = errors.New("invalid payload")
	// ErrInvalidConfig marks a token, timeout or option the router rejects
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMissingConfig marks a handle or component used before it was set up
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError carries the class plus the component and operation that failed
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient reports whether retrying the call that produced err may succeed.
// Unclassified errors fall back to sentinel and message matching so raw NATS
// errors count too.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable", "no responders"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal reports a role violation or lifecycle misuse
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrMissingConfig)
}

// IsInvalid reports input the router or a remote callback rejected
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) || errors.Is(err, ErrInvalidConfig)
}

// Classify returns the class of err; anything not fatal or invalid is transient
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap prefixes err with "component.method: action failed:" and leaves it
// unclassified
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient is Wrap plus the transient class
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal is Wrap plus the fatal class
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid is Wrap plus the invalid class
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// ForRetry adapts err for use inside retry.Do: transient errors are returned
// unchanged, anything else is marked non-retryable so the loop stops.
func ForRetry(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return retry.NonRetryable(err)
}
