package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a domain error so callers can branch with
// errors.Is/errors.As instead of matching message strings.
type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeFailedPrecond    ErrorCode = "FAILED_PRECONDITION"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInternal         ErrorCode = "INTERNAL"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
)

// Error is the gateway's uniform error envelope.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// E constructs a new domain error.
func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Op: op, Message: msg, Cause: cause}
}

// Wrap attaches op/code to err, preserving an existing *Error's code if
// the error is already one of ours.
func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{Code: existing.Code, Op: op, Message: existing.Message, Cause: existing.Cause}
	}
	return E(code, op, "", err)
}

// CodeFrom extracts the ErrorCode from err, if any.
func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	return "", false
}

// Sentinel errors for conditions that do not always need a full *Error.
var (
	ErrServerNotFound      = errors.New("server not found")
	ErrServerDisabled      = errors.New("server disabled")
	ErrToolNotAllowed      = errors.New("tool not permitted by allow-list")
	ErrToolNotFound        = errors.New("tool not found in catalog")
	ErrValidationFailed    = errors.New("validation failed")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrConnectAttemptFailed = errors.New("connect attempt failed")
	ErrSandboxTimeout      = errors.New("sandbox timed out")
	ErrSandboxCodeTooLarge = errors.New("sandbox code exceeds maximum length")
	ErrSandboxCodeEmpty    = errors.New("sandbox code is empty")
)
