// Package errors provides coded, field-carrying errors used across mathagent.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode classifies an error.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	InvalidInput
	InvalidResponse
	ResourceNotFound
	ValidationFailed
	LLMGenerationFailed
	RateLimitExceeded
	ToolExecutionFailed
	ConfigurationError
	Canceled
)

var codeNames = map[ErrorCode]string{
	Unknown:             "Unknown",
	InvalidInput:        "InvalidInput",
	InvalidResponse:     "InvalidResponse",
	ResourceNotFound:    "ResourceNotFound",
	ValidationFailed:    "ValidationFailed",
	LLMGenerationFailed: "LLMGenerationFailed",
	RateLimitExceeded:   "RateLimitExceeded",
	ToolExecutionFailed: "ToolExecutionFailed",
	ConfigurationError:  "ConfigurationError",
	Canceled:            "Canceled",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Fields carries structured context attached to an error.
type Fields map[string]any

// Error is the concrete error type returned by mathagent packages.
type Error struct {
	code     ErrorCode
	message  string
	original error
	fields   Fields
}

// New creates an error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{code: code, message: message}
}

// Errorf creates an error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a code and message. Returns nil when err is nil.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, message: message, original: err}
}

// WithFields attaches fields to err. If err is not an *Error it is wrapped
// with the Unknown code first.
func WithFields(err error, fields Fields) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		e = &Error{code: Code(err), original: err}
	}
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Error{code: e.code, message: e.message, original: e.original, fields: merged}
}

func (e *Error) Error() string {
	switch {
	case e.original == nil:
		return e.message
	case e.message == "":
		return e.original.Error()
	default:
		return e.message + ": " + e.original.Error()
	}
}

// Detailed renders the error together with its code and sorted fields.
func (e *Error) Detailed() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.code, e.Error())
	if len(e.fields) > 0 {
		keys := make([]string, 0, len(e.fields))
		for k := range e.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, e.fields[k])
		}
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.original }

// Code returns the error code.
func (e *Error) Code() ErrorCode { return e.code }

// Message returns the message without the wrapped cause.
func (e *Error) Message() string { return e.message }

// Fields returns a copy of the attached fields.
func (e *Error) Fields() Fields {
	out := make(Fields, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// Is matches another *Error with the same code and message, which lets
// package-level sentinels created with New be compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code && e.message == t.message
}

// Code extracts the code of the outermost *Error in err's chain.
func Code(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.code
	}
	return Unknown
}

// HasCode reports whether err carries code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && Code(err) == code
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
