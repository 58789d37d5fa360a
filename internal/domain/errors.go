package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures.
type ErrorKind string

const (
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindFormat    ErrorKind = "format"
	ErrorKindDecode    ErrorKind = "decode"
	ErrorKindProtocol  ErrorKind = "protocol"
)

// Error is a classified engine error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func TransportError(op string, err error) error {
	return &Error{Kind: ErrorKindTransport, Op: op, Err: err}
}

func FormatError(op string, err error) error {
	return &Error{Kind: ErrorKindFormat, Op: op, Err: err}
}

func DecodeError(op string, err error) error {
	return &Error{Kind: ErrorKindDecode, Op: op, Err: err}
}

func ProtocolError(op string, err error) error {
	return &Error{Kind: ErrorKindProtocol, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// Describe maps an error to a short human-readable status for callers that present UI.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case ErrorKindTransport:
		return "Connection failed"
	case ErrorKindFormat:
		return "Microphone unavailable"
	case ErrorKindDecode:
		return "Audio glitch"
	case ErrorKindProtocol:
		return "Unexpected server message"
	default:
		return "Unknown error"
	}
}
