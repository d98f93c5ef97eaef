// Package errs defines the error taxonomy shared by the store, the relay engine and the transport.
package errs

import (
	"errors"
	"fmt"
	"strconv"
)

// Wire codes reported to clients in error envelopes.
const (
	CodeValidation    = "validation_error"
	CodeNotFound      = "not_found"
	CodeStore         = "store_error"
	CodeTransport     = "transport_error"
	CodeNotIdentified = "not_identified"
	CodeBadRequest    = "bad_request"
	CodeUnauthorized  = "unauthorized"
	CodeRateLimited   = "rate_limited"
	CodeUnsupported   = "unsupported_version"
	CodeInternal      = "internal_error"
)

var (
	// ErrSlowConsumer is returned when a connection's outbound buffer is full.
	ErrSlowConsumer = errors.New("outbound buffer full")
	// ErrConnectionClosed is returned when delivering to a connection that already went away.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotIdentified is returned for commands that need a connected identity.
	ErrNotIdentified = errors.New("connection has not announced an identity")
)

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Required builds a ValidationError for an absent field.
func Required(field string) *ValidationError {
	return &ValidationError{Field: field}
}

// NotFoundError reports a reference to a message that does not exist.
type NotFoundError struct {
	MessageID int64
}

func (e *NotFoundError) Error() string {
	return "message " + strconv.FormatInt(e.MessageID, 10) + " not found"
}

// StoreError wraps a failure of the durable store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store wraps err as a StoreError unless it already carries a taxonomy type.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		nf *NotFoundError
		se *StoreError
	)
	if errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// TransportError reports a failed delivery to a connection believed to be online.
type TransportError struct {
	ClientID string
	Err      error
}

func (e *TransportError) Error() string {
	return "deliver to " + e.ClientID + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Code maps an error onto its wire code.
func Code(err error) string {
	var (
		ve *ValidationError
		nf *NotFoundError
		se *StoreError
		te *TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.Is(err, ErrNotIdentified):
		return CodeNotIdentified
	case errors.As(err, &se):
		return CodeStore
	case errors.As(err, &te):
		return CodeTransport
	default:
		return CodeInternal
	}
}
