package core

import "github.com/vovakirdan/relaychat/internal/errs"

// CoreError wraps a code and human-readable message sent back to a client.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// toCoreError converts an internal error into its client facing form.
// Store failures are reported without their cause.
func toCoreError(err error) *CoreError {
	code := errs.Code(err)
	switch code {
	case errs.CodeStore:
		return coreError(code, "message could not be stored")
	case errs.CodeInternal:
		return coreError(code, "internal error")
	default:
		return coreError(code, err.Error())
	}
}
