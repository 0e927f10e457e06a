package receipt

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	RECEIPT_ERR_UNAVAILABLE       ErrorCode = "RECEIPT_ERR_UNAVAILABLE"
	RECEIPT_ERR_MALFORMED         ErrorCode = "RECEIPT_ERR_MALFORMED"
	RECEIPT_ERR_SIGNATURE_INVALID ErrorCode = "RECEIPT_ERR_SIGNATURE_INVALID"
	RECEIPT_ERR_MISSING_FIELD     ErrorCode = "RECEIPT_ERR_MISSING_FIELD"
	RECEIPT_ERR_BUNDLE_MISMATCH   ErrorCode = "RECEIPT_ERR_BUNDLE_MISMATCH"
	RECEIPT_ERR_HASH_MISMATCH     ErrorCode = "RECEIPT_ERR_HASH_MISMATCH"
	RECEIPT_ERR_DEVICE_ID         ErrorCode = "RECEIPT_ERR_DEVICE_ID"
)

type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Code)
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func rerr(code ErrorCode, msg string) error {
	return &Error{Code: code, Msg: msg}
}

func rwrap(code ErrorCode, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
