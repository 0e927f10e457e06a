package shop

import "fmt"

type ErrorCode string

const (
	SHOP_ERR_INVALID_PRODUCT    ErrorCode = "SHOP_ERR_INVALID_PRODUCT"
	SHOP_ERR_PURCHASE_PENDING   ErrorCode = "SHOP_ERR_PURCHASE_PENDING"
	SHOP_ERR_RECEIPT_INVALID    ErrorCode = "SHOP_ERR_RECEIPT_INVALID"
	SHOP_ERR_TRANSACTION_FAILED ErrorCode = "SHOP_ERR_TRANSACTION_FAILED"
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

// Is matches any *Error with the same code, so errors.Is(err, ErrReceiptInvalid)
// holds regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.Code == t.Code
}

var (
	ErrInvalidProduct    = &Error{Code: SHOP_ERR_INVALID_PRODUCT}
	ErrPurchasePending   = &Error{Code: SHOP_ERR_PURCHASE_PENDING}
	ErrReceiptInvalid    = &Error{Code: SHOP_ERR_RECEIPT_INVALID}
	ErrTransactionFailed = &Error{Code: SHOP_ERR_TRANSACTION_FAILED}
)

func shopErr(code ErrorCode, msg string) error {
	return &Error{Code: code, Msg: msg}
}

func shopWrap(code ErrorCode, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Err: err}
}
