package der

import "fmt"

type ErrorCode string

const (
	DER_ERR_MALFORMED ErrorCode = "DER_ERR_MALFORMED"
)

type Error struct {
	Code ErrorCode
	Msg  string
	// Offset is the absolute buffer offset where decoding stopped.
	Offset int
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s (offset %d)", e.Code, e.Msg, e.Offset)
}

func malformed(off int, msg string) error {
	return &Error{Code: DER_ERR_MALFORMED, Msg: msg, Offset: off}
}
