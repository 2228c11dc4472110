package types

import "errors"

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotFound             = errors.New("not found")
	ErrDuplicatePair        = errors.New("duplicate pair")
	ErrDCAConfig            = errors.New("dca config error")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Error is a rejected precondition. Kind is one of the sentinels above and is
// matched with errors.Is; Message is what callers see.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func NewError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

func InvalidArgument(message string) error {
	return NewError(ErrInvalidArgument, message)
}

func NotFound(message string) error {
	return NewError(ErrNotFound, message)
}

func DCAConfigError(message string) error {
	return NewError(ErrDCAConfig, message)
}

func Unauthorized(message string) error {
	return NewError(ErrUnauthorized, message)
}
