package usecase

import (
	"errors"
	"fmt"
)

type HTTPError struct {
	Status  int
	Message string
	//次に満たすべき前提条件（業務ルール違反のとき）
	Precondition string
}

func (e *HTTPError) Error() string {
	if e.Precondition != "" {
		return fmt.Sprintf("%d: %s (%s)", e.Status, e.Message, e.Precondition)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func NewPreconditionError(status int, message string, precondition string) error {
	return &HTTPError{
		Status:       status,
		Message:      message,
		Precondition: precondition,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// 台帳まわり
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidEntryType    = errors.New("invalid ledger entry type")
)
