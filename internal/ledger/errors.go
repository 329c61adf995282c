package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Code is a stable, machine-readable error identifier returned to callers.
type Code string

const (
	CodeInvalidAmount          Code = "INVALID_AMOUNT"
	CodeInsufficientBalance    Code = "INSUFFICIENT_BALANCE"
	CodeHoldNotFound           Code = "HOLD_NOT_FOUND"
	CodeInvalidOrder           Code = "INVALID_ORDER"
	CodeOrderNotFound          Code = "ORDER_NOT_FOUND"
	CodePriceUnavailable       Code = "PRICE_UNAVAILABLE"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
	CodeConcurrencyExhausted   Code = "CONCURRENCY_EXHAUSTED"
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeInternal               Code = "INTERNAL"
)

// Error is a business or concurrency failure with a stable code.
// Two *Error values match under errors.Is when their codes are equal, so
// callers compare against the sentinels below regardless of message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidAmount          = &Error{Code: CodeInvalidAmount, Message: "invalid amount"}
	ErrInsufficientBalance    = &Error{Code: CodeInsufficientBalance, Message: "insufficient balance"}
	ErrHoldNotFound           = &Error{Code: CodeHoldNotFound, Message: "hold not found"}
	ErrInvalidOrder           = &Error{Code: CodeInvalidOrder, Message: "invalid order"}
	ErrOrderNotFound          = &Error{Code: CodeOrderNotFound, Message: "order not found"}
	ErrPriceUnavailable       = &Error{Code: CodePriceUnavailable, Message: "price unavailable"}
	ErrConcurrentModification = &Error{Code: CodeConcurrentModification, Message: "concurrent modification"}
	ErrConcurrencyExhausted   = &Error{Code: CodeConcurrencyExhausted, Message: "retry budget exhausted"}
	ErrInvalidRequest         = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
)

// Insufficient-balance reasons.
const (
	ReasonNoBalanceRow = "no balance row"
	ReasonAmountTooLow = "amount too low"
	ReasonLockedTooLow = "locked amount too low"
)

// InsufficientBalanceError reports which balance could not cover an amount.
type InsufficientBalanceError struct {
	UserID    uuid.UUID
	Asset     string
	Required  decimal.Decimal
	Available decimal.Decimal
	Reason    string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: %s for %s %s: required %s, available %s",
		CodeInsufficientBalance, e.Reason, e.UserID, e.Asset, e.Required, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// CodeOf extracts the stable code from err, or CodeInternal for anything
// that is not a ledger error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ib *InsufficientBalanceError
	if errors.As(err, &ib) {
		return CodeInsufficientBalance
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeInternal
}

// IsBusiness reports whether err is a caller or market condition rather than
// an infrastructure failure.
func IsBusiness(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidAmount, CodeInsufficientBalance, CodeHoldNotFound,
		CodeInvalidOrder, CodeOrderNotFound, CodePriceUnavailable, CodeInvalidRequest:
		return true
	}
	return false
}

// RequirePositive rejects zero and negative amounts.
func RequirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Errorf(CodeInvalidAmount, "amount must be > 0, got %s", amount)
	}
	return nil
}
