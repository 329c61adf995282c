package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"SpotLedger/internal/ledger"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorDomain tags the ErrorInfo detail carrying the ledger code.
const errorDomain = "spotledger"

// ErrorBody is the HTTP error payload.
type ErrorBody struct {
	Code    ledger.Code `json:"code"`
	Message string      `json:"message"`
}

func grpcCode(code ledger.Code) codes.Code {
	switch code {
	case ledger.CodeInvalidAmount, ledger.CodeInvalidRequest:
		return codes.InvalidArgument
	case ledger.CodeInsufficientBalance, ledger.CodeInvalidOrder:
		return codes.FailedPrecondition
	case ledger.CodeHoldNotFound, ledger.CodeOrderNotFound:
		return codes.NotFound
	case ledger.CodePriceUnavailable:
		return codes.Unavailable
	case ledger.CodeConcurrentModification, ledger.CodeConcurrencyExhausted:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

func httpStatus(code ledger.Code) int {
	switch code {
	case ledger.CodeInvalidAmount, ledger.CodeInvalidRequest:
		return http.StatusBadRequest
	case ledger.CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case ledger.CodeHoldNotFound, ledger.CodeOrderNotFound:
		return http.StatusNotFound
	case ledger.CodeInvalidOrder, ledger.CodeConcurrentModification, ledger.CodeConcurrencyExhausted:
		return http.StatusConflict
	case ledger.CodePriceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody classifies err. Internal failures never leak their message.
func errorBody(err error) ErrorBody {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorBody{Code: ledger.CodeInternal, Message: err.Error()}
	}
	code := ledger.CodeOf(err)
	if code == ledger.CodeInternal {
		return ErrorBody{Code: code, Message: "internal error"}
	}
	return ErrorBody{Code: code, Message: message(err, code)}
}

// message strips the "CODE: " prefix ledger errors carry in Error().
func message(err error, code ledger.Code) string {
	var le *ledger.Error
	if errors.As(err, &le) {
		return le.Message
	}
	return strings.TrimPrefix(err.Error(), string(code)+": ")
}

// toStatus converts a ledger error into a gRPC status with an ErrorInfo
// detail whose Reason is the ledger code.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	body := errorBody(err)
	st := status.New(grpcCode(body.Code), body.Message)
	if withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: string(body.Code),
		Domain: errorDomain,
	}); derr == nil {
		st = withInfo
	}
	return st.Err()
}

// FromStatus recovers the ledger error carried by a gRPC status error, so
// callers can match it with errors.Is against the ledger sentinels.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == errorDomain {
			return &ledger.Error{Code: ledger.Code(info.Reason), Message: st.Message()}
		}
	}
	return err
}
