package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"SpotLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		code ledger.Code
		grpc codes.Code
		http int
	}{
		{ledger.CodeInvalidAmount, codes.InvalidArgument, http.StatusBadRequest},
		{ledger.CodeInvalidRequest, codes.InvalidArgument, http.StatusBadRequest},
		{ledger.CodeInsufficientBalance, codes.FailedPrecondition, http.StatusUnprocessableEntity},
		{ledger.CodeHoldNotFound, codes.NotFound, http.StatusNotFound},
		{ledger.CodeOrderNotFound, codes.NotFound, http.StatusNotFound},
		{ledger.CodeInvalidOrder, codes.FailedPrecondition, http.StatusConflict},
		{ledger.CodePriceUnavailable, codes.Unavailable, http.StatusServiceUnavailable},
		{ledger.CodeConcurrencyExhausted, codes.Aborted, http.StatusConflict},
		{ledger.CodeInternal, codes.Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.grpc, grpcCode(tc.code))
			assert.Equal(t, tc.http, httpStatus(tc.code))
		})
	}
}

func TestErrorBody(t *testing.T) {
	body := errorBody(fmt.Errorf("place order: %w", ledger.Errorf(ledger.CodeInvalidOrder, "order is FILLED")))
	assert.Equal(t, ledger.CodeInvalidOrder, body.Code)
	assert.Equal(t, "order is FILLED", body.Message)

	body = errorBody(&ledger.InsufficientBalanceError{
		UserID:    uuid.Nil,
		Asset:     "BTC",
		Required:  decimal.NewFromInt(2),
		Available: decimal.NewFromInt(1),
		Reason:    ledger.ReasonAmountTooLow,
	})
	assert.Equal(t, ledger.CodeInsufficientBalance, body.Code)
	assert.Contains(t, body.Message, "required 2")

	body = errorBody(errors.New("pq: connection refused"))
	assert.Equal(t, ledger.CodeInternal, body.Code)
	assert.Equal(t, "internal error", body.Message)
}

func TestStatusRoundTrip(t *testing.T) {
	err := toStatus(ledger.Errorf(ledger.CodeHoldNotFound, "no hold for ORDER:x"))
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())
	assert.Equal(t, "no hold for ORDER:x", st.Message())

	back := FromStatus(err)
	assert.ErrorIs(t, back, ledger.ErrHoldNotFound)

	assert.Equal(t, codes.Canceled, status.Code(toStatus(context.Canceled)))

	plain := status.Error(codes.Unimplemented, "nope")
	assert.Equal(t, plain, FromStatus(plain))
	assert.NoError(t, FromStatus(nil))
}
