package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"SpotLedger/internal/ledger"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const maxBodyBytes = 1 << 20

// route adapts one LedgerServer method to a gateway handler.
func route[Req, Resp any](s *GRPCServer, method string, bind func(*http.Request, map[string]string, *Req) error, call func(context.Context, *Req) (*Resp, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		defer func() {
			s.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}()

		req := new(Req)
		if bind != nil {
			if err := bind(r, params, req); err != nil {
				s.writeError(w, method, err)
				return
			}
		}
		resp, err := call(r.Context(), req)
		if err != nil {
			s.writeError(w, method, s.logged(method, err))
			return
		}
		s.metrics.QueryRequests.WithLabelValues(method, strconv.Itoa(http.StatusOK)).Inc()
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *GRPCServer) writeError(w http.ResponseWriter, method string, err error) {
	body := errorBody(err)
	code := httpStatus(body.Code)
	s.metrics.QueryRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body into req. An empty body leaves req as is.
func decodeBody[Req any](r *http.Request, req *Req) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
		return ledger.Errorf(ledger.CodeInvalidRequest, "malformed body: %v", err)
	}
	return nil
}

func body[Req any](r *http.Request, _ map[string]string, req *Req) error {
	return decodeBody(r, req)
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ledger.Errorf(ledger.CodeInvalidRequest, "invalid %s %q", name, raw)
	}
	return n, nil
}

// HTTPHandler returns the gateway mux with the health endpoints mounted.
func (s *GRPCServer) HTTPHandler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	svc := s.service

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{"GET", "/v1/balances/{user_id}", route(s, "ListBalances",
			func(_ *http.Request, p map[string]string, req *ListBalancesRequest) error {
				req.UserID = p["user_id"]
				return nil
			}, svc.ListBalances)},
		{"GET", "/v1/balances/{user_id}/{asset}", route(s, "GetBalance",
			func(_ *http.Request, p map[string]string, req *GetBalanceRequest) error {
				req.UserID, req.Asset = p["user_id"], p["asset"]
				return nil
			}, svc.GetBalance)},
		{"GET", "/v1/balances/{user_id}/{asset}/journal", route(s, "ListJournal",
			func(r *http.Request, p map[string]string, req *ListJournalRequest) error {
				req.UserID, req.Asset = p["user_id"], p["asset"]
				cursor, err := queryInt(r, "cursor")
				if err != nil {
					return err
				}
				limit, err := queryInt(r, "limit")
				if err != nil {
					return err
				}
				req.Cursor, req.Limit = cursor, int(limit)
				return nil
			}, svc.ListJournal)},
		{"POST", "/v1/deposits", route(s, "Deposit", body[DepositRequest], svc.Deposit)},
		{"POST", "/v1/withdrawals", route(s, "Withdraw", body[WithdrawRequest], svc.Withdraw)},
		{"POST", "/v1/transfers", route(s, "Transfer", body[TransferRequest], svc.Transfer)},
		{"POST", "/v1/holds", route(s, "Reserve", body[HoldRequest], svc.Reserve)},
		{"POST", "/v1/holds/release", route(s, "Release", body[HoldRequest], svc.Release)},
		{"POST", "/v1/holds/capture", route(s, "Capture", body[HoldRequest], svc.Capture)},
		{"GET", "/v1/holds/{user_id}", route(s, "ListHolds",
			func(r *http.Request, p map[string]string, req *ListHoldsRequest) error {
				req.UserID = p["user_id"]
				req.Status = r.URL.Query().Get("status")
				limit, err := queryInt(r, "limit")
				req.Limit = int(limit)
				return err
			}, svc.ListHolds)},
		{"POST", "/v1/orders", route(s, "PlaceOrder", body[PlaceOrderRequest], svc.PlaceOrder)},
		{"GET", "/v1/orders/{order_id}", route(s, "GetOrder",
			func(_ *http.Request, p map[string]string, req *GetOrderRequest) error {
				req.OrderID = p["order_id"]
				return nil
			}, svc.GetOrder)},
		{"POST", "/v1/orders/{order_id}/cancel", route(s, "CancelOrder",
			func(r *http.Request, p map[string]string, req *CancelOrderRequest) error {
				if err := decodeBody(r, req); err != nil {
					return err
				}
				req.OrderID = p["order_id"]
				return nil
			}, svc.CancelOrder)},
		{"POST", "/v1/orders/{order_id}/fills", route(s, "FillOrder",
			func(r *http.Request, p map[string]string, req *FillOrderRequest) error {
				if err := decodeBody(r, req); err != nil {
					return err
				}
				req.OrderID = p["order_id"]
				return nil
			}, svc.FillOrder)},
		{"GET", "/v1/admin/integrity", route[VerifyIntegrityRequest](s, "VerifyIntegrity", nil, svc.VerifyIntegrity)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}
