package server

import (
	"context"
	"strings"

	"SpotLedger/internal/core"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/order"
	"SpotLedger/internal/query"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
)

const ServiceName = "spotledger.v1.Ledger"

// LedgerServer is the server API for spotledger.v1.Ledger. Methods return
// ledger errors; the transport maps them to gRPC codes or HTTP statuses.
type LedgerServer interface {
	GetBalance(context.Context, *GetBalanceRequest) (*query.BalanceResponse, error)
	ListBalances(context.Context, *ListBalancesRequest) (*BalanceList, error)
	Deposit(context.Context, *DepositRequest) (*query.BalanceResponse, error)
	Withdraw(context.Context, *WithdrawRequest) (*query.BalanceResponse, error)
	Transfer(context.Context, *TransferRequest) (*TransferResponse, error)
	Reserve(context.Context, *HoldRequest) (*query.HoldResponse, error)
	Release(context.Context, *HoldRequest) (*ReleaseResponse, error)
	Capture(context.Context, *HoldRequest) (*query.HoldResponse, error)
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*query.OrderResponse, error)
	FillOrder(context.Context, *FillOrderRequest) (*query.TradeResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*query.OrderResponse, error)
	ListHolds(context.Context, *ListHoldsRequest) (*HoldList, error)
	ListJournal(context.Context, *ListJournalRequest) (*query.JournalPage, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
}

// unary builds the method descriptor for one RPC.
func unary[Req, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LedgerServiceDesc is the grpc.ServiceDesc for spotledger.v1.Ledger.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetBalance", LedgerServer.GetBalance),
		unary("ListBalances", LedgerServer.ListBalances),
		unary("Deposit", LedgerServer.Deposit),
		unary("Withdraw", LedgerServer.Withdraw),
		unary("Transfer", LedgerServer.Transfer),
		unary("Reserve", LedgerServer.Reserve),
		unary("Release", LedgerServer.Release),
		unary("Capture", LedgerServer.Capture),
		unary("PlaceOrder", LedgerServer.PlaceOrder),
		unary("CancelOrder", LedgerServer.CancelOrder),
		unary("FillOrder", LedgerServer.FillOrder),
		unary("GetOrder", LedgerServer.GetOrder),
		unary("ListHolds", LedgerServer.ListHolds),
		unary("ListJournal", LedgerServer.ListJournal),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spotledger/v1/ledger.json",
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// ============================================================================
// LedgerService
// ============================================================================

// LedgerService implements LedgerServer over the engine, the order
// controller and the query service.
type LedgerService struct {
	engine *core.Engine
	orders *order.Controller
	query  *query.QueryService
}

func NewLedgerService(engine *core.Engine, orders *order.Controller, qs *query.QueryService) *LedgerService {
	return &LedgerService{engine: engine, orders: orders, query: qs}
}

var _ LedgerServer = (*LedgerService)(nil)

func (s *LedgerService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*query.BalanceResponse, error) {
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	return s.query.GetBalance(ctx, userID, req.Asset)
}

func (s *LedgerService) ListBalances(ctx context.Context, req *ListBalancesRequest) (*BalanceList, error) {
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	balances, err := s.query.ListBalances(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceList{Balances: balances}, nil
}

func (s *LedgerService) Deposit(ctx context.Context, req *DepositRequest) (*query.BalanceResponse, error) {
	userID, asset, ref, err := cashArgs(req, ledger.RefDeposit)
	if err != nil {
		return nil, err
	}
	b, err := s.engine.Deposit(ctx, userID, asset, req.Amount, ref)
	if err != nil {
		return nil, err
	}
	resp := query.NewBalanceResponse(b)
	return &resp, nil
}

func (s *LedgerService) Withdraw(ctx context.Context, req *WithdrawRequest) (*query.BalanceResponse, error) {
	userID, asset, ref, err := cashArgs((*DepositRequest)(req), ledger.RefWithdrawal)
	if err != nil {
		return nil, err
	}
	b, err := s.engine.Withdraw(ctx, userID, asset, req.Amount, ref)
	if err != nil {
		return nil, err
	}
	resp := query.NewBalanceResponse(b)
	return &resp, nil
}

func cashArgs(req *DepositRequest, refType string) (uuid.UUID, string, ledger.Ref, error) {
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return uuid.Nil, "", ledger.Ref{}, err
	}
	asset, err := parseAsset(req.Asset, req.Amount)
	if err != nil {
		return uuid.Nil, "", ledger.Ref{}, err
	}
	var ref ledger.Ref
	if req.RefID != "" {
		id, err := parseID("ref_id", req.RefID)
		if err != nil {
			return uuid.Nil, "", ledger.Ref{}, err
		}
		ref = ledger.NewRef(refType, id)
	}
	return userID, asset, ref, nil
}

func (s *LedgerService) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	from, err := parseID("from_user_id", req.FromUserID)
	if err != nil {
		return nil, err
	}
	to, err := parseID("to_user_id", req.ToUserID)
	if err != nil {
		return nil, err
	}
	asset, err := parseAsset(req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	var ref ledger.Ref
	if req.TransferID != "" {
		id, err := parseID("transfer_id", req.TransferID)
		if err != nil {
			return nil, err
		}
		ref = ledger.NewRef(ledger.RefTransfer, id)
	}
	fromB, toB, err := s.engine.Transfer(ctx, from, to, asset, req.Amount, ref)
	if err != nil {
		return nil, err
	}
	return &TransferResponse{From: query.NewBalanceResponse(fromB), To: query.NewBalanceResponse(toB)}, nil
}

func holdArgs(req *HoldRequest) (uuid.UUID, string, ledger.Ref, error) {
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return uuid.Nil, "", ledger.Ref{}, err
	}
	asset, err := parseAsset(req.Asset, req.Amount)
	if err != nil {
		return uuid.Nil, "", ledger.Ref{}, err
	}
	refID, err := parseID("ref_id", req.RefID)
	if err != nil {
		return uuid.Nil, "", ledger.Ref{}, err
	}
	ref := ledger.NewRef(strings.ToUpper(strings.TrimSpace(req.RefType)), refID)
	if err := ref.Validate(); err != nil {
		return uuid.Nil, "", ledger.Ref{}, err
	}
	return userID, asset, ref, nil
}

func (s *LedgerService) Reserve(ctx context.Context, req *HoldRequest) (*query.HoldResponse, error) {
	userID, asset, ref, err := holdArgs(req)
	if err != nil {
		return nil, err
	}
	h, err := s.engine.Reserve(ctx, userID, asset, req.Amount, ref)
	if err != nil {
		return nil, err
	}
	resp := query.NewHoldResponse(h)
	return &resp, nil
}

func (s *LedgerService) Release(ctx context.Context, req *HoldRequest) (*ReleaseResponse, error) {
	userID, asset, ref, err := holdArgs(req)
	if err != nil {
		return nil, err
	}
	h, err := s.engine.Release(ctx, userID, asset, req.Amount, ref)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return &ReleaseResponse{}, nil
	}
	resp := query.NewHoldResponse(*h)
	return &ReleaseResponse{Released: true, Hold: &resp}, nil
}

func (s *LedgerService) Capture(ctx context.Context, req *HoldRequest) (*query.HoldResponse, error) {
	userID, asset, ref, err := holdArgs(req)
	if err != nil {
		return nil, err
	}
	h, err := s.engine.CaptureReserved(ctx, userID, asset, req.Amount, ref)
	if err != nil {
		return nil, err
	}
	resp := query.NewHoldResponse(h)
	return &resp, nil
}

func (s *LedgerService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	var orderID uuid.UUID
	if req.OrderID != "" {
		if orderID, err = parseID("order_id", req.OrderID); err != nil {
			return nil, err
		}
	}
	pr := order.PlaceRequest{
		OrderID: orderID,
		UserID:  userID,
		Symbol:  strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:    ledger.Side(strings.ToUpper(req.Side)),
		Type:    ledger.OrderType(strings.ToUpper(req.Type)),
		Amount:  req.Amount,
	}
	if req.Price != nil {
		pr.Price = decimal.NewNullDecimal(*req.Price)
	}

	res, err := s.orders.PlaceOrder(ctx, pr)
	if err != nil {
		return nil, err
	}
	out := &PlaceOrderResponse{
		Hold: query.NewHoldResponse(res.Hold),
	}
	var trades []ledger.Trade
	if res.Trade != nil {
		trades = []ledger.Trade{*res.Trade}
		tr := query.NewTradeResponse(*res.Trade)
		out.Trade = &tr
	}
	out.Order = query.NewOrderResponse(res.Order, trades)
	return out, nil
}

func (s *LedgerService) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*query.OrderResponse, error) {
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	orderID, err := parseID("order_id", req.OrderID)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.CancelOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	resp := query.NewOrderResponse(o, nil)
	return &resp, nil
}

func (s *LedgerService) FillOrder(ctx context.Context, req *FillOrderRequest) (*query.TradeResponse, error) {
	orderID, err := parseID("order_id", req.OrderID)
	if err != nil {
		return nil, err
	}
	fillID, err := parseID("fill_id", req.FillID)
	if err != nil {
		return nil, err
	}
	t, err := s.orders.FillOrder(ctx, orderID, fillID, req.Quantity)
	if err != nil {
		return nil, err
	}
	resp := query.NewTradeResponse(t)
	return &resp, nil
}

func (s *LedgerService) GetOrder(ctx context.Context, req *GetOrderRequest) (*query.OrderResponse, error) {
	orderID, err := parseID("order_id", req.OrderID)
	if err != nil {
		return nil, err
	}
	return s.query.GetOrder(ctx, orderID)
}

func (s *LedgerService) ListHolds(ctx context.Context, req *ListHoldsRequest) (*HoldList, error) {
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	holds, err := s.query.ListHolds(ctx, userID, req.Status, req.Limit)
	if err != nil {
		return nil, err
	}
	return &HoldList{Holds: holds}, nil
}

func (s *LedgerService) ListJournal(ctx context.Context, req *ListJournalRequest) (*query.JournalPage, error) {
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	return s.query.GetJournalHistory(ctx, userID, req.Asset, req.Limit, req.Cursor)
}

func (s *LedgerService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	return s.query.VerifyIntegrity(ctx)
}

// ============================================================================
// Helpers
// ============================================================================

func parseID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, ledger.Errorf(ledger.CodeInvalidRequest, "%s is required", field)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, ledger.Errorf(ledger.CodeInvalidRequest, "invalid %s: %v", field, err)
	}
	return id, nil
}

// parseAsset normalizes the symbol and checks amount against its scale
// before the engine sees either.
func parseAsset(s string, amount decimal.Decimal) (string, error) {
	asset := strings.ToUpper(strings.TrimSpace(s))
	if asset == "" {
		return "", ledger.Errorf(ledger.CodeInvalidRequest, "asset is required")
	}
	if _, err := ledger.LookupAmount(asset, amount); err != nil {
		return "", err
	}
	return asset, nil
}
