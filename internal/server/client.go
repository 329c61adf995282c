package server

import (
	"context"

	"SpotLedger/internal/query"

	"google.golang.org/grpc"
)

// LedgerClient is the client API for spotledger.v1.Ledger. Every call uses
// the JSON codec and returns ledger errors recovered with FromStatus.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, c *LedgerClient, method string, in *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, FromStatus(err)
	}
	return out, nil
}

func (c *LedgerClient) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*query.BalanceResponse, error) {
	return invoke[GetBalanceRequest, query.BalanceResponse](ctx, c, "GetBalance", in, opts)
}

func (c *LedgerClient) ListBalances(ctx context.Context, in *ListBalancesRequest, opts ...grpc.CallOption) (*BalanceList, error) {
	return invoke[ListBalancesRequest, BalanceList](ctx, c, "ListBalances", in, opts)
}

func (c *LedgerClient) Deposit(ctx context.Context, in *DepositRequest, opts ...grpc.CallOption) (*query.BalanceResponse, error) {
	return invoke[DepositRequest, query.BalanceResponse](ctx, c, "Deposit", in, opts)
}

func (c *LedgerClient) Withdraw(ctx context.Context, in *WithdrawRequest, opts ...grpc.CallOption) (*query.BalanceResponse, error) {
	return invoke[WithdrawRequest, query.BalanceResponse](ctx, c, "Withdraw", in, opts)
}

func (c *LedgerClient) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	return invoke[TransferRequest, TransferResponse](ctx, c, "Transfer", in, opts)
}

func (c *LedgerClient) Reserve(ctx context.Context, in *HoldRequest, opts ...grpc.CallOption) (*query.HoldResponse, error) {
	return invoke[HoldRequest, query.HoldResponse](ctx, c, "Reserve", in, opts)
}

func (c *LedgerClient) Release(ctx context.Context, in *HoldRequest, opts ...grpc.CallOption) (*ReleaseResponse, error) {
	return invoke[HoldRequest, ReleaseResponse](ctx, c, "Release", in, opts)
}

func (c *LedgerClient) Capture(ctx context.Context, in *HoldRequest, opts ...grpc.CallOption) (*query.HoldResponse, error) {
	return invoke[HoldRequest, query.HoldResponse](ctx, c, "Capture", in, opts)
}

func (c *LedgerClient) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error) {
	return invoke[PlaceOrderRequest, PlaceOrderResponse](ctx, c, "PlaceOrder", in, opts)
}

func (c *LedgerClient) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*query.OrderResponse, error) {
	return invoke[CancelOrderRequest, query.OrderResponse](ctx, c, "CancelOrder", in, opts)
}

func (c *LedgerClient) FillOrder(ctx context.Context, in *FillOrderRequest, opts ...grpc.CallOption) (*query.TradeResponse, error) {
	return invoke[FillOrderRequest, query.TradeResponse](ctx, c, "FillOrder", in, opts)
}

func (c *LedgerClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*query.OrderResponse, error) {
	return invoke[GetOrderRequest, query.OrderResponse](ctx, c, "GetOrder", in, opts)
}

func (c *LedgerClient) ListHolds(ctx context.Context, in *ListHoldsRequest, opts ...grpc.CallOption) (*HoldList, error) {
	return invoke[ListHoldsRequest, HoldList](ctx, c, "ListHolds", in, opts)
}

func (c *LedgerClient) ListJournal(ctx context.Context, in *ListJournalRequest, opts ...grpc.CallOption) (*query.JournalPage, error) {
	return invoke[ListJournalRequest, query.JournalPage](ctx, c, "ListJournal", in, opts)
}

func (c *LedgerClient) VerifyIntegrity(ctx context.Context, in *VerifyIntegrityRequest, opts ...grpc.CallOption) (*query.IntegrityReport, error) {
	return invoke[VerifyIntegrityRequest, query.IntegrityReport](ctx, c, "VerifyIntegrity", in, opts)
}
