package order

import (
	"SpotLedger/internal/core"
	"SpotLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// settle captures the spent side of a fill, credits the received side net
// of fee and records the trade. It runs inside the caller's unit with both
// balances of the market already locked.
//
// A BUY fill spends floor(price * quantity) of the quote hold; the final
// fill spends whatever the hold still carries so no dust stays locked.
func (c *Controller) settle(u *core.Unit, m ledger.Market, o ledger.Order, fillID uuid.UUID, qty, px decimal.Decimal) (ledger.Order, ledger.Trade, error) {
	ref := o.Ref()
	final := qty.Equal(o.Remaining())
	total := px.Mul(qty).Truncate(m.Quote.Scale)
	feeUSD := total.Mul(c.feeRate).RoundCeil(m.Quote.Scale)

	var (
		spent     decimal.Decimal
		recvAsset string
		recv      decimal.Decimal
	)
	switch o.Side {
	case ledger.SideBuy:
		spent = total
		if final {
			h, err := u.Tx().FindHold(u.Context(), ref, o.ReservedAsset, ledger.HoldActive)
			if err != nil {
				return ledger.Order{}, ledger.Trade{}, err
			}
			if h == nil {
				return ledger.Order{}, ledger.Trade{}, ledger.Errorf(ledger.CodeHoldNotFound, "no active hold for %s", ref)
			}
			spent = h.Amount
			total = spent
			feeUSD = total.Mul(c.feeRate).RoundCeil(m.Quote.Scale)
		}
		recvAsset = m.Base.Symbol
		recv = qty.Sub(qty.Mul(c.feeRate).RoundCeil(m.Base.Scale))
	case ledger.SideSell:
		spent = qty
		recvAsset = m.Quote.Symbol
		recv = total.Sub(feeUSD)
	}
	if !spent.IsPositive() || !total.IsPositive() {
		return ledger.Order{}, ledger.Trade{}, ledger.Errorf(ledger.CodeInvalidAmount,
			"fill %s at %s is below %s precision", qty, px, m.Quote.Symbol)
	}

	if _, err := u.CapturePartial(o.UserID, o.ReservedAsset, spent, ref); err != nil {
		return ledger.Order{}, ledger.Trade{}, err
	}
	if recv.IsPositive() {
		if _, err := u.Deposit(o.UserID, recvAsset, recv, ledger.NewRef(ledger.RefFill, fillID)); err != nil {
			return ledger.Order{}, ledger.Trade{}, err
		}
	}

	tr, err := u.Tx().InsertTrade(u.Context(), ledger.Trade{
		ID:       uuid.New(),
		OrderID:  o.ID,
		FillID:   fillID,
		UserID:   o.UserID,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: qty,
		PriceUSD: px,
		TotalUSD: total,
		FeeUSD:   feeUSD,
	})
	if err != nil {
		return ledger.Order{}, ledger.Trade{}, err
	}

	o.FilledAmount = o.FilledAmount.Add(qty)
	o.Status = ledger.OrderPartiallyFilled
	if final {
		o.Status = ledger.OrderFilled
	}
	o, err = u.Tx().UpdateOrder(u.Context(), o, o.Version)
	if err != nil {
		return ledger.Order{}, ledger.Trade{}, err
	}
	return o, tr, nil
}
