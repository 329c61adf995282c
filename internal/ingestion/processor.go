package ingestion

import (
	"context"
	"fmt"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/price"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Ledger is the part of the reservation engine fed by the bus.
// *core.Engine satisfies it.
type Ledger interface {
	Deposit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.Balance, error)
	Withdraw(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.Balance, error)
}

// Outcome is how one inbound message was disposed of.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeRejected  Outcome = "rejected"  // business error, acked
	OutcomeMalformed Outcome = "malformed" // unparseable, acked
	OutcomeRetry     Outcome = "retry"     // infrastructure error, nak'ed
)

// Acked reports whether the message is settled and must not be redelivered.
func (o Outcome) Acked() bool { return o != OutcomeRetry }

// Processor turns raw bus messages into engine calls and price updates.
type Processor struct {
	ledger  Ledger
	prices  price.Sink
	dedup   *Deduplicator
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewProcessor(l Ledger, prices price.Sink, dedup *Deduplicator, metrics *observability.Metrics, log zerolog.Logger) *Processor {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Processor{
		ledger:  l,
		prices:  prices,
		dedup:   dedup,
		metrics: metrics,
		log:     log,
	}
}

// Run drains in until ctx is canceled or in is closed, acking or nak'ing
// every message according to its outcome.
func (p *Processor) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			p.metrics.SetChannelMetrics("ingest", len(in), cap(in))
			if p.Handle(ctx, raw).Acked() {
				raw.ack()
			} else {
				raw.nak()
			}
		}
	}
}

// Handle processes one message and returns its outcome. It never acks.
func (p *Processor) Handle(ctx context.Context, raw RawEvent) Outcome {
	evt, err := ParseRawEvent(raw, raw.EventType)
	if err != nil {
		p.log.Error().Err(err).Str("subject", raw.Subject).Msg("dropping malformed message")
		return p.done(raw.EventType, OutcomeMalformed)
	}

	var out Outcome
	switch e := evt.(type) {
	case *event.DepositRequested:
		ref := ledger.NewRef(ledger.RefDeposit, e.DepositID)
		out = p.apply(ctx, raw.EventType, ledger.EntryDeposit, ref, func() error {
			_, err := p.ledger.Deposit(ctx, e.UserID, e.Asset, e.Amount, ref)
			return err
		})
	case *event.WithdrawalRequested:
		ref := ledger.NewRef(ledger.RefWithdrawal, e.WithdrawalID)
		out = p.apply(ctx, raw.EventType, ledger.EntryWithdraw, ref, func() error {
			_, err := p.ledger.Withdraw(ctx, e.UserID, e.Asset, e.Amount, ref)
			return err
		})
	case *event.PriceUpdate:
		out = p.applyPrice(ctx, e)
	default:
		p.log.Error().Str("type", fmt.Sprintf("%T", evt)).Msg("no handler for event")
		out = OutcomeMalformed
	}
	return p.done(raw.EventType, out)
}

func (p *Processor) done(eventType string, out Outcome) Outcome {
	p.metrics.IngestMessages.WithLabelValues(eventType, string(out)).Inc()
	return out
}

func (p *Processor) apply(ctx context.Context, eventType string, kind ledger.EntryKind, ref ledger.Ref, fn func() error) Outcome {
	if p.dedup != nil && p.dedup.IsDuplicate(ctx, eventType, kind, ref) {
		return OutcomeDuplicate
	}
	if err := fn(); err != nil {
		if ledger.IsBusiness(err) {
			p.log.Warn().
				Err(err).
				Str("ref", ref.String()).
				Str("code", string(ledger.CodeOf(err))).
				Msg("inbound request rejected")
			// Rejections are final; don't ask the store again on redelivery.
			if p.dedup != nil {
				p.dedup.MarkProcessed(kind, ref)
			}
			return OutcomeRejected
		}
		p.log.Error().Err(err).Str("ref", ref.String()).Msg("inbound request failed, will retry")
		return OutcomeRetry
	}
	if p.dedup != nil {
		p.dedup.MarkProcessed(kind, ref)
	}
	return OutcomeApplied
}

func (p *Processor) applyPrice(ctx context.Context, u *event.PriceUpdate) Outcome {
	if p.prices == nil {
		return OutcomeRejected
	}
	applied, err := p.prices.Update(ctx, *u)
	switch {
	case err != nil && ledger.IsBusiness(err):
		p.log.Warn().Err(err).Str("symbol", u.Symbol).Msg("price update rejected")
		return OutcomeRejected
	case err != nil:
		p.log.Error().Err(err).Str("symbol", u.Symbol).Msg("price update failed, will retry")
		return OutcomeRetry
	case !applied:
		return OutcomeStale
	}
	return OutcomeApplied
}
