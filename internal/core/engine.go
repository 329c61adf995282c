package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultMaxAttempts bounds how often a unit is re-run after a concurrent
// modification before the caller sees ErrConcurrencyExhausted.
const DefaultMaxAttempts = 3

// Engine is the reservation engine. Every public operation runs as one
// atomic unit against the store; units on different balances run in
// parallel, units on the same balance serialize on its row lock.
type Engine struct {
	store       ledger.Store
	notifier    Notifier
	metrics     *observability.Metrics
	log         zerolog.Logger
	maxAttempts int
	now         func() time.Time
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMaxAttempts sets the retry budget; values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		notifier:    NopNotifier{},
		log:         zerolog.Nop(),
		maxAttempts: DefaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observability.NewNopMetrics()
	}
	return e
}

// Store exposes the underlying store for read paths.
func (e *Engine) Store() ledger.Store {
	return e.store
}

// Execute runs fn as one atomic unit. The unit is re-run from scratch when
// the store reports a concurrent modification, up to the retry budget.
// Balance notifications collected by the unit are delivered only after the
// commit succeeded.
func (e *Engine) Execute(ctx context.Context, op string, fn func(u *Unit) error) error {
	start := time.Now()
	defer func() {
		e.metrics.EngineOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var (
		u   *Unit
		err error
	)
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		u = newUnit(ctx, e)
		err = e.store.InTx(ctx, func(tx ledger.Tx) error {
			u.tx = tx
			return fn(u)
		})
		if err == nil || !errors.Is(err, ledger.ErrConcurrentModification) {
			break
		}
		e.metrics.EngineRetries.WithLabelValues(op).Inc()
		e.log.Debug().
			Str("op", op).
			Int("attempt", attempt).
			Err(err).
			Msg("unit conflicted, retrying")
	}

	if err != nil {
		if errors.Is(err, ledger.ErrConcurrentModification) {
			err = ledger.Errorf(ledger.CodeConcurrencyExhausted,
				"%s gave up after %d attempts: %v", op, e.maxAttempts, err)
		}
		e.metrics.EngineOps.WithLabelValues(op, string(ledger.CodeOf(err))).Inc()
		return err
	}

	e.metrics.EngineOps.WithLabelValues(op, "ok").Inc()
	e.publish(ctx, u.changes)
	return nil
}

// publish hands committed changes to the notifier. Failures are logged and
// never affect the committed unit.
func (e *Engine) publish(ctx context.Context, changes []event.BalanceChanged) {
	for i := range changes {
		if err := e.notifier.Notify(ctx, changes[i]); err != nil {
			log := observability.WithBalance(e.log, changes[i].UserID, changes[i].Asset)
			log.Warn().
				Err(err).
				Str("cause", changes[i].Cause).
				Msg("balance notification failed")
		}
	}
}

// GetBalance returns the current balance, zero if the row does not exist yet.
func (e *Engine) GetBalance(ctx context.Context, userID uuid.UUID, asset string) (ledger.Balance, error) {
	b, err := e.store.ReadBalance(ctx, ledger.NewBalanceKey(userID, asset))
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("read balance: %w", err)
	}
	return b, nil
}

// Deposit credits available. A non-zero ref makes the deposit exactly-once.
func (e *Engine) Deposit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.Balance, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return ledger.Balance{}, err
	}
	var out ledger.Balance
	err := e.Execute(ctx, "deposit", func(u *Unit) error {
		b, err := u.Deposit(userID, asset, amount, ref)
		out = b
		return err
	})
	return out, err
}

// Withdraw debits available. A non-zero ref makes the withdrawal exactly-once.
func (e *Engine) Withdraw(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.Balance, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return ledger.Balance{}, err
	}
	var out ledger.Balance
	err := e.Execute(ctx, "withdraw", func(u *Unit) error {
		b, err := u.Withdraw(userID, asset, amount, ref)
		out = b
		return err
	})
	return out, err
}

// Reserve moves amount from available to locked under ref. Repeating the
// call while the hold is ACTIVE returns the existing hold.
func (e *Engine) Reserve(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.WalletHold, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return ledger.WalletHold{}, err
	}
	var out ledger.WalletHold
	err := e.Execute(ctx, "reserve", func(u *Unit) error {
		h, err := u.Reserve(userID, asset, amount, ref)
		out = h
		return err
	})
	return out, err
}

// Release returns an ACTIVE hold to available. It returns nil, nil when the
// hold was already released or captured, and HoldNotFound when ref was never
// reserved.
func (e *Engine) Release(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (*ledger.WalletHold, error) {
	if amount.IsNegative() {
		return nil, ledger.Errorf(ledger.CodeInvalidAmount, "amount must be >= 0, got %s", amount)
	}
	var out *ledger.WalletHold
	err := e.Execute(ctx, "release", func(u *Unit) error {
		h, err := u.Release(userID, asset, amount, ref)
		out = h
		return err
	})
	return out, err
}

// CaptureReserved consumes an ACTIVE hold in full; amount must equal the
// held amount. Repeating the call returns the CAPTURED hold unchanged.
func (e *Engine) CaptureReserved(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.WalletHold, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return ledger.WalletHold{}, err
	}
	var out ledger.WalletHold
	err := e.Execute(ctx, "capture", func(u *Unit) error {
		h, err := u.CaptureReserved(userID, asset, amount, ref)
		out = h
		return err
	})
	return out, err
}

// Transfer moves amount of asset between two users in one unit.
func (e *Engine) Transfer(ctx context.Context, from, to uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.Balance, ledger.Balance, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return ledger.Balance{}, ledger.Balance{}, err
	}
	var fromB, toB ledger.Balance
	err := e.Execute(ctx, "transfer", func(u *Unit) error {
		var err error
		fromB, toB, err = u.Transfer(from, to, asset, amount, ref)
		return err
	})
	return fromB, toB, err
}
