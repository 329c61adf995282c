package core

import (
	"context"

	"SpotLedger/internal/event"
)

// Notifier receives balance changes after their unit committed. It must not
// block; the engine logs and ignores any error.
type Notifier interface {
	Notify(ctx context.Context, evt event.BalanceChanged) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, event.BalanceChanged) error { return nil }

// MultiNotifier fans out to several notifiers and returns the first error.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, evt event.BalanceChanged) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, evt event.BalanceChanged) error

func (f NotifierFunc) Notify(ctx context.Context, evt event.BalanceChanged) error {
	return f(ctx, evt)
}
