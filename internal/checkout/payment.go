package checkout

import (
	"context"
	"time"
)

// DefaultPaymentDelay is how long the simulated gateway takes to answer.
const DefaultPaymentDelay = 3 * time.Second

// PaymentAuthorizer is called once per order placement, before anything is
// persisted. A non-nil error aborts the placement.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, amount float64, payment PaymentForm) error
}

// SimulatedAuthorizer stands in for a payment processor: it waits Delay and
// approves everything.
type SimulatedAuthorizer struct {
	Delay time.Duration
}

// NewSimulatedAuthorizer approves every payment after delay.
func NewSimulatedAuthorizer(delay time.Duration) *SimulatedAuthorizer {
	return &SimulatedAuthorizer{Delay: delay}
}

// Authorize waits for the delay or for ctx, whichever ends first.
func (a *SimulatedAuthorizer) Authorize(ctx context.Context, _ float64, _ PaymentForm) error {
	if a.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(a.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AuthorizerFunc adapts a plain function.
type AuthorizerFunc func(ctx context.Context, amount float64, payment PaymentForm) error

func (f AuthorizerFunc) Authorize(ctx context.Context, amount float64, payment PaymentForm) error {
	return f(ctx, amount, payment)
}
