package checkout

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/internal/metrics"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

// Receipt is what the customer sees after a successful placement.
type Receipt struct {
	OrderID    string  `json:"order_id"`
	FinalTotal float64 `json:"final_total"`
}

// PlaceOrder authorizes payment and commits the order. It is only allowed
// from the review step. On failure the workflow is ORDER_FAILED, stays on
// the review step and may be retried; a retry after a partially persisted
// commit completes that same order instead of creating a second one.
func (w *Workflow) PlaceOrder(ctx context.Context) (*Receipt, error) {
	ctx, span := otel.Tracer("storefront/checkout").Start(ctx, "checkout.PlaceOrder")
	defer span.End()

	if !domain.CanTransitionTo(w.status, domain.CheckoutStatusOrderPlaced) {
		return w.receipt, ErrAlreadyPlaced
	}
	if w.step != domain.StepReview {
		return nil, ErrNotInReview
	}
	if errs := w.svc.validator.Payment(w.payment); len(errs) > 0 {
		w.errors = errs
		return nil, errs
	}

	done, err := w.resumePending(ctx)
	if err != nil {
		return nil, w.fail(ctx, "recover", err)
	}
	if done != nil {
		return w.succeed(ctx, *done), nil
	}

	items := w.Items(ctx)
	if len(items) == 0 {
		return nil, w.fail(ctx, "cart", ErrEmptyCart)
	}
	totals := w.svc.pricing.Compute(items, w.delivery.Method)
	if err := w.svc.authorizer.Authorize(ctx, totals.Total, w.payment); err != nil {
		return nil, w.fail(ctx, "payment", err)
	}

	id, err := w.svc.ids.NewOrderID()
	if err != nil {
		return nil, w.fail(ctx, "order_id", err)
	}
	order := w.buildOrder(id, items, totals)
	w.pending = &order

	if err := w.svc.orders.Commit(ctx, order); err != nil {
		return nil, w.fail(ctx, "commit", err)
	}
	return w.succeed(ctx, order), nil
}

// resumePending finishes an interrupted commit. It returns this workflow's
// previous order when that order turns out to be persisted.
func (w *Workflow) resumePending(ctx context.Context) (*domain.Order, error) {
	recovered, err := w.svc.orders.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if w.pending == nil {
		return nil, nil
	}
	if recovered != nil && recovered.ID == w.pending.ID {
		return recovered, nil
	}

	// the journal may be gone even though the previous attempt reported an error
	history, err := w.svc.orders.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range history {
		if history[i].ID == w.pending.ID {
			return &history[i], nil
		}
	}
	w.pending = nil
	return nil, nil
}

func (w *Workflow) buildOrder(id string, items []domain.CartItem, totals Totals) domain.Order {
	delivery := domain.DeliveryInfo{Method: w.delivery.Method}
	if w.delivery.Method == domain.DeliveryMethodDelivery {
		delivery.Address = w.delivery.Address
		delivery.City = w.delivery.City
		delivery.ZipCode = w.delivery.ZipCode
		delivery.Notes = w.delivery.Notes
	}

	payment := domain.PaymentInfo{Method: w.payment.Method}
	if w.payment.Method == domain.PaymentMethodCard {
		payment.CardNumber = MaskCardNumber(w.payment.CardNumber)
		payment.CardName = w.payment.CardName
	}

	return domain.Order{
		ID:    id,
		Items: items,
		CustomerInfo: domain.CustomerInfo{
			FirstName: w.customer.FirstName,
			LastName:  w.customer.LastName,
			Email:     w.customer.Email,
			Phone:     w.customer.Phone,
		},
		DeliveryInfo: delivery,
		PaymentInfo:  payment,
		Total:        totals.Subtotal,
		DeliveryFee:  totals.DeliveryFee,
		Tax:          totals.Tax,
		FinalTotal:   totals.Total,
		Date:         w.svc.now().UTC().Truncate(time.Millisecond),
		Status:       domain.OrderStatusConfirmed,
	}
}

func (w *Workflow) succeed(ctx context.Context, order domain.Order) *Receipt {
	w.status = domain.CheckoutStatusOrderPlaced
	w.errors = nil
	w.pending = nil
	w.items = order.Items
	w.receipt = &Receipt{OrderID: order.ID, FinalTotal: order.FinalTotal}
	metrics.RecordOrderPlaced()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("order.id", order.ID))

	log := logger.FromContext(ctx, w.svc.log).WithField("order_id", order.ID)
	log.WithField("final_total", order.FinalTotal).Info("order placed")

	if w.svc.publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.svc.publishTimeout)
		defer cancel()
		if err := w.svc.publisher.PublishOrderPlaced(pubCtx, order); err != nil {
			log.WithError(err).Warn("order event not published")
		}
	}
	return w.receipt
}

func (w *Workflow) fail(ctx context.Context, stage string, err error) error {
	w.status = domain.CheckoutStatusOrderFailed
	metrics.RecordOrderFailed(stage)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	logger.FromContext(ctx, w.svc.log).WithError(err).WithField("stage", stage).Error("order placement failed")
	return fmt.Errorf("%w: %w", ErrOrderFailed, err)
}
