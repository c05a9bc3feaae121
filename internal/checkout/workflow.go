package checkout

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/internal/events"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

const (
	DefaultCity = "Skopje"
	// DefaultPublishTimeout caps how long a placed order waits on the broker.
	DefaultPublishTimeout = 2 * time.Second
)

// CartLoader reads the current cart. Load never fails, an unreadable cart
// is empty.
type CartLoader interface {
	Load(ctx context.Context) []domain.CartItem
}

// OrderStore commits orders and replays interrupted commits.
type OrderStore interface {
	Commit(ctx context.Context, order domain.Order) error
	Recover(ctx context.Context) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}

// Options tunes a Service. Zero values pick the defaults.
type Options struct {
	Authorizer PaymentAuthorizer
	Publisher  events.Publisher
	Pricing    *Pricing
	Now        func() time.Time
	Log        *logrus.Entry

	// PublishTimeout bounds the order event publish after a commit.
	PublishTimeout time.Duration
}

// Service starts checkout wizards over a shared cart and order history.
type Service struct {
	cart       CartLoader
	orders     OrderStore
	authorizer PaymentAuthorizer
	publisher  events.Publisher
	pricing    Pricing
	validator  *Validator
	ids        *IDGenerator
	now        func() time.Time
	log        *logrus.Entry

	publishTimeout time.Duration
}

// NewService builds a checkout service over the cart and order history.
func NewService(cart CartLoader, orders OrderStore, opts Options) *Service {
	s := &Service{
		cart:       cart,
		orders:     orders,
		authorizer: opts.Authorizer,
		publisher:  opts.Publisher,
		pricing:    DefaultPricing(),
		validator:  NewValidator(),
		now:        opts.Now,
		log:        opts.Log,

		publishTimeout: opts.PublishTimeout,
	}
	if opts.Pricing != nil {
		s.pricing = *opts.Pricing
	}
	if s.authorizer == nil {
		s.authorizer = NewSimulatedAuthorizer(DefaultPaymentDelay)
	}
	if s.publishTimeout <= 0 {
		s.publishTimeout = DefaultPublishTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	s.ids = NewIDGenerator(s.now)
	return s
}

// Begin recovers any interrupted order commit, then opens a wizard over the
// current cart. An empty cart never starts a wizard.
func (s *Service) Begin(ctx context.Context) (*Workflow, error) {
	if recovered, err := s.orders.Recover(ctx); err != nil {
		logger.FromContext(ctx, s.log).WithError(err).Warn("pending order recovery failed")
	} else if recovered != nil {
		logger.FromContext(ctx, s.log).WithField("order_id", recovered.ID).Info("completed interrupted order")
	}

	items := s.cart.Load(ctx)
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	return &Workflow{
		svc:    s,
		step:   domain.StepCustomerInfo,
		status: domain.CheckoutStatusInProgress,
		items:  items,
		delivery: DeliveryForm{
			Method: domain.DeliveryMethodDelivery,
			City:   DefaultCity,
		},
		payment: PaymentForm{Method: domain.PaymentMethodCard},
	}, nil
}

// Workflow is one pass through the four checkout steps. It is owned by a
// single caller and is not safe for concurrent use.
type Workflow struct {
	svc *Service

	step   domain.CheckoutStep
	status domain.CheckoutStatus

	// items is the last cart read, frozen once the order is placed.
	items []domain.CartItem

	customer CustomerForm
	delivery DeliveryForm
	payment  PaymentForm
	errors   ValidationErrors

	// pending is the order handed to the last commit attempt.
	pending *domain.Order
	receipt *Receipt
}

func (w *Workflow) Step() domain.CheckoutStep     { return w.step }
func (w *Workflow) Status() domain.CheckoutStatus { return w.status }
func (w *Workflow) Customer() CustomerForm        { return w.customer }
func (w *Workflow) Delivery() DeliveryForm        { return w.delivery }
func (w *Workflow) Payment() PaymentForm          { return w.payment }
func (w *Workflow) Receipt() *Receipt             { return w.receipt }

// Items rereads the cart, so review and placement follow cart edits made
// after the wizard started. Once the order is placed it returns the ordered
// items.
func (w *Workflow) Items(ctx context.Context) []domain.CartItem {
	if w.status != domain.CheckoutStatusOrderPlaced {
		w.items = w.svc.cart.Load(ctx)
	}
	out := make([]domain.CartItem, len(w.items))
	copy(out, w.items)
	return out
}

// Errors returns the field errors of the last failed validation.
func (w *Workflow) Errors() ValidationErrors {
	out := make(ValidationErrors, len(w.errors))
	for k, v := range w.errors {
		out[k] = v
	}
	return out
}

// SetCustomer replaces the customer form. Terminal wizards reject edits.
func (w *Workflow) SetCustomer(f CustomerForm) error {
	if w.status.IsTerminal() {
		return ErrAlreadyPlaced
	}
	w.customer = f
	return nil
}

// SetDelivery replaces the delivery form. An empty method keeps the
// current one.
func (w *Workflow) SetDelivery(f DeliveryForm) error {
	if w.status.IsTerminal() {
		return ErrAlreadyPlaced
	}
	if f.Method == "" {
		f.Method = w.delivery.Method
	}
	w.delivery = f
	return nil
}

// SetPayment replaces the payment form.
func (w *Workflow) SetPayment(f PaymentForm) error {
	if w.status.IsTerminal() {
		return ErrAlreadyPlaced
	}
	if f.Method == "" {
		f.Method = w.payment.Method
	}
	w.payment = f
	return nil
}

// Next validates the current step and advances when it is clean. On failure
// the field errors are kept on the workflow and returned.
func (w *Workflow) Next() error {
	if w.status.IsTerminal() {
		return ErrAlreadyPlaced
	}
	if errs := w.validateStep(w.step); len(errs) > 0 {
		w.errors = errs
		return errs
	}
	if w.step < domain.StepReview {
		w.step++
	}
	w.errors = nil
	return nil
}

// Previous steps back without validating.
func (w *Workflow) Previous() {
	if w.status.IsTerminal() {
		return
	}
	if w.step > domain.StepCustomerInfo {
		w.step--
	}
	w.errors = nil
}

// Totals is recomputed from the current cart and the delivery method on
// every call.
func (w *Workflow) Totals(ctx context.Context) Totals {
	return w.svc.pricing.Compute(w.Items(ctx), w.delivery.Method)
}

func (w *Workflow) validateStep(step domain.CheckoutStep) ValidationErrors {
	v := w.svc.validator
	switch step {
	case domain.StepCustomerInfo:
		return v.Customer(w.customer)
	case domain.StepDeliveryInfo:
		return v.Delivery(w.delivery)
	case domain.StepPaymentInfo:
		return v.Payment(w.payment)
	default:
		return nil
	}
}
