package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/atomic-storefront/internal/cart"
	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/internal/kvstore"
	"github.com/fjod/atomic-storefront/internal/kvstore/kvstoretest"
	"github.com/fjod/atomic-storefront/internal/orders"
)

type mockPublisher struct {
	m         sync.RWMutex
	orders    []domain.Order
	deadlines []time.Time
	err       error
}

func (p *mockPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	p.m.Lock()
	defer p.m.Unlock()
	p.orders = append(p.orders, order)
	deadline, _ := ctx.Deadline()
	p.deadlines = append(p.deadlines, deadline)
	return p.err
}

func (p *mockPublisher) Close() error { return nil }

type fixture struct {
	store     *kvstoretest.FaultyStore
	cart      *cart.Service
	orders    *orders.Service
	publisher *mockPublisher
	payments  int
	svc       *Service
}

var fixedNow = time.Date(2025, 6, 1, 9, 30, 0, 123456789, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	inner := kvstore.NewMemoryStore()
	t.Cleanup(func() { inner.Close() })

	f := &fixture{
		store:     kvstoretest.NewFaultyStore(inner),
		publisher: &mockPublisher{},
	}
	locker := kvstore.NewLocker()
	carts := cart.NewStoreRepository(f.store)
	f.cart = cart.NewService(carts, locker, nil)
	f.orders = orders.NewService(orders.NewStoreRepository(f.store), carts, locker, nil)
	f.svc = NewService(f.cart, f.orders, Options{
		Authorizer: AuthorizerFunc(func(context.Context, float64, PaymentForm) error {
			f.payments++
			return nil
		}),
		Publisher: f.publisher,
		Now:       func() time.Time { return fixedNow },
	})
	return f
}

func (f *fixture) fillCart(t *testing.T, products ...domain.Product) {
	t.Helper()
	for _, p := range products {
		require.NoError(t, f.cart.AddOrIncrement(context.Background(), p))
	}
}

var (
	validCustomer = CustomerForm{FirstName: "Ana", LastName: "Petrova", Email: "ana@example.mk", Phone: "+389 70 123 456"}
	validDelivery = DeliveryForm{Method: domain.DeliveryMethodDelivery, Address: "Partizanska 1", City: "Skopje", ZipCode: "1000"}
	validCard     = PaymentForm{Method: domain.PaymentMethodCard, CardNumber: "4111 1111 1111 1111", ExpiryDate: "12/27", CVV: "123", CardName: "ANA PETROVA"}
	tv            = domain.Product{ID: 1, Name: "Radio", Price: 1000}
)

// toReview walks a wizard to the review step with valid forms.
func toReview(t *testing.T, w *Workflow, delivery DeliveryForm, payment PaymentForm) {
	t.Helper()
	require.NoError(t, w.SetCustomer(validCustomer))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetDelivery(delivery))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetPayment(payment))
	require.NoError(t, w.Next())
	require.Equal(t, domain.StepReview, w.Step())
}

func TestBegin_EmptyCart(t *testing.T) {
	f := newFixture(t)

	w, err := f.svc.Begin(context.Background())
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Nil(t, w)
}

func TestBegin_Defaults(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, tv)

	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StepCustomerInfo, w.Step())
	assert.Equal(t, domain.CheckoutStatusInProgress, w.Status())
	assert.Equal(t, domain.DeliveryMethodDelivery, w.Delivery().Method)
	assert.Equal(t, DefaultCity, w.Delivery().City)
	assert.Equal(t, domain.PaymentMethodCard, w.Payment().Method)
	assert.Len(t, w.Items(context.Background()), 1)
}

func TestNext_EmptyEmailBlocksStep(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, tv)
	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)

	c := validCustomer
	c.Email = "   "
	require.NoError(t, w.SetCustomer(c))

	err = w.Next()
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, ValidationErrors{"email": "Email is required"}, verrs)
	assert.Equal(t, domain.StepCustomerInfo, w.Step())
	assert.Equal(t, verrs, w.Errors())
}

func TestNext_CustomerMessages(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, tv)
	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, w.SetCustomer(CustomerForm{FirstName: " ", Email: "not-an-email", Phone: "12ab"}))
	err = w.Next()
	require.Error(t, err)
	assert.Equal(t, ValidationErrors{
		"firstName": "First name is required",
		"lastName":  "Last name is required",
		"email":     "Please enter a valid email",
		"phone":     "Please enter a valid phone number",
	}, w.Errors())
}

func TestPrevious_ClearsErrorsAndFloors(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, tv)
	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)

	require.Error(t, w.Next())
	require.NotEmpty(t, w.Errors())

	w.Previous()
	assert.Equal(t, domain.StepCustomerInfo, w.Step())
	assert.Empty(t, w.Errors())

	require.NoError(t, w.SetCustomer(validCustomer))
	require.NoError(t, w.Next())
	w.Previous()
	assert.Equal(t, domain.StepCustomerInfo, w.Step())
}

func TestNext_DeliveryRequiresAddress(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, tv)
	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.SetCustomer(validCustomer))
	require.NoError(t, w.Next())

	require.NoError(t, w.SetDelivery(DeliveryForm{Method: domain.DeliveryMethodDelivery}))
	require.Error(t, w.Next())
	assert.Equal(t, ValidationErrors{
		"address": "Address is required",
		"city":    "City is required",
		"zipCode": "ZIP code is required",
	}, w.Errors())
	assert.Equal(t, domain.StepDeliveryInfo, w.Step())
}

func TestNext_PickupSkipsDeliveryValidation(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, tv)
	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.SetCustomer(validCustomer))
	require.NoError(t, w.Next())

	require.NoError(t, w.SetDelivery(DeliveryForm{Method: domain.DeliveryMethodPickup}))
	require.NoError(t, w.Next())
	assert.Equal(t, domain.StepPaymentInfo, w.Step())
	assert.Equal(t, 0.0, w.Totals(context.Background()).DeliveryFee)
}

func TestNext_CardRules(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, tv)
	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.SetCustomer(validCustomer))
	require.NoError(t, w.Next())
	require.NoError(t, w.Next())

	require.NoError(t, w.SetPayment(PaymentForm{Method: domain.PaymentMethodCard, CardNumber: "1234", ExpiryDate: "1227", CVV: "12"}))
	require.Error(t, w.Next())
	assert.Equal(t, ValidationErrors{
		"cardNumber": "Please enter a valid card number",
		"expiryDate": "Format: MM/YY",
		"cvv":        "CVV must be 3-4 digits",
		"cardName":   "Cardholder name is required",
	}, w.Errors())

	require.NoError(t, w.SetPayment(PaymentForm{Method: domain.PaymentMethodCash}))
	require.NoError(t, w.Next())
	assert.Equal(t, domain.StepReview, w.Step())

	// review has nothing to validate and is the last step
	require.NoError(t, w.Next())
	assert.Equal(t, domain.StepReview, w.Step())
}

func TestTotals_OrderArithmetic(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, tv)
	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Totals{Subtotal: 1000, DeliveryFee: 150, Tax: 180, Total: 1330}, w.Totals(context.Background()))

	require.NoError(t, w.SetDelivery(DeliveryForm{Method: domain.DeliveryMethodPickup}))
	assert.Equal(t, Totals{Subtotal: 1000, DeliveryFee: 0, Tax: 180, Total: 1180}, w.Totals(context.Background()))
}

func TestPlaceOrder_NotInReview(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, tv)
	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)

	_, err = w.PlaceOrder(context.Background())
	assert.ErrorIs(t, err, ErrNotInReview)
	assert.Equal(t, domain.CheckoutStatusInProgress, w.Status())
	assert.Equal(t, 0, f.payments)
}

func TestPlaceOrder_CommitsAndClearsCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	receipt, err := w.PlaceOrder(ctx)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, 1330.0, receipt.FinalTotal)
	assert.True(t, strings.HasPrefix(receipt.OrderID, "ORD-"))
	assert.Equal(t, domain.CheckoutStatusOrderPlaced, w.Status())
	assert.Equal(t, 1, f.payments)

	assert.Empty(t, f.cart.Load(ctx))

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	order := history[0]
	assert.Equal(t, receipt.OrderID, order.ID)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	assert.Equal(t, 1000.0, order.Total)
	assert.Equal(t, 150.0, order.DeliveryFee)
	assert.Equal(t, 180.0, order.Tax)
	assert.Equal(t, 1330.0, order.FinalTotal)
	assert.Equal(t, fixedNow.Truncate(time.Millisecond), order.Date)
	assert.Equal(t, "**** **** **** 1111", order.PaymentInfo.CardNumber)
	assert.Equal(t, "ANA PETROVA", order.PaymentInfo.CardName)
	assert.Equal(t, "Partizanska 1", order.DeliveryInfo.Address)

	require.Len(t, f.publisher.orders, 1)
	assert.Equal(t, receipt.OrderID, f.publisher.orders[0].ID)

	_, err = w.PlaceOrder(ctx)
	assert.ErrorIs(t, err, ErrAlreadyPlaced)
	assert.ErrorIs(t, w.Next(), ErrAlreadyPlaced)
}

func TestPlaceOrder_SecretsNeverPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	_, err = w.PlaceOrder(ctx)
	require.NoError(t, err)

	raw, err := f.store.Get(ctx, kvstore.KeyOrders)
	require.NoError(t, err)
	assert.NotContains(t, raw, "4111 1111 1111 1111")
	assert.NotContains(t, raw, "12/27")
	assert.NotContains(t, raw, `"cvv"`)
	assert.NotContains(t, raw, "expiryDate")
}

func TestPlaceOrder_PickupCashOmitsOptionalFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)

	pickup := validDelivery
	pickup.Method = domain.DeliveryMethodPickup
	toReview(t, w, pickup, PaymentForm{Method: domain.PaymentMethodCash, CardNumber: "4111111111111111"})

	receipt, err := w.PlaceOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1180.0, receipt.FinalTotal)

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.DeliveryInfo{Method: domain.DeliveryMethodPickup}, history[0].DeliveryInfo)
	assert.Equal(t, domain.PaymentInfo{Method: domain.PaymentMethodCash}, history[0].PaymentInfo)
}

func TestPlaceOrder_PaymentFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	f.svc.authorizer = AuthorizerFunc(func(context.Context, float64, PaymentForm) error {
		return ErrPaymentDeclined
	})
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	_, err = w.PlaceOrder(ctx)
	assert.ErrorIs(t, err, ErrOrderFailed)
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	assert.Equal(t, domain.CheckoutStatusOrderFailed, w.Status())
	assert.Equal(t, domain.StepReview, w.Step())

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Len(t, f.cart.Load(ctx), 1)
}

func TestPlaceOrder_RetryAfterPartialCommitYieldsOneOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	// history is written, clearing the cart fails
	f.store.FailSet(kvstore.KeyCart, 1)
	_, err = w.PlaceOrder(ctx)
	require.ErrorIs(t, err, ErrOrderFailed)
	assert.Equal(t, domain.CheckoutStatusOrderFailed, w.Status())

	receipt, err := w.PlaceOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusOrderPlaced, w.Status())
	assert.Equal(t, 1, f.payments, "payment must not be authorized twice")

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, receipt.OrderID, history[0].ID)
	assert.Empty(t, f.cart.Load(ctx))
}

func TestPlaceOrder_RetryWhenJournalDeleteReportedFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	f.store.FailDelete(kvstore.KeyPendingCheckout, 1)
	_, err = w.PlaceOrder(ctx)
	require.Error(t, err)

	receipt, err := w.PlaceOrder(ctx)
	require.NoError(t, err)

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, receipt.OrderID, history[0].ID)
}

func TestPlaceOrder_FailureBeforeJournalPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	f.store.FailSet(kvstore.KeyPendingCheckout, 1)
	_, err = w.PlaceOrder(ctx)
	require.ErrorIs(t, err, kvstoretest.ErrInjected)

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Len(t, f.cart.Load(ctx), 1)

	receipt, err := w.PlaceOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.payments)

	history, err = f.orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, receipt.OrderID, history[0].ID)
}

func TestBegin_RecoversInterruptedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	f.store.FailSet(kvstore.KeyCart, 1)
	_, err = w.PlaceOrder(ctx)
	require.Error(t, err)

	// a new wizard finishes the abandoned order and then sees the emptied cart
	_, err = f.svc.Begin(ctx)
	assert.ErrorIs(t, err, ErrEmptyCart)

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPlaceOrder_PublishErrorIsNotSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publisher.err = errors.New("broker down")
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	_, err = w.PlaceOrder(ctx)
	assert.NoError(t, err)
}

func TestPlaceOrder_CancelledDuringPayment(t *testing.T) {
	f := newFixture(t)
	f.svc.authorizer = NewSimulatedAuthorizer(time.Hour)
	f.fillCart(t, tv)
	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = w.PlaceOrder(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.CheckoutStatusOrderFailed, w.Status())
}

func TestPlaceOrder_FollowsCartEditedAfterBegin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)

	pickup := validDelivery
	pickup.Method = domain.DeliveryMethodPickup
	toReview(t, w, pickup, PaymentForm{Method: domain.PaymentMethodCash})
	assert.Equal(t, 1180.0, w.Totals(ctx).Total)

	lamp := domain.Product{ID: 2, Name: "Lamp", Price: 500}
	f.fillCart(t, lamp)
	assert.Equal(t, Totals{Subtotal: 1500, DeliveryFee: 0, Tax: 270, Total: 1770}, w.Totals(ctx))
	assert.Len(t, w.Items(ctx), 2)

	receipt, err := w.PlaceOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1770.0, receipt.FinalTotal)

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, []domain.CartItem{tv.LineItem(), lamp.LineItem()}, history[0].Items)
	assert.Equal(t, 1500.0, history[0].Total)
	assert.Empty(t, f.cart.Load(ctx))

	// the placed wizard keeps showing what was ordered
	assert.Len(t, w.Items(ctx), 2)
}

func TestPlaceOrder_CartEmptiedAfterBegin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	require.NoError(t, f.cart.Clear(ctx))
	_, err = w.PlaceOrder(ctx)
	assert.ErrorIs(t, err, ErrOrderFailed)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, 0, f.payments)

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPlaceOrder_CartChangedDuringPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	lamp := domain.Product{ID: 2, Name: "Lamp", Price: 500}

	var authorized []float64
	f.svc.authorizer = AuthorizerFunc(func(_ context.Context, amount float64, _ PaymentForm) error {
		authorized = append(authorized, amount)
		if len(authorized) == 1 {
			// another tab adds to the cart while the payment is in flight
			require.NoError(t, f.cart.AddOrIncrement(ctx, lamp))
		}
		return nil
	})

	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	_, err = w.PlaceOrder(ctx)
	assert.ErrorIs(t, err, ErrOrderFailed)
	assert.ErrorIs(t, err, orders.ErrCartChanged)
	assert.Equal(t, domain.CheckoutStatusOrderFailed, w.Status())

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Len(t, f.cart.Load(ctx), 2)
	_, err = f.store.Get(ctx, kvstore.KeyPendingCheckout)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	receipt, err := w.PlaceOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1330, 1920}, authorized)
	assert.Equal(t, 1920.0, receipt.FinalTotal)

	history, err = f.orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Len(t, history[0].Items, 2)
	assert.Empty(t, f.cart.Load(ctx))
}

func TestPlaceOrder_UnreadableJournalIsSetAside(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, tv)
	w, err := f.svc.Begin(ctx)
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	require.NoError(t, f.store.Set(ctx, kvstore.KeyPendingCheckout, "{truncated"))

	receipt, err := w.PlaceOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusOrderPlaced, w.Status())

	history, err := f.orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, receipt.OrderID, history[0].ID)

	raw, err := f.store.Get(ctx, kvstore.KeyPendingCorrupt)
	require.NoError(t, err)
	assert.Equal(t, "{truncated", raw)
	_, err = f.store.Get(ctx, kvstore.KeyPendingCheckout)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestPlaceOrder_PublishGetsBoundedContext(t *testing.T) {
	f := newFixture(t)
	f.svc.publishTimeout = 50 * time.Millisecond
	f.fillCart(t, tv)
	w, err := f.svc.Begin(context.Background())
	require.NoError(t, err)
	toReview(t, w, validDelivery, validCard)

	// the request has no deadline; the publish still must not wait forever
	_, err = w.PlaceOrder(context.Background())
	require.NoError(t, err)

	f.publisher.m.RLock()
	defer f.publisher.m.RUnlock()
	require.Len(t, f.publisher.deadlines, 1)
	assert.False(t, f.publisher.deadlines[0].IsZero())
	assert.WithinDuration(t, time.Now(), f.publisher.deadlines[0], time.Second)
}
