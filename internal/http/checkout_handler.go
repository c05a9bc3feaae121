package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/internal/checkout"
	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

// DefaultCheckoutTTL evicts wizards left idle this long.
const DefaultCheckoutTTL = 30 * time.Minute

// CheckoutStarter opens checkout wizards.
type CheckoutStarter interface {
	Begin(ctx context.Context) (*checkout.Workflow, error)
}

// checkoutSession serializes access to one workflow.
type checkoutSession struct {
	mu       sync.Mutex
	workflow *checkout.Workflow
	touched  time.Time
}

// CheckoutHandler keeps open wizards in memory, keyed by checkout id.
type CheckoutHandler struct {
	starter CheckoutStarter
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time
	log     *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*checkoutSession
}

// NewCheckoutHandler bounds every request by timeout.
func NewCheckoutHandler(starter CheckoutStarter, timeout time.Duration, log *logrus.Entry) *CheckoutHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &CheckoutHandler{
		starter:  starter,
		timeout:  timeout,
		ttl:      DefaultCheckoutTTL,
		now:      time.Now,
		log:      log,
		sessions: make(map[string]*checkoutSession),
	}
}

type PaymentStateDTO struct {
	Method     domain.PaymentMethod `json:"method"`
	CardNumber string               `json:"cardNumber,omitempty"`
	ExpiryDate string               `json:"expiryDate,omitempty"`
	CardName   string               `json:"cardName,omitempty"`
}

type CheckoutResponseDTO struct {
	CheckoutID string                    `json:"checkout_id"`
	Step       string                    `json:"step"`
	StepNumber int                       `json:"step_number"`
	Status     string                    `json:"status"`
	Items      []domain.CartItem         `json:"items"`
	Customer   checkout.CustomerForm     `json:"customer"`
	Delivery   checkout.DeliveryForm     `json:"delivery"`
	Payment    PaymentStateDTO           `json:"payment"`
	Totals     checkout.Totals           `json:"totals"`
	Errors     checkout.ValidationErrors `json:"errors,omitempty"`
	Receipt    *checkout.Receipt         `json:"receipt,omitempty"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	wf, err := h.starter.Begin(ctx)
	if err != nil {
		handleServiceError(ctx, h.log, w, err)
		return
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.evictExpiredLocked()
	h.sessions[id] = &checkoutSession{workflow: wf, touched: h.now()}
	h.mu.Unlock()

	respondJSON(w, http.StatusCreated, checkoutState(ctx, id, wf))
}

// GET /api/v1/checkout/{checkoutID}
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	h.withWorkflow(w, r, func(ctx context.Context, id string, wf *checkout.Workflow) {
		respondJSON(w, http.StatusOK, checkoutState(ctx, id, wf))
	})
}

// PUT /api/v1/checkout/{checkoutID}/customer
func (h *CheckoutHandler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	var form checkout.CustomerForm
	if !decodeForm(w, r, &form) {
		return
	}
	h.update(w, r, func(wf *checkout.Workflow) error { return wf.SetCustomer(form) })
}

// PUT /api/v1/checkout/{checkoutID}/delivery
func (h *CheckoutHandler) SetDelivery(w http.ResponseWriter, r *http.Request) {
	var form checkout.DeliveryForm
	if !decodeForm(w, r, &form) {
		return
	}
	h.update(w, r, func(wf *checkout.Workflow) error { return wf.SetDelivery(form) })
}

// PUT /api/v1/checkout/{checkoutID}/payment
func (h *CheckoutHandler) SetPayment(w http.ResponseWriter, r *http.Request) {
	var form checkout.PaymentForm
	if !decodeForm(w, r, &form) {
		return
	}
	h.update(w, r, func(wf *checkout.Workflow) error { return wf.SetPayment(form) })
}

// POST /api/v1/checkout/{checkoutID}/next
func (h *CheckoutHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, func(wf *checkout.Workflow) error { return wf.Next() })
}

// POST /api/v1/checkout/{checkoutID}/previous
func (h *CheckoutHandler) Previous(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, func(wf *checkout.Workflow) error {
		wf.Previous()
		return nil
	})
}

// POST /api/v1/checkout/{checkoutID}/place
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	h.withWorkflow(w, r, func(ctx context.Context, _ string, wf *checkout.Workflow) {
		receipt, err := wf.PlaceOrder(ctx)
		if err != nil {
			handleServiceError(ctx, h.log, w, err)
			return
		}
		respondJSON(w, http.StatusCreated, receipt)
	})
}

func (h *CheckoutHandler) update(w http.ResponseWriter, r *http.Request, fn func(*checkout.Workflow) error) {
	h.withWorkflow(w, r, func(ctx context.Context, id string, wf *checkout.Workflow) {
		if err := fn(wf); err != nil {
			handleServiceError(ctx, h.log, w, err)
			return
		}
		respondJSON(w, http.StatusOK, checkoutState(ctx, id, wf))
	})
}

// withWorkflow runs fn holding the session lock, so requests for the same
// checkout never interleave.
func (h *CheckoutHandler) withWorkflow(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, *checkout.Workflow)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "checkoutID")
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		s.touched = h.now()
	}
	h.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "checkout_not_found", "checkout not found or expired")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fn(ctx, id, s.workflow)
}

func (h *CheckoutHandler) evictExpiredLocked() {
	cutoff := h.now().Add(-h.ttl)
	for id, s := range h.sessions {
		if s.touched.Before(cutoff) {
			delete(h.sessions, id)
		}
	}
}

func decodeForm(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// checkoutState never echoes the CVV or the full card number.
func checkoutState(ctx context.Context, id string, wf *checkout.Workflow) CheckoutResponseDTO {
	p := wf.Payment()
	payment := PaymentStateDTO{
		Method:     p.Method,
		ExpiryDate: p.ExpiryDate,
		CardName:   p.CardName,
	}
	if p.CardNumber != "" {
		payment.CardNumber = checkout.MaskCardNumber(p.CardNumber)
	}

	state := CheckoutResponseDTO{
		CheckoutID: id,
		Step:       wf.Step().String(),
		StepNumber: int(wf.Step()),
		Status:     wf.Status().String(),
		Items:      wf.Items(ctx),
		Customer:   wf.Customer(),
		Delivery:   wf.Delivery(),
		Payment:    payment,
		Totals:     wf.Totals(ctx),
		Receipt:    wf.Receipt(),
	}
	if errs := wf.Errors(); len(errs) > 0 {
		state.Errors = errs
	}
	return state
}
