package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

type OrderLister interface {
	List(ctx context.Context) ([]domain.Order, error)
}

// OrdersHandler serves the order history.
type OrdersHandler struct {
	orders  OrderLister
	timeout time.Duration
	log     *logrus.Entry
}

// NewOrdersHandler bounds every request by timeout.
func NewOrdersHandler(orders OrderLister, timeout time.Duration, log *logrus.Entry) *OrdersHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
		log:     log,
	}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.List(ctx)
	if err != nil {
		handleServiceError(ctx, h.log, w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{orderID}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order id is required")
		return
	}

	orders, err := h.orders.List(ctx)
	if err != nil {
		handleServiceError(ctx, h.log, w, err)
		return
	}
	for _, o := range orders {
		if o.ID == orderID {
			respondJSON(w, http.StatusOK, o)
			return
		}
	}
	respondError(w, http.StatusNotFound, "order_not_found", "order not found")
}
