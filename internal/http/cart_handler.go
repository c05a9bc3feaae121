package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/internal/cart"
	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

// CartService is the slice of cart.Service the handlers need.
type CartService interface {
	Load(ctx context.Context) []domain.CartItem
	AddOrIncrement(ctx context.Context, p domain.Product) error
	Increase(ctx context.Context, id int64) error
	Decrease(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
}

// CartHandler serves the cart endpoints.
type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *logrus.Entry
}

// NewCartHandler bounds every request by timeout.
func NewCartHandler(carts CartService, timeout time.Duration, log *logrus.Entry) *CartHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		log:     log,
	}
}

type AddItemRequestDTO struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Image string  `json:"image"`
}

type CartResponseDTO struct {
	Items []domain.CartItem `json:"items"`
	Total float64           `json:"total"`
	Count int               `json:"count"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.respondCart(ctx, w, http.StatusOK)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "id must be positive")
		return
	}
	if req.Price < 0 {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}

	err := h.carts.AddOrIncrement(ctx, domain.Product{
		ID:    req.ID,
		Name:  req.Name,
		Price: req.Price,
		Image: req.Image,
	})
	if err != nil {
		handleServiceError(ctx, h.log, w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusCreated)
}

// POST /api/v1/cart/items/{id}/increase
func (h *CartHandler) Increase(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.carts.Increase)
}

// POST /api/v1/cart/items/{id}/decrease
func (h *CartHandler) Decrease(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.carts.Decrease)
}

// DELETE /api/v1/cart/items/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.carts.Remove)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.Clear(ctx); err != nil {
		handleServiceError(ctx, h.log, w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK)
}

func (h *CartHandler) mutateItem(w http.ResponseWriter, r *http.Request, op func(context.Context, int64) error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "id must be a positive integer")
		return
	}

	if err := op(ctx, productID); err != nil {
		handleServiceError(ctx, h.log, w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK)
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, status int) {
	items := h.carts.Load(ctx)
	respondJSON(w, status, CartResponseDTO{
		Items: items,
		Total: cart.Total(items),
		Count: cart.Count(items),
	})
}
