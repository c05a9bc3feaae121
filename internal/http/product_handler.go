package http

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

type ProductCatalog interface {
	Products(ctx context.Context) ([]domain.Product, error)
}

// ProductHandler serves the remote catalog.
type ProductHandler struct {
	catalog ProductCatalog
	timeout time.Duration
	log     *logrus.Entry
}

// NewProductHandler bounds every request by timeout.
func NewProductHandler(catalog ProductCatalog, timeout time.Duration, log *logrus.Entry) *ProductHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &ProductHandler{
		catalog: catalog,
		timeout: timeout,
		log:     log,
	}
}

type ProductsResponse struct {
	Products []domain.Product `json:"products"`
}

// GET /api/v1/products
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.catalog.Products(ctx)
	if err != nil {
		handleServiceError(ctx, h.log, w, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	respondJSON(w, http.StatusOK, &ProductsResponse{Products: products})
}
