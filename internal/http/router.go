package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/atomic-storefront/internal/metrics"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	Log                *logrus.Entry
}

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	Products *ProductHandler
}

// NewRouter wires the storefront API. Nil handlers leave their routes out.
func NewRouter(cfg RouterConfig, hs Handlers) http.Handler {
	log := cfg.Log
	if log == nil {
		log = logger.Discard()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = 1 << 20 // 1MB
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hs.Products != nil {
			r.Get("/products", hs.Products.Get)
		}
		if hs.Cart != nil {
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", hs.Cart.GetCart)
				r.Delete("/", hs.Cart.ClearCart)
				r.Post("/items", hs.Cart.AddItem)
				r.Post("/items/{id}/increase", hs.Cart.Increase)
				r.Post("/items/{id}/decrease", hs.Cart.Decrease)
				r.Delete("/items/{id}", hs.Cart.RemoveItem)
			})
		}
		if hs.Checkout != nil {
			r.Route("/checkout", func(r chi.Router) {
				r.Post("/", hs.Checkout.InitiateCheckout)
				r.Route("/{checkoutID}", func(r chi.Router) {
					r.Get("/", hs.Checkout.GetCheckout)
					r.Put("/customer", hs.Checkout.SetCustomer)
					r.Put("/delivery", hs.Checkout.SetDelivery)
					r.Put("/payment", hs.Checkout.SetPayment)
					r.Post("/next", hs.Checkout.Next)
					r.Post("/previous", hs.Checkout.Previous)
					r.Post("/place", hs.Checkout.PlaceOrder)
				})
			})
		}
		if hs.Orders != nil {
			r.Get("/orders", hs.Orders.ListOrders)
			r.Get("/orders/{orderID}", hs.Orders.GetOrder)
		}
	})

	return otelhttp.NewHandler(r, "storefront-api")
}
