package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/internal/cart"
	"github.com/fjod/atomic-storefront/internal/checkout"
	"github.com/fjod/atomic-storefront/internal/config"
	"github.com/fjod/atomic-storefront/internal/events"
	"github.com/fjod/atomic-storefront/internal/kvstore"
	"github.com/fjod/atomic-storefront/internal/money"
	"github.com/fjod/atomic-storefront/internal/orders"
	"github.com/fjod/atomic-storefront/internal/remote"
	"github.com/fjod/atomic-storefront/internal/session"
	"github.com/fjod/atomic-storefront/internal/telemetry"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

var version = "dev"

// app holds the wired core shared by every command.
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	store     kvstore.Store
	session   *session.Session
	remote    *remote.Client
	carts     *cart.Service
	orders    *orders.Service
	checkout  *checkout.Service
	publisher events.Publisher
	money     *money.Formatter

	shutdownTelemetry telemetry.ShutdownFunc
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})

	shutdown, err := telemetry.Setup(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		ServiceName: telemetry.DefaultServiceName,
		Version:     version,
		Output:      os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	store, err := kvstore.Open(ctx, cfg.StoreOptions())
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	a := &app{
		cfg:               cfg,
		log:               log,
		store:             store,
		money:             money.NewFormatter(cfg.Checkout.Locale, cfg.Checkout.Currency),
		shutdownTelemetry: shutdown,
	}

	a.session = session.New(store, logger.Component(log, "session"))
	a.remote = remote.NewClient(cfg.RemoteConfig(), a.session, logger.Component(log, "remote"))

	locker := kvstore.NewLocker()
	cartRepo := cart.NewStoreRepository(store)
	a.carts = cart.NewService(cartRepo, locker, logger.Component(log, "cart"))
	a.orders = orders.NewService(orders.NewStoreRepository(store), cartRepo, locker, logger.Component(log, "orders"))

	if cfg.Kafka.Enabled {
		a.publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Checkout.Currency)
	} else {
		a.publisher = events.NewLogPublisher(logger.Component(log, "events"), cfg.Checkout.Currency)
	}

	pricing := checkout.Pricing{
		DeliveryFee: decimal.NewFromFloat(cfg.Checkout.DeliveryFee),
		TaxRate:     decimal.NewFromFloat(cfg.Checkout.TaxRate),
	}
	a.checkout = checkout.NewService(a.carts, a.orders, checkout.Options{
		Authorizer: checkout.NewSimulatedAuthorizer(cfg.Checkout.PaymentDelay),
		Publisher:  a.publisher,
		Pricing:    &pricing,
		Log:        logger.Component(log, "checkout"),

		PublishTimeout: cfg.Kafka.PublishTimeout,
	})
	return a, nil
}

// recover completes a commit interrupted by a previous run.
func (a *app) recover(ctx context.Context) {
	recovered, err := a.orders.Recover(ctx)
	if err != nil {
		a.log.WithError(err).Warn("pending order recovery failed")
		return
	}
	if recovered != nil {
		a.log.WithField("order_id", recovered.ID).Info("completed interrupted order")
	}
}

func (a *app) Close(ctx context.Context) {
	if err := a.publisher.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close event publisher")
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close store")
	}
	if err := a.shutdownTelemetry(ctx); err != nil {
		a.log.WithError(err).Warn("failed to flush traces")
	}
}
