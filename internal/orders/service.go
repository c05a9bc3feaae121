package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/internal/cart"
	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/internal/kvstore"
	"github.com/fjod/atomic-storefront/internal/metrics"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

// ErrCartChanged means the cart no longer holds the items of the order being
// committed. Nothing was written; the caller may rebuild the order and retry.
var ErrCartChanged = errors.New("cart changed since the order was built")

// commitKeys are held for the whole commit and recovery sequence.
var commitKeys = []string{kvstore.KeyOrders, kvstore.KeyCart, kvstore.KeyPendingCheckout}

// Service commits orders through a write-ahead journal: the order is first
// written to the pending slot, then appended to the history, then the cart
// is cleared and the journal removed. Every step after the journal write is
// idempotent, so replaying a leftover journal finishes the same order.
type Service struct {
	repo   Repository
	carts  cart.Repository
	locker *kvstore.Locker
	log    *logrus.Entry
}

// NewService wires the journal-backed committer. A nil log discards output.
func NewService(repo Repository, carts cart.Repository, locker *kvstore.Locker, log *logrus.Entry) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		repo:   repo,
		carts:  carts,
		locker: locker,
		log:    log,
	}
}

// List returns the order history oldest first.
func (s *Service) List(ctx context.Context) ([]domain.Order, error) {
	return s.repo.List(ctx)
}

// Commit persists order and clears the cart. The cart must still hold exactly
// order.Items, otherwise ErrCartChanged is returned before anything is
// written. If it fails after the journal was written, Recover completes the
// same order later.
func (s *Service) Commit(ctx context.Context, order domain.Order) error {
	return s.locker.WithLock(ctx, func() error {
		current, err := s.carts.GetCart(ctx)
		if err != nil && !errors.Is(err, cart.ErrCartNotFound) && !errors.Is(err, cart.ErrCorruptCart) {
			return fmt.Errorf("failed to read cart: %w", err)
		}
		if !sameItems(current, order.Items) {
			return ErrCartChanged
		}
		if err := s.repo.SetPending(ctx, order); err != nil {
			return err
		}
		if _, err := s.repo.AppendIfAbsent(ctx, order); err != nil {
			return err
		}
		if err := s.carts.SaveCart(ctx, []domain.CartItem{}); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}
		return s.repo.ClearPending(ctx)
	}, commitKeys...)
}

// Recover replays a leftover journal. It returns the recovered order, or nil
// when nothing was pending. The cart is only cleared when it still holds the
// journaled items, so a cart refilled after an interrupted commit survives.
func (s *Service) Recover(ctx context.Context) (*domain.Order, error) {
	var recovered *domain.Order
	err := s.locker.WithLock(ctx, func() error {
		pending, err := s.repo.GetPending(ctx)
		if errors.Is(err, ErrNoPendingOrder) {
			return nil
		}
		if errors.Is(err, ErrCorruptPending) {
			logger.FromContext(ctx, s.log).WithError(err).
				WithField("moved_to", kvstore.KeyPendingCorrupt).
				Warn("discarding unreadable pending order")
			return s.repo.QuarantinePending(ctx)
		}
		if err != nil {
			return err
		}

		log := logger.FromContext(ctx, s.log).WithField("order_id", pending.ID)
		log.Info("recovering pending order")

		appended, err := s.repo.AppendIfAbsent(ctx, *pending)
		if err != nil {
			return err
		}

		current, err := s.carts.GetCart(ctx)
		switch {
		case errors.Is(err, cart.ErrCartNotFound), err == nil && len(current) == 0:
		case err != nil && !errors.Is(err, cart.ErrCorruptCart):
			return fmt.Errorf("failed to read cart: %w", err)
		case err == nil && sameItems(current, pending.Items):
			if err := s.carts.SaveCart(ctx, []domain.CartItem{}); err != nil {
				return fmt.Errorf("failed to clear cart: %w", err)
			}
		default:
			log.Warn("cart changed since the order was journaled, leaving it untouched")
		}

		if err := s.repo.ClearPending(ctx); err != nil {
			return err
		}
		log.WithField("appended", appended).Info("pending order recovered")
		metrics.RecordRecovery()
		recovered = pending
		return nil
	}, commitKeys...)
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

func sameItems(a, b []domain.CartItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Quantity != b[i].Quantity || a[i].Price != b[i].Price {
			return false
		}
	}
	return true
}
