package cart

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/internal/kvstore"
	"github.com/fjod/atomic-storefront/internal/metrics"
	"github.com/fjod/atomic-storefront/internal/money"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

// Service owns the cart. Every mutation is a read-modify-write under the
// cart key lock, so concurrent edits never lose an update.
type Service struct {
	repo   Repository
	locker *kvstore.Locker
	sfg    singleflight.Group // collapses concurrent loads
	log    *logrus.Entry
}

// NewService returns a cart service over repo. A nil log discards output.
func NewService(repo Repository, locker *kvstore.Locker, log *logrus.Entry) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
	}
}

// Load returns the persisted cart. A missing, unreadable or corrupt cart is
// reported as empty and never as an error.
func (s *Service) Load(ctx context.Context) []domain.CartItem {
	v, _, _ := s.sfg.Do(kvstore.KeyCart, func() (interface{}, error) {
		items, err := s.repo.GetCart(ctx)
		if err != nil {
			if !errors.Is(err, ErrCartNotFound) {
				logger.FromContext(ctx, s.log).WithError(err).Warn("cart load failed, using empty cart")
			}
			return []domain.CartItem{}, nil
		}
		return items, nil
	})
	return clone(v.([]domain.CartItem))
}

// AddOrIncrement adds the product with quantity 1, or bumps the quantity of
// the line that already carries its id.
func (s *Service) AddOrIncrement(ctx context.Context, p domain.Product) error {
	return s.mutate(ctx, "add", func(items []domain.CartItem) []domain.CartItem {
		for i := range items {
			if items[i].ID == p.ID {
				items[i].Quantity++
				return items
			}
		}
		return append(items, p.LineItem())
	})
}

// Increase bumps the quantity of the line with id. Unknown ids are a no-op.
func (s *Service) Increase(ctx context.Context, id int64) error {
	return s.mutate(ctx, "increase", func(items []domain.CartItem) []domain.CartItem {
		for i := range items {
			if items[i].ID == id {
				items[i].Quantity++
			}
		}
		return items
	})
}

// Decrease lowers the quantity by one but never below one.
func (s *Service) Decrease(ctx context.Context, id int64) error {
	return s.mutate(ctx, "decrease", func(items []domain.CartItem) []domain.CartItem {
		for i := range items {
			if items[i].ID == id && items[i].Quantity > 1 {
				items[i].Quantity--
			}
		}
		return items
	})
}

// Remove drops the line with id.
func (s *Service) Remove(ctx context.Context, id int64) error {
	return s.mutate(ctx, "remove", func(items []domain.CartItem) []domain.CartItem {
		kept := items[:0]
		for _, item := range items {
			if item.ID != id {
				kept = append(kept, item)
			}
		}
		return kept
	})
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context) error {
	return s.mutate(ctx, "clear", func([]domain.CartItem) []domain.CartItem {
		return []domain.CartItem{}
	})
}

// Total is the sum of price times quantity over all lines.
func Total(items []domain.CartItem) float64 {
	return money.Float(Subtotal(items))
}

// Subtotal is Total as an exact decimal.
func Subtotal(items []domain.CartItem) decimal.Decimal {
	return money.Sum(items)
}

// Count is the number of units across all lines.
func Count(items []domain.CartItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

func (s *Service) mutate(ctx context.Context, op string, fn func([]domain.CartItem) []domain.CartItem) error {
	err := s.locker.WithLock(ctx, func() error {
		items, err := s.repo.GetCart(ctx)
		if err != nil {
			if !errors.Is(err, ErrCartNotFound) && !errors.Is(err, ErrCorruptCart) {
				return err
			}
			if errors.Is(err, ErrCorruptCart) {
				logger.FromContext(ctx, s.log).WithError(err).Warn("overwriting corrupt cart")
			}
			items = []domain.CartItem{}
		}
		return s.repo.SaveCart(ctx, fn(items))
	}, kvstore.KeyCart)

	metrics.RecordCartOperation(op, err)
	if err != nil {
		logger.FromContext(ctx, s.log).WithError(err).WithField("op", op).Error("cart update failed")
	}
	return err
}

func clone(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}
