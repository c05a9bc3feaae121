package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/internal/kvstore"
)

var (
	ErrNoPendingOrder = errors.New("no pending order")
	// ErrCorruptPending means the journal exists but cannot be replayed.
	ErrCorruptPending = errors.New("pending order is unreadable")
)

// Repository is the order history plus the single-slot commit journal.
type Repository interface {
	List(ctx context.Context) ([]domain.Order, error)
	// AppendIfAbsent adds order unless an order with the same id is already
	// stored. It reports whether the history was written.
	AppendIfAbsent(ctx context.Context, order domain.Order) (bool, error)
	SetPending(ctx context.Context, order domain.Order) error
	GetPending(ctx context.Context) (*domain.Order, error)
	ClearPending(ctx context.Context) error
	// QuarantinePending moves an unreadable journal out of the pending slot.
	QuarantinePending(ctx context.Context) error
}

// StoreRepository keeps the history and the journal in a kvstore.Store.
type StoreRepository struct {
	store kvstore.Store
}

// NewStoreRepository wraps store.
func NewStoreRepository(store kvstore.Store) *StoreRepository {
	return &StoreRepository{store: store}
}

// List returns the history oldest first. A missing history is empty; an
// unreadable one is an error so that appends never overwrite it.
func (r *StoreRepository) List(ctx context.Context) ([]domain.Order, error) {
	var history []domain.Order
	err := kvstore.GetJSON(ctx, r.store, kvstore.KeyOrders, &history)
	if errors.Is(err, kvstore.ErrNotFound) {
		return []domain.Order{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order history: %w", err)
	}
	if history == nil {
		history = []domain.Order{}
	}
	return history, nil
}

func (r *StoreRepository) AppendIfAbsent(ctx context.Context, order domain.Order) (bool, error) {
	history, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	for _, o := range history {
		if o.ID == order.ID {
			return false, nil
		}
	}
	history = append(history, order)
	if err := kvstore.SetJSON(ctx, r.store, kvstore.KeyOrders, history); err != nil {
		return false, fmt.Errorf("failed to save order history: %w", err)
	}
	return true, nil
}

// SetPending overwrites the journal with order.
func (r *StoreRepository) SetPending(ctx context.Context, order domain.Order) error {
	if err := kvstore.SetJSON(ctx, r.store, kvstore.KeyPendingCheckout, order); err != nil {
		return fmt.Errorf("failed to write pending order: %w", err)
	}
	return nil
}

// GetPending returns ErrNoPendingOrder for an empty slot and
// ErrCorruptPending when the slot holds something that is not an order.
func (r *StoreRepository) GetPending(ctx context.Context) (*domain.Order, error) {
	raw, err := r.store.Get(ctx, kvstore.KeyPendingCheckout)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNoPendingOrder
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending order: %w", err)
	}
	var order domain.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPending, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrCorruptPending)
	}
	return &order, nil
}

// ClearPending removes the journal. A missing journal is not an error.
func (r *StoreRepository) ClearPending(ctx context.Context) error {
	if err := r.store.Delete(ctx, kvstore.KeyPendingCheckout); err != nil {
		return fmt.Errorf("failed to clear pending order: %w", err)
	}
	return nil
}

func (r *StoreRepository) QuarantinePending(ctx context.Context) error {
	raw, err := r.store.Get(ctx, kvstore.KeyPendingCheckout)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read pending order: %w", err)
	}
	if err := r.store.Set(ctx, kvstore.KeyPendingCorrupt, raw); err != nil {
		return fmt.Errorf("failed to quarantine pending order: %w", err)
	}
	return r.ClearPending(ctx)
}
