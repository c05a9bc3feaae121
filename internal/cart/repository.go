package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/internal/kvstore"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrCorruptCart  = errors.New("cart payload is not a JSON array")
)

// Repository persists the whole cart as one document.
type Repository interface {
	GetCart(ctx context.Context) ([]domain.CartItem, error)
	SaveCart(ctx context.Context, items []domain.CartItem) error
}

// StoreRepository keeps the cart under kvstore.KeyCart.
type StoreRepository struct {
	store kvstore.Store
}

// NewStoreRepository keeps the cart as one JSON document under the cart key.
func NewStoreRepository(store kvstore.Store) *StoreRepository {
	return &StoreRepository{store: store}
}

// GetCart returns ErrCartNotFound for a missing cart and ErrCorruptCart for
// a value that does not decode.
func (r *StoreRepository) GetCart(ctx context.Context) ([]domain.CartItem, error) {
	raw, err := r.store.Get(ctx, kvstore.KeyCart)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return DecodeItems(raw)
}

// SaveCart overwrites the stored cart.
func (r *StoreRepository) SaveCart(ctx context.Context, items []domain.CartItem) error {
	data, err := EncodeItems(items)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, kvstore.KeyCart, data); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

// EncodeItems renders items as a JSON array; nil becomes [].
func EncodeItems(items []domain.CartItem) (string, error) {
	if items == nil {
		items = []domain.CartItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal cart failed: %w", err)
	}
	return string(data), nil
}

// DecodeItems parses a stored cart leniently. Quantities below one (or
// missing, or not numeric) become 1, prices that are not numbers become 0,
// numeric strings are accepted, non-object entries are skipped and repeated
// ids are merged into the first occurrence.
func DecodeItems(raw string) ([]domain.CartItem, error) {
	if !gjson.Valid(raw) {
		return nil, ErrCorruptCart
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsArray() {
		return nil, ErrCorruptCart
	}

	items := make([]domain.CartItem, 0)
	index := make(map[int64]int)
	parsed.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		item := domain.CartItem{
			ID:       v.Get("id").Int(),
			Name:     firstString(v, "name", "title"),
			Price:    normalizePrice(v.Get("price")),
			Image:    firstString(v, "image", "image_url", "thumbnail"),
			Quantity: normalizeQuantity(v.Get("quantity")),
		}
		if i, ok := index[item.ID]; ok {
			items[i].Quantity += item.Quantity
			return true
		}
		index[item.ID] = len(items)
		items = append(items, item)
		return true
	})
	return items, nil
}

func normalizeQuantity(v gjson.Result) int {
	q := v.Int()
	if q < 1 {
		return 1
	}
	return int(q)
}

func normalizePrice(v gjson.Result) float64 {
	p := v.Float()
	if p < 0 {
		return 0
	}
	return p
}

func firstString(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := v.Get(p).String(); s != "" {
			return s
		}
	}
	return ""
}
