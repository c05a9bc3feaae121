package checkout

import "errors"

var (
	ErrEmptyCart       = errors.New("cart is empty, nothing to checkout")
	ErrNotInReview     = errors.New("order can only be placed from the review step")
	ErrOrderFailed     = errors.New("order could not be placed")
	ErrAlreadyPlaced   = errors.New("order already placed")
	ErrPaymentDeclined = errors.New("payment declined")
)
