package domain

import "time"

type OrderStatus string

const (
	OrderStatusConfirmed OrderStatus = "confirmed"
)

type DeliveryMethod string

const (
	DeliveryMethodDelivery DeliveryMethod = "delivery"
	DeliveryMethodPickup   DeliveryMethod = "pickup"
)

type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodBank PaymentMethod = "bank"
)

type CustomerInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type DeliveryInfo struct {
	Method  DeliveryMethod `json:"method"`
	Address string         `json:"address,omitempty"`
	City    string         `json:"city,omitempty"`
	ZipCode string         `json:"zipCode,omitempty"`
	Notes   string         `json:"notes,omitempty"`
}

// PaymentInfo is the persisted payment summary. CardNumber only ever holds
// the masked form.
type PaymentInfo struct {
	Method     PaymentMethod `json:"method"`
	CardNumber string        `json:"cardNumber,omitempty"`
	CardName   string        `json:"cardName,omitempty"`
}

type Order struct {
	ID           string       `json:"id"`
	Items        []CartItem   `json:"items"`
	CustomerInfo CustomerInfo `json:"customerInfo"`
	DeliveryInfo DeliveryInfo `json:"deliveryInfo"`
	PaymentInfo  PaymentInfo  `json:"paymentInfo"`
	Total        float64      `json:"total"`
	DeliveryFee  float64      `json:"deliveryFee"`
	Tax          float64      `json:"tax"`
	FinalTotal   float64      `json:"finalTotal"`
	Date         time.Time    `json:"date"`
	Status       OrderStatus  `json:"status"`
}
