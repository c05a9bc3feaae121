package domain

// CheckoutStep is the active page of the checkout wizard.
type CheckoutStep int

const (
	StepCustomerInfo CheckoutStep = iota + 1
	StepDeliveryInfo
	StepPaymentInfo
	StepReview
)

func (s CheckoutStep) String() string {
	switch s {
	case StepCustomerInfo:
		return "CUSTOMER_INFO"
	case StepDeliveryInfo:
		return "DELIVERY_INFO"
	case StepPaymentInfo:
		return "PAYMENT_INFO"
	case StepReview:
		return "REVIEW"
	default:
		return "UNKNOWN"
	}
}

type CheckoutStatus string

const (
	CheckoutStatusInProgress  CheckoutStatus = "IN_PROGRESS"
	CheckoutStatusOrderPlaced CheckoutStatus = "ORDER_PLACED"
	CheckoutStatusOrderFailed CheckoutStatus = "ORDER_FAILED"
)

// IsTerminal reports whether no further transition is possible.
// OrderFailed is not terminal: the order may be retried.
func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusOrderPlaced
}

// String representation (for logging)
func (s CheckoutStatus) String() string {
	return string(s)
}

var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusInProgress:  {CheckoutStatusOrderPlaced, CheckoutStatusOrderFailed},
	CheckoutStatusOrderFailed: {CheckoutStatusOrderPlaced, CheckoutStatusOrderFailed, CheckoutStatusInProgress},
}

func CanTransitionTo(from, to CheckoutStatus) bool {
	for _, s := range checkoutTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
