package checkout

import (
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/fjod/atomic-storefront/internal/domain"
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern  = regexp.MustCompile(`^[+]?[0-9\s\-()]{8,}$`)
	digitsPattern = regexp.MustCompile(`^\d{13,19}$`)
	expiryPattern = regexp.MustCompile(`^\d{2}/\d{2}$`)
	cvvPattern    = regexp.MustCompile(`^\d{3,4}$`)
)

// CustomerForm is step 1.
type CustomerForm struct {
	FirstName string `json:"firstName" validate:"notblank"`
	LastName  string `json:"lastName" validate:"notblank"`
	Email     string `json:"email" validate:"notblank,shop_email"`
	Phone     string `json:"phone" validate:"notblank,shop_phone"`
}

// DeliveryForm is step 2. Address fields are only checked for home delivery.
type DeliveryForm struct {
	Method  domain.DeliveryMethod `json:"method"`
	Address string                `json:"address" validate:"notblank"`
	City    string                `json:"city" validate:"notblank"`
	ZipCode string                `json:"zipCode" validate:"notblank"`
	Notes   string                `json:"notes"`
}

// PaymentForm is step 3. Card fields are only checked for card payments.
// CardNumber and ExpiryDate are kept as typed, see FormatCardNumber.
type PaymentForm struct {
	Method     domain.PaymentMethod `json:"method"`
	CardNumber string               `json:"cardNumber" validate:"notblank,card_number"`
	ExpiryDate string               `json:"expiryDate" validate:"notblank,card_expiry"`
	CVV        string               `json:"cvv" validate:"notblank,card_cvv"`
	CardName   string               `json:"cardName" validate:"notblank"`
}

// ValidationErrors maps a form field to the message shown next to it.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var messages = map[string]map[string]string{
	"firstName":  {"notblank": "First name is required"},
	"lastName":   {"notblank": "Last name is required"},
	"email":      {"notblank": "Email is required", "shop_email": "Please enter a valid email"},
	"phone":      {"notblank": "Phone number is required", "shop_phone": "Please enter a valid phone number"},
	"address":    {"notblank": "Address is required"},
	"city":       {"notblank": "City is required"},
	"zipCode":    {"notblank": "ZIP code is required"},
	"cardNumber": {"notblank": "Card number is required", "card_number": "Please enter a valid card number"},
	"expiryDate": {"notblank": "Expiry date is required", "card_expiry": "Format: MM/YY"},
	"cvv":        {"notblank": "CVV is required", "card_cvv": "CVV must be 3-4 digits"},
	"cardName":   {"notblank": "Cardholder name is required"},
}

// Validator runs the per-step form rules.
type Validator struct {
	validate *validator.Validate
}

// NewValidator registers the storefront field rules. Errors are keyed by
// the JSON field name.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("shop_email", matches(emailPattern))
	_ = v.RegisterValidation("shop_phone", matches(phonePattern))
	_ = v.RegisterValidation("card_number", func(fl validator.FieldLevel) bool {
		return ValidCardNumber(fl.Field().String())
	})
	_ = v.RegisterValidation("card_expiry", matches(expiryPattern))
	_ = v.RegisterValidation("card_cvv", matches(cvvPattern))

	return &Validator{validate: v}
}

// Customer checks step 1.
func (v *Validator) Customer(f CustomerForm) ValidationErrors {
	return v.check(f)
}

// Delivery checks step 2. Pickup has nothing to check.
func (v *Validator) Delivery(f DeliveryForm) ValidationErrors {
	switch f.Method {
	case domain.DeliveryMethodPickup:
		return nil
	case domain.DeliveryMethodDelivery:
		return v.check(f)
	default:
		return ValidationErrors{"method": "Please choose a delivery method"}
	}
}

// Payment checks step 3. Cash and bank transfer have nothing to check.
func (v *Validator) Payment(f PaymentForm) ValidationErrors {
	switch f.Method {
	case domain.PaymentMethodCash, domain.PaymentMethodBank:
		return nil
	case domain.PaymentMethodCard:
		return v.check(f)
	default:
		return ValidationErrors{"method": "Please choose a payment method"}
	}
}

func (v *Validator) check(form interface{}) ValidationErrors {
	err := v.validate.Struct(form)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{"form": err.Error()}
	}

	out := make(ValidationErrors, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg, ok := messages[fe.Field()][fe.Tag()]
		if !ok {
			msg = fe.Error()
		}
		out[fe.Field()] = msg
	}
	return out
}

// ValidCardNumber accepts 13 to 19 digits once spaces are removed.
func ValidCardNumber(number string) bool {
	return digitsPattern.MatchString(stripSpaces(number))
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}
