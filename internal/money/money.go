// Package money does whole-unit currency arithmetic and display formatting.
package money

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/fjod/atomic-storefront/internal/domain"
)

const DefaultCurrency = "MKD"

// LineTotal is price * quantity.
func LineTotal(price float64, quantity int) decimal.Decimal {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(quantity)))
}

// Sum adds up the line totals of items. An empty slice sums to zero.
func Sum(items []domain.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(LineTotal(it.Price, it.Quantity))
	}
	return total
}

// Percent returns amount*rate rounded to whole units, half away from zero.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(0)
}

func Float(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// Formatter renders amounts with locale grouping and no fraction digits.
type Formatter struct {
	printer  *message.Printer
	currency string
}

// NewFormatter builds a formatter for locale (BCP 47) and an ISO 4217 code.
// An unparseable locale or unknown currency yields the plain "<value> <code>"
// fallback.
func NewFormatter(locale, code string) *Formatter {
	if code == "" {
		code = DefaultCurrency
	}
	f := &Formatter{currency: code}

	tag, err := language.Parse(locale)
	if err != nil {
		return f
	}
	if _, err := currency.ParseISO(code); err != nil {
		return f
	}
	f.printer = message.NewPrinter(tag)
	return f
}

func (f *Formatter) Format(v float64) string {
	if f.printer == nil {
		return fmt.Sprintf("%s %s", strconv.FormatFloat(v, 'f', -1, 64), f.currency)
	}
	return f.printer.Sprintf("%v %s", number.Decimal(v, number.MaxFractionDigits(0)), f.currency)
}
