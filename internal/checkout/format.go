package checkout

import (
	"regexp"
	"strings"
)

var (
	whitespace = regexp.MustCompile(`\s`)
	nonDigits  = regexp.MustCompile(`\D`)
)

const maxCardNumberLen = 19

// FormatCardNumber groups the typed number in blocks of four, e.g.
// "4111111111111111" becomes "4111 1111 1111 1111". The result is cut at 19
// characters.
func FormatCardNumber(text string) string {
	cleaned := stripSpaces(text)

	var b strings.Builder
	for i, r := range []rune(cleaned) {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return truncate(b.String(), maxCardNumberLen)
}

// FormatExpiryDate keeps digits only and inserts the slash after the month:
// "1225" becomes "12/25", "1" stays "1".
func FormatExpiryDate(text string) string {
	cleaned := nonDigits.ReplaceAllString(text, "")
	if len(cleaned) < 2 {
		return cleaned
	}
	return cleaned[:2] + "/" + truncate(cleaned[2:], 2)
}

// MaskCardNumber keeps the last four characters of the number.
func MaskCardNumber(number string) string {
	cleaned := []rune(stripSpaces(number))
	if len(cleaned) > 4 {
		cleaned = cleaned[len(cleaned)-4:]
	}
	return "**** **** **** " + string(cleaned)
}

func stripSpaces(s string) string {
	return whitespace.ReplaceAllString(s, "")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
