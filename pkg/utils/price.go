package utils

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var pricePrinter = message.NewPrinter(language.English)

// FormatPrice renders a price for display. VND amounts have no decimals and a
// trailing "đ"; other currencies keep two decimals followed by the currency code.
func FormatPrice(price float64, currency string) string {
	if currency == "" || strings.EqualFold(currency, "VND") {
		return pricePrinter.Sprintf("%.0fđ", price)
	}
	return pricePrinter.Sprintf("%.2f %s", price, strings.ToUpper(currency))
}

// GroupThousands renders a whole number with comma thousands separators.
func GroupThousands(v float64) string {
	return pricePrinter.Sprintf("%.0f", v)
}
