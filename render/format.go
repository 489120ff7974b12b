package render

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var audPrinter = message.NewPrinter(language.MustParse("en-AU"))

// FormatAUD formats an amount as Australian dollars, e.g. $1,250.00.
func FormatAUD(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		amount = 0
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return sign + "$" + audPrinter.Sprint(number.Decimal(amount, number.Scale(2)))
}

// Checkbox renders a boolean as a ticked or empty box.
func Checkbox(v bool) string {
	if v {
		return "☑"
	}
	return "☐"
}
