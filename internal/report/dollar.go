package report

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Dollar formats v as US currency with thousands separators: $1,234.56, -$20.00.
// Rounding is half away from zero. NaN and infinities render as "-".
func Dollar(v float64) string {
	if !finite(v) {
		return "-"
	}
	d := decimal.NewFromFloat(v).Round(2)
	neg := d.IsNegative()
	s := d.Abs().StringFixed(2)

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	b.WriteString(group(intPart))
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// Integer formats a count as a plain whole number.
func Integer(v float64) string {
	if !finite(v) {
		return "-"
	}
	return decimal.NewFromFloat(v).Round(0).String()
}

func group(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
