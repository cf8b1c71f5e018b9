package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatBRL renders an amount as "R$ 1.234,56".
func FormatBRL(v decimal.Decimal) string {
	s := v.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := "R$ "
	if neg {
		out += "-"
	}
	return out + b.String() + "," + frac
}
