package engine

import (
	"fmt"
	"math"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int64) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s,%03d", FormatInt(n/1000), n%1000)
}

// FormatNumber formats a metric value: whole numbers with separators and no
// decimals, anything else rounded to two places.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return FormatInt(int64(v))
	}
	v = RoundTo2(v)
	whole := math.Trunc(v)
	frac := math.Abs(v - whole)
	s := FormatInt(int64(whole)) + fmt.Sprintf("%.2f", frac)[1:]
	if v < 0 && whole == 0 {
		s = "-" + s
	}
	return s
}

// RoundTo2 rounds to 2 decimal places.
func RoundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

// LabelFor turns a snake_case name into a display label.
func LabelFor(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '.' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
