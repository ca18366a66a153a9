package util

import (
	"math"
	"strconv"
	"strings"
)

// FormatPrice picks decimal precision by magnitude. Crypto prices span many
// orders of magnitude: a fixed precision either truncates small-cap assets
// to zero or shows meaningless digits on large-cap ones. Non-numeric input
// formats as "0.00".
func FormatPrice(f float64) string {

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0.00"
	}

	negative := f < 0
	abs := math.Abs(f)

	var s string
	switch {
	case abs < 0.0001:
		s = strconv.FormatFloat(abs, 'f', 8, 64)
	case abs < 0.01:
		s = strconv.FormatFloat(abs, 'f', 6, 64)
	case abs < 1:
		s = strconv.FormatFloat(abs, 'f', 4, 64)
	case abs < 100:
		s = strconv.FormatFloat(abs, 'f', 2, 64)
	case abs < 10000:
		s = group(strconv.FormatFloat(abs, 'f', 2, 64))
	default:
		s = group(strconv.FormatFloat(abs, 'f', 0, 64))
	}

	if negative {
		return "-" + s
	}
	return s
}

// FormatChange renders a signed percent change, e.g. "+2.00%" / "-3.41%".
func FormatChange(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "+0.00%"
	}
	sign := "+"
	if f < 0 {
		sign = "-"
	}
	return sign + FormatPrice(math.Abs(f)) + "%"
}

// FormatUSD prefixes a formatted price with a dollar sign.
func FormatUSD(f float64) string {
	return "$" + FormatPrice(f)
}

// group inserts thousands separators into the integer part of a formatted
// non-negative number.
func group(s string) string {

	intPart := s
	var fracPart string
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}

	if len(intPart) <= 3 {
		return s
	}

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}

	return b.String() + fracPart
}
