// Package ledger converts and formats money amounts held as int64 nano units
// (10^-9 of a currency's base unit). Conversions into nanos round up so a
// tenant is never undercharged by a sub-nano remainder.
package ledger

import (
	"fmt"
	"math"
	"strings"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
	"github.com/shopspring/decimal"
)

const (
	NanosPerUnit       int64 = 1_000_000_000
	nanoDigits               = 9
	DefaultMaxDecimals       = 12
)

var (
	maxNanos = decimal.NewFromInt(math.MaxInt64)
	minNanos = decimal.NewFromInt(math.MinInt64)
)

// ToNanos multiplies amount by 10^9 and rounds up. The float is read through
// its shortest decimal representation, so 0.1 becomes exactly 100_000_000.
// NaN and infinities return 0; results outside int64 saturate.
func ToNanos(amount float64) int64 {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	return fromDecimal(decimal.NewFromFloat(amount))
}

// ToDecimal is for display only.
func ToDecimal(nanos int64) float64 {
	return float64(nanos) / float64(NanosPerUnit)
}

// Parse reads an exact decimal string such as "12.5" into nanos, rounding up.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	scaled := d.Shift(nanoDigits).Ceil()
	if scaled.GreaterThan(maxNanos) || scaled.LessThan(minNanos) {
		return 0, fmt.Errorf("parse amount %q: out of range", s)
	}
	return scaled.IntPart(), nil
}

// MulCeil returns ceil(nanos * num / den) without intermediate overflow.
// den must be positive.
func MulCeil(nanos, num, den int64) int64 {
	if den <= 0 {
		panic("ledger: MulCeil with non-positive denominator")
	}
	d := decimal.NewFromInt(nanos).Mul(decimal.NewFromInt(num)).Div(decimal.NewFromInt(den))
	return saturate(d.Ceil())
}

// AddSat returns a+b clamped to the int64 range.
func AddSat(a, b int64) int64 {
	sum := a + b
	switch {
	case a > 0 && b > 0 && sum < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && sum >= 0:
		return math.MinInt64
	}
	return sum
}

func fromDecimal(d decimal.Decimal) int64 {
	return saturate(d.Shift(nanoDigits).Ceil())
}

func saturate(d decimal.Decimal) int64 {
	if d.GreaterThan(maxNanos) {
		return math.MaxInt64
	}
	if d.LessThan(minNanos) {
		return math.MinInt64
	}
	return d.IntPart()
}

// FormatCurrency renders nanos as "$D.F" using integer arithmetic only.
// Trailing zeros are trimmed from the fraction; fraction digits beyond
// maxDecimals are dropped.
func FormatCurrency(nanos int64, maxDecimals int) string {
	return format("$", nanos, maxDecimals)
}

var symbols = map[model.Currency]string{
	model.CurrencyUSD: "$",
	model.CurrencyEUR: "€",
	model.CurrencyGBP: "£",
}

// FormatIn is FormatCurrency with the symbol of the given currency.
func FormatIn(nanos int64, currency model.Currency) string {
	sym, ok := symbols[currency]
	if !ok {
		sym = strings.ToUpper(string(currency)) + " "
	}
	return format(sym, nanos, DefaultMaxDecimals)
}

func format(symbol string, nanos int64, maxDecimals int) string {
	neg := nanos < 0
	abs := uint64(nanos)
	if neg {
		abs = uint64(-(nanos + 1)) + 1
	}
	whole := abs / uint64(NanosPerUnit)
	frac := fmt.Sprintf("%09d", abs%uint64(NanosPerUnit))

	if maxDecimals < 0 {
		maxDecimals = 0
	}
	if maxDecimals < len(frac) {
		frac = frac[:maxDecimals]
	}
	frac = strings.TrimRight(frac, "0")

	var b strings.Builder
	if neg && (whole != 0 || frac != "") {
		b.WriteByte('-')
	}
	b.WriteString(symbol)
	fmt.Fprintf(&b, "%d", whole)
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
