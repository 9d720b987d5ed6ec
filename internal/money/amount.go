package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts are carried through the engine as int64 fixed-point values.
// The input format supports four decimal places of precision, so the scale
// is 1e4. Decimal arithmetic happens only at the I/O boundary — the core
// never touches floating point.
const (
	DecimalPrecision = 4
	Scale            = 10_000
)

var scaleDec = decimal.New(Scale, 0)

// Parse converts a decimal string ("1.5", "0.0001") into fixed-point units.
// Rejects values with more than four decimal places rather than silently
// rounding — a transaction amount that cannot be represented exactly is a
// malformed record, not an approximation target.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	// Compare against the truncated value rather than the exponent:
	// "1.50000" carries exponent -5 but is exactly representable.
	if !d.Equal(d.Truncate(DecimalPrecision)) {
		return 0, fmt.Errorf("parse amount %q: more than %d decimal places", s, DecimalPrecision)
	}
	units := d.Mul(scaleDec).BigInt()
	if !units.IsInt64() {
		return 0, fmt.Errorf("parse amount %q: out of range", s)
	}
	return units.Int64(), nil
}

// Format renders fixed-point units as a canonical decimal string with
// trailing zeros trimmed ("1.5", not "1.5000").
func Format(v int64) string {
	return decimal.New(v, -DecimalPrecision).String()
}
