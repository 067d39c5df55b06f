// Package amount provides exact-precision money arithmetic for the ledger.
// One unit equals 1,000,000 micro-units, matching the custodial chain's
// minimal unit. All arithmetic and comparison happens on integer micro-units
// so binary floating-point artifacts can never influence a financial decision.
package amount

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MicroPerUnit is the number of micro-units in one whole unit.
const MicroPerUnit = 1_000_000

// MaxFractionDigits is the maximum number of decimal places an amount
// may carry. More precise input is rejected, never rounded.
const MaxFractionDigits = 6

// Amount is a monetary value held as integer micro-units.
// The zero value is a valid zero amount.
type Amount struct {
	micro int64
}

// Zero returns the zero amount.
func Zero() Amount {
	return Amount{}
}

// FromMicro constructs an Amount from a micro-unit count.
func FromMicro(micro int64) Amount {
	return Amount{micro: micro}
}

// Parse converts user input into an Amount.
// It trims whitespace and rejects non-numeric, non-positive, or
// over-precise (more than 6 fractional digits) input with ErrInvalidAmount.
func Parse(input string) (Amount, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return Amount{}, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return Amount{}, ErrInvalidAmount
	}
	// decimal exponent is negative for fractional digits
	if d.Exponent() < -MaxFractionDigits {
		return Amount{}, ErrInvalidAmount
	}

	micro, err := toMicro(d)
	if err != nil {
		return Amount{}, err
	}
	return Amount{micro: micro}, nil
}

// toMicro shifts a decimal into micro-units and verifies the conversion is
// exact. A non-integer result after the shift means precision was lost.
func toMicro(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(MaxFractionDigits)
	if !shifted.IsInteger() {
		return 0, ErrPrecisionLoss
	}
	micro := shifted.IntPart()
	// Round-trip guard: IntPart truncates silently on overflow.
	if !decimal.NewFromInt(micro).Equal(shifted) {
		return 0, ErrPrecisionLoss
	}
	return micro, nil
}

// Micro returns the amount as integer micro-units.
func (a Amount) Micro() int64 {
	return a.micro
}

// Decimal returns the amount as an exact decimal value.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(a.micro).Shift(-MaxFractionDigits)
}

// String renders the canonical 6-decimal form, e.g. "4.500000".
func (a Amount) String() string {
	return a.Decimal().StringFixed(MaxFractionDigits)
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.micro == 0
}

// IsPositive reports whether the amount is strictly positive.
func (a Amount) IsPositive() bool {
	return a.micro > 0
}

// Add returns a+b, or ErrOverflow when the sum wraps int64 micro-units.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := a.micro + b.micro
	if (b.micro > 0 && sum < a.micro) || (b.micro < 0 && sum > a.micro) {
		return Amount{}, ErrOverflow
	}
	return Amount{micro: sum}, nil
}

// Sub returns a-b, or ErrNegativeResult if b exceeds a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b.micro > a.micro {
		return Amount{}, ErrNegativeResult
	}
	return Amount{micro: a.micro - b.micro}, nil
}

// MulInt returns a*n for an integer multiplier, used for payout sizing.
// Negative multipliers are rejected with ErrInvalidAmount; a wrapping
// product is rejected with ErrOverflow.
func (a Amount) MulInt(n int64) (Amount, error) {
	if n < 0 {
		return Amount{}, ErrInvalidAmount
	}
	if n == 0 || a.micro == 0 {
		return Amount{}, nil
	}
	product := a.micro * n
	if product/n != a.micro {
		return Amount{}, ErrOverflow
	}
	return Amount{micro: product}, nil
}

// Cmp compares a and b at micro-unit resolution, returning -1, 0, or 1.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a.micro < b.micro:
		return -1
	case a.micro > b.micro:
		return 1
	default:
		return 0
	}
}

// Equal reports a == b.
func (a Amount) Equal(b Amount) bool {
	return a.micro == b.micro
}

// GT reports a > b.
func (a Amount) GT(b Amount) bool {
	return a.micro > b.micro
}

// GTE reports a >= b.
func (a Amount) GTE(b Amount) bool {
	return a.micro >= b.micro
}

// Sum adds a list of amounts, used when totalling balances for
// reconciliation. Overflow checks apply per addition.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, a := range amounts {
		s, err := total.Add(a)
		if err != nil {
			return Amount{}, err
		}
		total = s
	}
	return total, nil
}
