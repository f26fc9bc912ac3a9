// Package money implements the engine's monetary arithmetic. Every amount that
// crosses a component boundary is an int64 count of minor units; decimal math
// exists only at the parse and fee-split edges, with banker's rounding.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

// minorUnitsPerMajor is fixed at 100: the platform settles in currencies with
// two decimal places (KES, NGN, USD).
var minorUnitsPerMajor = decimal.NewFromInt(100)

// Parse converts a human-entered amount in major units ("5000", "49.99") to
// minor units, rounding half-even. Negative, empty, or non-numeric input fails
// with a validation error.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, domain.NewValidationError("amount is required")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, domain.NewValidationError("amount %q is not a number", s)
	}
	if d.IsNegative() {
		return 0, domain.NewValidationError("amount must not be negative")
	}

	minor := d.Mul(minorUnitsPerMajor).RoundBank(0)
	if !minor.IsInteger() || minor.BigInt().BitLen() > 62 {
		return 0, domain.NewValidationError("amount %q is out of range", s)
	}
	return minor.IntPart(), nil
}

// Split divides a total into the platform fee and the seller share.
// fee = round(total × feeRate) half-even, seller = total − fee. feeRate must
// lie in [0, 1).
func Split(total int64, feeRate float64) (fee, seller int64, err error) {
	if total < 0 {
		return 0, 0, domain.NewValidationError("total must not be negative")
	}
	if feeRate < 0 || feeRate >= 1 {
		return 0, 0, domain.NewValidationError("fee rate %v out of range [0, 1)", feeRate)
	}

	rate := decimal.NewFromFloat(feeRate)
	fee = decimal.NewFromInt(total).Mul(rate).RoundBank(0).IntPart()
	return fee, total - fee, nil
}

// Portion returns percent% of total in minor units, rounded half-even.
// percent must lie in [0, 100].
func Portion(total int64, percent int) (int64, error) {
	if total < 0 {
		return 0, domain.NewValidationError("total must not be negative")
	}
	if percent < 0 || percent > 100 {
		return 0, domain.NewValidationError("percent %d out of range [0, 100]", percent)
	}
	return decimal.NewFromInt(total).
		Mul(decimal.NewFromInt(int64(percent))).
		Div(decimal.NewFromInt(100)).
		RoundBank(0).IntPart(), nil
}

// Format renders minor units for display, e.g. Format(500000, "KES") = "KES 5,000.00".
// The engine transports integers on the wire; this is presentation only.
func Format(minor int64, currency string) string {
	d := decimal.NewFromInt(minor).Div(minorUnitsPerMajor)
	whole := d.Truncate(0).IntPart()
	frac := d.Sub(d.Truncate(0)).Abs().Mul(minorUnitsPerMajor).Round(0).IntPart()

	sign := ""
	if whole < 0 || (whole == 0 && minor < 0) {
		sign = "-"
		whole = -whole
	}
	return fmt.Sprintf("%s %s%s.%02d", currency, sign, groupThousands(whole), frac)
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
