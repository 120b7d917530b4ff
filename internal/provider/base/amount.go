package base

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"payverify/internal/domain/payment"
	"payverify/internal/provider"

	"github.com/shopspring/decimal"
)

// Scale is the number of canonical minor units in one native provider unit.
type Scale int64

const (
	ScaleMinor Scale = 1   // provider already speaks minor units
	ScaleMajor Scale = 100 // provider speaks whole currency units
)

// ToMinor converts an integer native amount into canonical minor units.
func (s Scale) ToMinor(native int64) (payment.Money, error) {
	if native <= 0 {
		return 0, invalidAmount(fmt.Sprintf("amount must be greater than zero: %d", native))
	}
	if native > math.MaxInt64/int64(s) {
		return 0, invalidAmount(fmt.Sprintf("amount out of range: %d", native))
	}
	return payment.Money(native * int64(s)), nil
}

// DecimalToMinor converts a native decimal amount. Amounts that do not land
// on a whole minor unit are rejected rather than rounded.
func (s Scale) DecimalToMinor(d decimal.Decimal) (payment.Money, error) {
	m := d.Mul(decimal.NewFromInt(int64(s)))
	if !m.Equal(m.Truncate(0)) {
		return 0, invalidAmount(fmt.Sprintf("amount %s has sub-minor precision", d.String()))
	}
	if !m.IsPositive() {
		return 0, invalidAmount(fmt.Sprintf("amount must be greater than zero: %s", d.String()))
	}
	if m.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, invalidAmount(fmt.Sprintf("amount out of range: %s", d.String()))
	}
	return payment.Money(m.IntPart()), nil
}

// FromMinor converts canonical minor units back into the native unit.
func (s Scale) FromMinor(m payment.Money) (int64, error) {
	if m <= 0 {
		return 0, invalidAmount(fmt.Sprintf("amount must be greater than zero: %d", m))
	}
	if int64(m)%int64(s) != 0 {
		return 0, invalidAmount(fmt.Sprintf("amount %d is not a whole native unit", m))
	}
	return int64(m) / int64(s), nil
}

// ParseDecimal reads a provider amount of unknown JSON shape without going
// through float64.
func ParseDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(t), ",", ""))
	case float64:
		// only reached when the body was decoded without UseNumber
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case nil:
		return decimal.Zero, fmt.Errorf("amount missing")
	}
	return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
}

func invalidAmount(msg string) error {
	return &provider.ProviderError{
		Kind:    provider.KindInvalidRequest,
		Code:    provider.CodeInvalidAmount,
		Message: msg,
	}
}
