package base

import (
	"fmt"
	"regexp"
	"strings"

	"payverify/internal/domain/payment"
	"payverify/internal/provider"
)

// PhoneValidator normalises and checks MSISDNs for one country
type PhoneValidator struct {
	countryCode string
	prefix      string
	patterns    []*regexp.Regexp
}

// NewPhoneValidator creates a validator for a specific country
func NewPhoneValidator(countryCode string) *PhoneValidator {
	var (
		prefix   string
		patterns []*regexp.Regexp
	)

	switch countryCode {
	case "KE": // Kenya
		prefix = "254"
		patterns = []*regexp.Regexp{
			regexp.MustCompile(`^254[17]\d{8}$`), // Safaricom, Airtel
		}
	case "UG": // Uganda
		prefix = "256"
		patterns = []*regexp.Regexp{
			regexp.MustCompile(`^256[37]\d{8}$`), // MTN, Airtel
		}
	case "TZ": // Tanzania
		prefix = "255"
		patterns = []*regexp.Regexp{
			regexp.MustCompile(`^255[67]\d{8}$`), // Vodacom, Airtel, Tigo
		}
	}

	return &PhoneValidator{
		countryCode: countryCode,
		prefix:      prefix,
		patterns:    patterns,
	}
}

// ValidatePhone validates and normalizes a phone number to 2547XXXXXXXX form
func (v *PhoneValidator) ValidatePhone(phone string) (string, error) {
	normalized := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(strings.TrimSpace(phone))

	// local format: 07XXXXXXXX
	if strings.HasPrefix(normalized, "0") && v.prefix != "" {
		normalized = v.prefix + normalized[1:]
	}

	for _, pattern := range v.patterns {
		if pattern.MatchString(normalized) {
			return normalized, nil
		}
	}

	return "", &provider.ProviderError{
		Kind:    provider.KindInvalidRequest,
		Code:    provider.CodeInvalidPhone,
		Message: fmt.Sprintf("invalid phone number format for %s", v.countryCode),
	}
}

// AmountValidator enforces per-transaction limits in native units
type AmountValidator struct {
	minAmount int64
	maxAmount int64
	currency  payment.Currency
}

// NewAmountValidator creates an amount validator with limits
func NewAmountValidator(currency payment.Currency, minAmount, maxAmount int64) *AmountValidator {
	return &AmountValidator{
		minAmount: minAmount,
		maxAmount: maxAmount,
		currency:  currency,
	}
}

// ValidateAmount validates payment amount
func (v *AmountValidator) ValidateAmount(amount int64) error {
	if amount <= 0 {
		return invalidAmount("amount must be greater than zero")
	}
	if amount < v.minAmount {
		return invalidAmount(fmt.Sprintf("amount must be at least %d %s", v.minAmount, v.currency))
	}
	if v.maxAmount > 0 && amount > v.maxAmount {
		return invalidAmount(fmt.Sprintf("amount must not exceed %d %s", v.maxAmount, v.currency))
	}
	return nil
}

// PushValidator checks a push request before it leaves the process
type PushValidator struct {
	phone  *PhoneValidator
	amount *AmountValidator
	scale  Scale
}

// NewPushValidator creates a validator; limits are in native units
func NewPushValidator(countryCode string, currency payment.Currency, scale Scale, minAmount, maxAmount int64) *PushValidator {
	return &PushValidator{
		phone:  NewPhoneValidator(countryCode),
		amount: NewAmountValidator(currency, minAmount, maxAmount),
		scale:  scale,
	}
}

// ValidatePushReq validates req and normalises its phone in place. It
// returns the amount in native units.
func (v *PushValidator) ValidatePushReq(req *provider.PushRequest) (int64, error) {
	native, err := v.scale.FromMinor(req.Amount)
	if err != nil {
		return 0, err
	}
	if err := v.amount.ValidateAmount(native); err != nil {
		return 0, err
	}

	phone, err := v.phone.ValidatePhone(req.Phone)
	if err != nil {
		return 0, err
	}
	req.Phone = phone

	if strings.TrimSpace(req.AccountReference) == "" {
		return 0, &provider.ProviderError{
			Kind:    provider.KindInvalidRequest,
			Code:    provider.CodeInvalidReference,
			Message: "account reference is required",
		}
	}
	if len(req.AccountReference) > 12 {
		req.AccountReference = req.AccountReference[:12]
	}
	if strings.TrimSpace(req.Description) == "" {
		req.Description = "Payment"
	}
	if len(req.Description) > 13 {
		req.Description = req.Description[:13]
	}
	return native, nil
}
