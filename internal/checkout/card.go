package checkout

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

// CardInput is the payment form. Either Token (from a hosted card element)
// or the raw card fields are set.
type CardInput struct {
	CardholderName string `json:"cardholderName"`
	Token          string `json:"token,omitempty"`
	Number         string `json:"number,omitempty"`
	ExpMonth       int    `json:"expMonth,omitempty"`
	ExpYear        int    `json:"expYear,omitempty"`
	CVC            string `json:"cvc,omitempty"`
}

// UsesToken reports whether the card was tokenized upstream.
func (c CardInput) UsesToken() bool {
	return strings.TrimSpace(c.Token) != ""
}

// Last4 returns the last four digits of the card number, if any.
func (c CardInput) Last4() string {
	digits := digitsOnly(c.Number)
	if len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}

// Validate checks the form before anything leaves the process.
func (c CardInput) Validate(now time.Time) error {
	if strings.TrimSpace(c.CardholderName) == "" {
		return failure(CategoryValidation, "Cardholder name is required", nil)
	}
	if c.UsesToken() {
		if !strings.HasPrefix(strings.TrimSpace(c.Token), "tok_") {
			return failure(CategoryValidation, "Your card token is invalid.", nil)
		}
		return nil
	}

	digits := digitsOnly(c.Number)
	if digits == "" {
		return failure(CategoryValidation, "Your card number is incomplete.", nil)
	}
	if len(digits) < 13 || len(digits) > 19 || !luhnValid(digits) {
		return failure(CategoryValidation, "Your card number is invalid.", nil)
	}
	if c.ExpMonth < 1 || c.ExpMonth > 12 || c.ExpYear <= 0 {
		return failure(CategoryValidation, "Your card's expiration date is incomplete.", nil)
	}
	year := c.ExpYear
	if year < 100 {
		year += 2000
	}
	if year < now.Year() || (year == now.Year() && c.ExpMonth < int(now.Month())) {
		return failure(CategoryValidation, "Your card's expiration date is in the past.", nil)
	}
	cvc := strings.TrimSpace(c.CVC)
	if len(cvc) < 3 || len(cvc) > 4 || digitsOnly(cvc) != cvc {
		return failure(CategoryValidation, "Your card's security code is incomplete.", nil)
	}
	return nil
}

var panCandidateRE = regexp.MustCompile(`(?:\d[ -]?){13,19}`)

// RedactPAN masks anything that looks like a card number so the text can be logged.
func RedactPAN(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	return panCandidateRE.ReplaceAllStringFunc(text, func(candidate string) string {
		digits := digitsOnly(candidate)
		if len(digits) < 13 || len(digits) > 19 || !luhnValid(digits) {
			return candidate
		}
		suffix := ""
		if strings.HasSuffix(candidate, " ") || strings.HasSuffix(candidate, "-") {
			suffix = candidate[len(candidate)-1:]
		}
		return "[REDACTED_CARD_" + digits[len(digits)-4:] + "]" + suffix
	})
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func luhnValid(digits string) bool {
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		r := rune(digits[i])
		if !unicode.IsDigit(r) {
			return false
		}
		n := int(r - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}
