package checkout

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validationNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func validCard() CardInput {
	return CardInput{
		CardholderName: "Dana Reyes",
		Number:         "4242 4242 4242 4242",
		ExpMonth:       12,
		ExpYear:        2026,
		CVC:            "123",
	}
}

func TestCardValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CardInput)
		wantMsg string
	}{
		{"valid", func(*CardInput) {}, ""},
		{"token only", func(c *CardInput) { *c = CardInput{CardholderName: "Dana", Token: "tok_visa"} }, ""},
		{"two digit year", func(c *CardInput) { c.ExpYear = 26 }, ""},
		{"current month", func(c *CardInput) { c.ExpYear, c.ExpMonth = 2024, 6 }, ""},
		{"missing name", func(c *CardInput) { c.CardholderName = "  " }, "Cardholder name is required"},
		{"bad token", func(c *CardInput) { *c = CardInput{CardholderName: "Dana", Token: "pm_123"} }, "Your card token is invalid."},
		{"missing number", func(c *CardInput) { c.Number = "" }, "Your card number is incomplete."},
		{"luhn failure", func(c *CardInput) { c.Number = "4242424242424241" }, "Your card number is invalid."},
		{"short number", func(c *CardInput) { c.Number = "4242" }, "Your card number is invalid."},
		{"bad month", func(c *CardInput) { c.ExpMonth = 13 }, "Your card's expiration date is incomplete."},
		{"expired", func(c *CardInput) { c.ExpYear, c.ExpMonth = 2024, 5 }, "Your card's expiration date is in the past."},
		{"short cvc", func(c *CardInput) { c.CVC = "12" }, "Your card's security code is incomplete."},
		{"alpha cvc", func(c *CardInput) { c.CVC = "12a" }, "Your card's security code is incomplete."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := validCard()
			tt.mutate(&card)
			err := card.Validate(validationNow)
			if tt.wantMsg == "" {
				require.NoError(t, err)
				return
			}
			var perr *PaymentError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, CategoryValidation, perr.Category)
			assert.Equal(t, tt.wantMsg, perr.Message)
			assert.ErrorIs(t, err, ErrPaymentFailed)
		})
	}
}

func TestLast4(t *testing.T) {
	assert.Equal(t, "4242", validCard().Last4())
	assert.Equal(t, "", CardInput{Token: "tok_visa"}.Last4())
}

func TestRedactPAN(t *testing.T) {
	in := "card 4242 4242 4242 4242 was declined, order 1234567890123"
	got := RedactPAN(in)
	assert.Equal(t, "card [REDACTED_CARD_4242] was declined, order 1234567890123", got)
	assert.Equal(t, "nothing here", RedactPAN("nothing here"))
	assert.Equal(t, "", RedactPAN(""))
}

func TestDisplayMessage(t *testing.T) {
	tests := []struct {
		err  *PaymentError
		want string
	}{
		{&PaymentError{Category: CategoryBackend, Message: "Insufficient funds"}, "Payment failed: Insufficient funds"},
		{&PaymentError{Category: CategoryConflict, Message: "Slot already booked"}, "Payment failed: Slot already booked"},
		{&PaymentError{Category: CategoryNetwork, Message: "request timed out"}, "Payment request failed: request timed out"},
		{&PaymentError{Category: CategoryGateway, Message: "Your card was declined."}, "Your card was declined."},
		{&PaymentError{Category: CategoryValidation, Message: "Cardholder name is required"}, "Cardholder name is required"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.DisplayMessage())
	}
}
