package checkout

import (
	"errors"
	"fmt"
)

// ErrPaymentFailed matches every *PaymentError.
var ErrPaymentFailed = errors.New("checkout: payment failed")

// Category classifies where a checkout failed.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryGateway    Category = "gateway"
	CategoryBackend    Category = "backend"
	CategoryConflict   Category = "conflict"
	CategoryNetwork    Category = "network"
)

// PaymentError is a failed checkout. Message is the raw reason from the
// failing party; DisplayMessage renders it for the user.
type PaymentError struct {
	Category Category
	Message  string
	Err      error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("checkout: %s: %s", e.Category, e.Message)
}

func (e *PaymentError) Unwrap() error { return e.Err }

func (e *PaymentError) Is(target error) bool { return target == ErrPaymentFailed }

// DisplayMessage is the text shown next to the payment form.
func (e *PaymentError) DisplayMessage() string {
	switch e.Category {
	case CategoryBackend, CategoryConflict:
		return "Payment failed: " + e.Message
	case CategoryNetwork:
		return "Payment request failed: " + e.Message
	default:
		return e.Message
	}
}

func failure(category Category, message string, err error) *PaymentError {
	return &PaymentError{Category: category, Message: message, Err: err}
}
