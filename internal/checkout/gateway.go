package checkout

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/urban-assist/pkg/logging"
)

// Gateway turns card details into a reusable payment method id.
type Gateway interface {
	CreatePaymentMethod(ctx context.Context, card CardInput) (string, error)
}

// GatewayError is a rejection from the payment gateway. Message is shown to
// the user as is.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway rejected card (%s): %s", e.Code, e.Message)
	}
	return "gateway rejected card: " + e.Message
}

// FakeGateway is a dev/demo gateway that mints payment method ids without
// calling Stripe. It must be gated by ALLOW_FAKE_PAYMENTS and never enabled
// in production.
type FakeGateway struct {
	logger *logging.Logger
}

func NewFakeGateway(logger *logging.Logger) *FakeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeGateway{logger: logger}
}

func (g *FakeGateway) CreatePaymentMethod(ctx context.Context, card CardInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "pm_fake_" + uuid.NewString()
	g.logger.Warn("fake gateway issued payment method", "payment_method_id", id, "last4", card.Last4())
	return id, nil
}
