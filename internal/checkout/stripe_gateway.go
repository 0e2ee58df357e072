package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/urban-assist/pkg/logging"
)

var stripeTracer = otel.Tracer("urbanassist.internal.checkout.stripe")

// StripeGateway creates card payment methods through the Stripe API.
type StripeGateway struct {
	api    *client.API
	logger *logging.Logger
}

// StripeOption adjusts the backend used by NewStripeGateway.
type StripeOption func(*stripe.BackendConfig)

// WithStripeBaseURL points the client at another API host (stripe-mock, tests).
func WithStripeBaseURL(baseURL string) StripeOption {
	return func(cfg *stripe.BackendConfig) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			cfg.URL = stripe.String(baseURL)
		}
	}
}

// WithStripeHTTPClient overrides the HTTP client.
func WithStripeHTTPClient(hc *http.Client) StripeOption {
	return func(cfg *stripe.BackendConfig) {
		if hc != nil {
			cfg.HTTPClient = hc
		}
	}
}

// NewStripeGateway builds a gateway for the given secret key. Retries are
// disabled; the checkout never repeats a call on its own.
func NewStripeGateway(secretKey string, logger *logging.Logger, opts ...StripeOption) *StripeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 10 * time.Second},
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		MaxNetworkRetries: stripe.Int64(0),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	return &StripeGateway{
		api:    client.New(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
		logger: logger,
	}
}

func (g *StripeGateway) CreatePaymentMethod(ctx context.Context, card CardInput) (string, error) {
	ctx, span := stripeTracer.Start(ctx, "checkout.stripe.create_payment_method")
	defer span.End()
	span.SetAttributes(attribute.Bool("urbanassist.card_tokenized", card.UsesToken()))

	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		BillingDetails: &stripe.PaymentMethodBillingDetailsParams{
			Name: stripe.String(strings.TrimSpace(card.CardholderName)),
		},
	}
	params.Context = ctx
	if card.UsesToken() {
		params.Card = &stripe.PaymentMethodCardParams{Token: stripe.String(strings.TrimSpace(card.Token))}
	} else {
		params.Card = &stripe.PaymentMethodCardParams{
			Number:   stripe.String(digitsOnly(card.Number)),
			ExpMonth: stripe.Int64(int64(card.ExpMonth)),
			ExpYear:  stripe.Int64(int64(card.ExpYear)),
			CVC:      stripe.String(strings.TrimSpace(card.CVC)),
		}
	}

	pm, err := g.api.PaymentMethods.New(params)
	if err != nil {
		span.RecordError(err)
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < 500 {
			g.logger.Warn("stripe rejected payment method", "status", stripeErr.HTTPStatusCode, "code", string(stripeErr.Code), "type", string(stripeErr.Type))
			return "", &GatewayError{Code: string(stripeErr.Code), Message: stripeErr.Msg}
		}
		return "", fmt.Errorf("checkout: stripe create payment method: %w", err)
	}
	span.SetAttributes(attribute.String("urbanassist.payment_method_id", pm.ID))
	return pm.ID, nil
}
