// Package marketplace is the REST client for the Urban Assist backend:
// availability reads, provider pricing and card-pay charges.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/urban-assist/internal/auth"
	"github.com/wolfman30/urban-assist/pkg/logging"
)

const (
	defaultBaseURL = "http://localhost:5000"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 300
)

// Client calls the marketplace backend on behalf of an authenticated user.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// NewClient constructs a marketplace REST client. A zero timeout uses the default.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// ListAvailabilities returns the provider's open windows for a service.
func (c *Client) ListAvailabilities(ctx context.Context, a auth.Context, providerID, service string) ([]AvailabilityRecord, error) {
	var raw json.RawMessage
	body := availabilityQuery{Service: service, ID: providerID}
	if err := c.doJSON(ctx, a, http.MethodPost, "/api/availabilities/get", body, &raw); err != nil {
		return nil, fmt.Errorf("list availabilities: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return []AvailabilityRecord{}, nil
	}

	var records []AvailabilityRecord
	if err := json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}
	var wrapped struct {
		Availabilities []AvailabilityRecord `json:"availabilities"`
		Data           []AvailabilityRecord `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("list availabilities: decode response: %w", err)
	}
	if len(wrapped.Availabilities) > 0 {
		return wrapped.Availabilities, nil
	}
	if wrapped.Data == nil {
		return []AvailabilityRecord{}, nil
	}
	return wrapped.Data, nil
}

// GetProviderProfile reads the provider's public profile, including the
// price of the requested service.
func (c *Client) GetProviderProfile(ctx context.Context, a auth.Context, providerID, service string) (*ProviderProfile, error) {
	q := url.Values{}
	q.Set("service", service)
	path := fmt.Sprintf("/api/provider/profile/%s?%s", url.PathEscape(providerID), q.Encode())

	var raw json.RawMessage
	if err := c.doJSON(ctx, a, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("get provider profile: %w", err)
	}
	var profile ProviderProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("get provider profile: decode response: %w", err)
	}
	profile.Raw = raw
	return &profile, nil
}

// SubmitCardPayment posts a charge for a confirmed slot.
func (c *Client) SubmitCardPayment(ctx context.Context, a auth.Context, req CardPayRequest) (*CardPayResponse, error) {
	var resp CardPayResponse
	if err := c.doJSON(ctx, a, http.MethodPost, "/payments/card-pay", req, &resp); err != nil {
		return nil, fmt.Errorf("card pay: %w", err)
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, a auth.Context, method, path string, body any, out any) error {
	if !a.Authenticated() {
		return auth.ErrNotAuthenticated
	}
	endpoint := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", a.BearerHeader())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		c.logger.Warn("marketplace API non-2xx response", "status", resp.StatusCode, "method", method, "path", req.URL.Path)
		return &APIError{Status: resp.StatusCode, Message: errorMessage(respBody), Body: msg}
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
