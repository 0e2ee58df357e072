package marketplace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RecordID accepts availability ids sent either as JSON strings or numbers.
type RecordID string

func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("marketplace: id must be string or number: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = RecordID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = RecordID(n.String())
	return nil
}

// AvailabilityRecord is one open window as returned by /api/availabilities/get.
type AvailabilityRecord struct {
	ID            RecordID `json:"id"`
	StartTime     string   `json:"startTime"`
	EndTime       string   `json:"endTime"`
	ProviderEmail string   `json:"providerEmail"`
	Service       string   `json:"service"`
}

type availabilityQuery struct {
	Service string `json:"service"`
	ID      string `json:"id"`
}

// ProviderProfile is the subset of the provider profile the checkout needs.
// Raw keeps the full document so it can be echoed back on the charge.
type ProviderProfile struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Email string          `json:"email,omitempty"`
	Price float64         `json:"price"`
	Raw   json.RawMessage `json:"-"`
}

// CardPayRequest is the body of POST /payments/card-pay.
type CardPayRequest struct {
	User CardPayUser `json:"user"`
	Card CardPayCard `json:"card"`
}

type CardPayUser struct {
	ID         string          `json:"id"`
	Service    string          `json:"service"`
	ProviderID string          `json:"providerId"`
	Provider   json.RawMessage `json:"provider,omitempty"`
	Slot       CardPaySlot     `json:"slot"`
}

type CardPaySlot struct {
	ID                string `json:"id"`
	Date              string `json:"date"`
	StartTime         string `json:"startTime"`
	EndTime           string `json:"endTime"`
	OriginalStartTime string `json:"originalStartTime"`
	OriginalEndTime   string `json:"originalEndTime"`
}

type CardPayCard struct {
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	PaymentMethodID string  `json:"paymentMethodId"`
	CardholderName  string  `json:"cardholderName"`
}

// CardPayResponse is the success body of a charge. Fields are optional.
type CardPayResponse struct {
	Message   string `json:"message,omitempty"`
	BookingID string `json:"bookingId,omitempty"`
}

// APIError is a non-2xx answer from the marketplace backend.
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("marketplace API returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("marketplace API returned %d: %s", e.Status, e.Body)
}

// errorMessage pulls the human readable message out of an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Error) > 0 {
		var s string
		if err := json.Unmarshal(payload.Error, &s); err == nil {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return payload.Message
}
