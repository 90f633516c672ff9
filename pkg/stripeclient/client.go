/**
 * @description
 * This package provides a client for the Stripe-like payment gateway API.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * gateway's customer and charge endpoints, handling request body construction,
 * and parsing responses. The raw response body is always retained so callers
 * can store it for audit.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, strings, time: Standard Go libraries.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a client for the payment gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payment gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CustomerResponse is the gateway's representation of a created customer.
type CustomerResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ChargeResponse is the gateway's representation of a charge attempt. Raw
// holds the full response body for audit storage.
type ChargeResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   int64           `json:"amount"` // in minor units
	Currency string          `json:"currency"`
	Paid     bool            `json:"paid"`
	Raw      json.RawMessage `json:"-"`
}

// ErrorResponse represents an error returned by the gateway. Raw holds the
// full error body so it can be stored on the transaction for audit.
type ErrorResponse struct {
	Err struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	StatusCode int             `json:"-"`
	Raw        json.RawMessage `json:"-"`
}

func (e *ErrorResponse) Error() string {
	if e.Err.Message != "" {
		return fmt.Sprintf("gateway error: %s (%s)", e.Err.Message, e.Err.Code)
	}
	return fmt.Sprintf("gateway error: status %d", e.StatusCode)
}

// CreateCustomer registers a customer with the gateway so the charge can be
// attributed and the payment source attached.
func (c *Client) CreateCustomer(ctx context.Context, name, email, source string) (*CustomerResponse, error) {
	form := url.Values{}
	form.Set("name", name)
	form.Set("email", email)
	form.Set("source", source)

	body, err := c.doForm(ctx, "/v1/customers", form)
	if err != nil {
		return nil, err
	}

	var customer CustomerResponse
	if err := json.Unmarshal(body, &customer); err != nil {
		return nil, fmt.Errorf("failed to decode customer response: %w", err)
	}
	return &customer, nil
}

// CreateCharge moves the given amount (in minor units) from the customer's
// payment source.
func (c *Client) CreateCharge(ctx context.Context, customerID string, amount int64, currency string) (*ChargeResponse, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", strings.ToLower(currency))

	body, err := c.doForm(ctx, "/v1/charges", form)
	if err != nil {
		return nil, err
	}

	var charge ChargeResponse
	if err := json.Unmarshal(body, &charge); err != nil {
		return nil, fmt.Errorf("failed to decode charge response: %w", err)
	}
	charge.Raw = body
	return &charge, nil
}

// doForm executes a form-encoded POST against the gateway and returns the raw
// body on success, or a typed *ErrorResponse on a non-2xx status.
func (c *Client) doForm(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute gateway request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode, Raw: bodyBytes}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=stripe_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return nil, errResp
		}
		log.Printf("level=warn component=stripe_client path=%s status=%d code=%q msg=%q", path, resp.StatusCode, errResp.Err.Code, errResp.Err.Message)
		return nil, errResp
	}

	return bodyBytes, nil
}
