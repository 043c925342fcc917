// Package confirmclient talks to the backend's mint order endpoints.
package confirmclient

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

	"mint-confirm-service/internal/modal"
	"mint-confirm-service/internal/recovery"
)

const (
	// DefaultTimeout matches the backend's slowest confirm path, which waits
	// for the transaction receipt before answering.
	DefaultTimeout = 45 * time.Second

	headerContentType    = "Content-Type"
	headerAcceptLanguage = "Accept-Language"
	headerAuthorization  = "Authorization"
	mimeApplicationJSON  = "application/json"
)

// APIError is a response whose envelope code is not zero.
type APIError struct {
	Endpoint   string
	HTTPStatus int
	Code       int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("%s: %s (code %d, %s)", e.Endpoint, e.Message, e.Code, e.ErrorCode)
	}
	return fmt.Sprintf("%s: %s (code %d)", e.Endpoint, e.Message, e.Code)
}

// envelope is the backend's response wrapper.
type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"error_code,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
	locale     string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithAuthToken sends the token as a bearer Authorization header.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

func WithLocale(locale string) Option {
	return func(c *Client) {
		c.locale = locale
	}
}

// New returns a client for the API rooted at baseURL, e.g. "https://host/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		locale:     "en",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Confirm reports txHash as the payment for orderID.
func (c *Client) Confirm(ctx context.Context, orderID, txHash string) (*modal.ConfirmResult, error) {
	body := map[string]string{"tx_hash": txHash}
	var out modal.ConfirmResult
	if err := c.do(ctx, http.MethodPost, "/mint/orders/"+url.PathEscape(orderID)+"/confirm", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches the current state of orderID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*modal.ConfirmResult, error) {
	var out modal.ConfirmResult
	if err := c.do(ctx, http.MethodGet, "/mint/orders/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)
	if c.locale != "" {
		req.Header.Set(headerAcceptLanguage, c.locale)
	}
	if c.authToken != "" {
		req.Header.Set(headerAuthorization, "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("invalid API response format (non-JSON) from %s, status %d", endpoint, resp.StatusCode)
	}
	if env.Code != 0 {
		msg := env.Message
		if msg == "" {
			msg = "request failed"
		}
		return &APIError{
			Endpoint:   endpoint,
			HTTPStatus: resp.StatusCode,
			Code:       env.Code,
			ErrorCode:  env.ErrorCode,
			Message:    msg,
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, env.Message)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s response data: %w", endpoint, err)
	}
	return nil
}

var _ recovery.ConfirmationClient = (*Client)(nil)
