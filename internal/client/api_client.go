package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"

	"go.uber.org/zap"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	DeviceHeader      = "X-Device-ID"
)

type endpoint struct {
	method string
	path   string
}

var endpoints = map[models.EventType]endpoint{
	models.EventCheckin:  {http.MethodPost, "/api/visits/checkin"},
	models.EventCheckout: {http.MethodPost, "/api/visits/checkout"},
	models.EventCompany:  {http.MethodPost, "/api/companies"},
	models.EventSale:     {http.MethodPost, "/api/sales"},
}

// APIClient handles communication with the visit API
type APIClient struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *APIClient) SetDeviceID(id string) {
	c.deviceID = id
}

// Replay sends a queued event to its endpoint, unchanged, with the event id
// as idempotency key.
func (c *APIClient) Replay(ctx context.Context, ev models.PendingEvent) (json.RawMessage, error) {
	ep, ok := endpoints[ev.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, ev.Type)
	}
	return c.send(ctx, ep.method, ep.path, ev.Payload, ev.ID)
}

func (c *APIClient) CheckIn(ctx context.Context, req models.CheckinRequest) (*models.CheckinVisit, error) {
	var resp models.CheckinResponse
	if err := c.call(ctx, http.MethodPost, endpoints[models.EventCheckin].path, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Visit, nil
}

func (c *APIClient) CheckOut(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutVisit, error) {
	var resp models.CheckoutResponse
	if err := c.call(ctx, http.MethodPost, endpoints[models.EventCheckout].path, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Visit, nil
}

// ActiveVisit returns the caller's open visit, or nil when there is none.
func (c *APIClient) ActiveVisit(ctx context.Context) (*models.ActiveVisit, error) {
	var resp models.ActiveVisitResponse
	if err := c.call(ctx, http.MethodGet, "/api/visits/active", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Visit, nil
}

func (c *APIClient) CreateCompany(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, endpoints[models.EventCompany].path, payload, "")
}

func (c *APIClient) CreateSale(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, endpoints[models.EventSale].path, payload, "")
}

// Response is a raw upstream reply used by the cache layer.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Get fetches path without interpreting the status. Only transport failures
// are returned as errors.
func (c *APIClient) Get(ctx context.Context, path string) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "GET " + path, Err: err}
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// HealthCheck checks if the backend is reachable
func (c *APIClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

func (c *APIClient) call(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	raw, err := c.send(ctx, method, path, body, "")
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, body []byte, idempotencyKey string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set(DeviceHeader, c.deviceID)
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}
	return req, nil
}

func (c *APIClient) send(ctx context.Context, method, path string, body []byte, idempotencyKey string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, method, path, body, idempotencyKey)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("Request succeeded",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		return json.RawMessage(respBody), nil
	}

	var apiErr struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	message := strings.TrimSpace(string(respBody))
	if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
		message = apiErr.Error
	}

	c.logger.Warn("Backend rejected request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", resp.StatusCode),
		zap.String("code", apiErr.Code),
		zap.String("response", message),
	)

	return nil, newStatusError(resp.StatusCode, message, apiErr.Code)
}
