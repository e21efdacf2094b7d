package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"contest-core/internal/domain"
	"contest-core/internal/service"
	"contest-core/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config holds the PayPal REST credentials
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// Timeout caps each HTTP round trip, including token refreshes
	Timeout time.Duration
}

// Service implements service.PaymentProvider against the PayPal Orders v2 API
type Service struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewService creates a PayPal client authenticating with client credentials
func NewService(cfg Config, logger *logger.Logger) *Service {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ccConfig := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// The token source keeps this context for refreshes, so it must not be
	// request scoped.
	base := &http.Client{Timeout: timeout}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := ccConfig.Client(tokenCtx)
	client.Timeout = timeout

	return &Service{
		baseURL:    baseURL,
		httpClient: client,
		logger:     logger,
	}
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      amount `json:"amount"`
}

type createOrderBody struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *errorResponse) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

// CreateOrder opens a CAPTURE order. The intent id is the request id, so a
// retried create never opens a second order.
func (s *Service) CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.ProviderOrder, error) {
	body := createOrderBody{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.ReferenceID,
			CustomID:    req.IntentID,
			Description: req.Description,
			Amount: amount{
				CurrencyCode: req.Currency,
				Value:        req.Amount.StringFixed(2),
			},
		}},
	}

	var order orderResponse
	if err := s.do(ctx, http.MethodPost, "/v2/checkout/orders", req.IntentID, body, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: order response without id", domain.ErrProviderUnavailable)
	}

	result := &service.ProviderOrder{OrderRef: order.ID}
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			result.ApproveURL = l.Href
			break
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"order_id":  order.ID,
		"intent_id": req.IntentID,
	}).Info("PayPal order created")
	return result, nil
}

// CaptureOrder captures an approved order. An order that was already
// captured is looked up and reported as captured.
func (s *Service) CaptureOrder(ctx context.Context, orderRef string) (*service.ProviderCapture, error) {
	var order orderResponse
	err := s.do(ctx, http.MethodPost, "/v2/checkout/orders/"+orderRef+"/capture", "capture-"+orderRef, struct{}{}, &order)

	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.body.hasIssue("ORDER_ALREADY_CAPTURED") {
		s.logger.WithField("order_id", orderRef).Info("PayPal order already captured, fetching capture")
		order = orderResponse{}
		err = s.do(ctx, http.MethodGet, "/v2/checkout/orders/"+orderRef, "", nil, &order)
	}
	if err != nil {
		return nil, err
	}

	c, ok := order.capture()
	if !ok {
		return nil, fmt.Errorf("%w: order %s has no capture (status %s)", domain.ErrProviderUnavailable, orderRef, order.Status)
	}

	switch c.Status {
	case "COMPLETED", "PENDING":
		s.logger.WithFields(map[string]interface{}{
			"order_id":   orderRef,
			"capture_id": c.ID,
			"status":     c.Status,
		}).Info("PayPal order captured")
		return &service.ProviderCapture{CaptureID: c.ID}, nil
	default:
		return nil, fmt.Errorf("%w: capture %s", domain.ErrProviderRejected, strings.ToLower(c.Status))
	}
}

func (o *orderResponse) capture() (capture, bool) {
	for _, pu := range o.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			return pu.Payments.Captures[0], true
		}
	}
	return capture{}, false
}

type apiError struct {
	status int
	body   errorResponse
}

func (e *apiError) Error() string {
	issue := e.body.Name
	if len(e.body.Details) > 0 {
		issue = e.body.Details[0].Issue
	}
	return fmt.Sprintf("paypal returned %d: %s", e.status, issue)
}

// do sends one request and decodes the response into out. Errors wrap
// domain.ErrProviderRejected for definitive declines and
// domain.ErrProviderUnavailable for everything that may succeed on retry.
func (s *Service) do(ctx context.Context, method, path, requestID string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode paypal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create paypal request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	req.Header.Set("Prefer", "return=representation")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("PayPal request failed")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	s.logger.WithFields(map[string]interface{}{
		"path":        path,
		"status_code": resp.StatusCode,
		"duration":    time.Since(start).String(),
	}).Debug("PayPal response received")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", domain.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", domain.ErrProviderUnavailable, err)
		}
		return nil
	}

	apiErr := &apiError{status: resp.StatusCode}
	_ = json.Unmarshal(data, &apiErr.body)

	switch {
	case apiErr.body.hasIssue("ORDER_ALREADY_CAPTURED"):
		return apiErr
	case apiErr.body.hasIssue("ORDER_NOT_APPROVED"):
		// The payer may still approve before the intent expires
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, apiErr)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode >= 500:
		s.logger.WithField("status_code", resp.StatusCode).Warn("PayPal unavailable")
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, apiErr)
	default:
		return fmt.Errorf("%w: %w", domain.ErrProviderRejected, apiErr)
	}
}
