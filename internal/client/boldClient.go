package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crm-billing/internal/config"
)

type BoldClient interface {
	CreatePaymentLink(ctx context.Context, req *CreatePaymentLinkRequest) (*CreatePaymentLinkResponse, error)
	GetPaymentLink(ctx context.Context, paymentLink string) (*PaymentLinkStatus, error)
}

type boldClientImpl struct {
	httpClient *http.Client
	baseApiURL string
	apiKey     string
}

type CreatePaymentLinkRequest struct {
	Amount      int64
	Currency    string
	Description string
	CallbackURL string
	WebhookURL  string
}

type CreatePaymentLinkResponse struct {
	// PaymentLink is the gateway's link identifier, echoed back in webhooks
	// as the order reference.
	PaymentLink string
	URL         string
}

type PaymentLinkStatus struct {
	PaymentLink string
	Status      string
	Total       int64
}

type boldAmount struct {
	Currency    string `json:"currency"`
	TotalAmount int64  `json:"total_amount"`
}

type boldLinkPayload struct {
	AmountType     string     `json:"amount_type"`
	Amount         boldAmount `json:"amount"`
	Description    string     `json:"description"`
	CallbackURL    string     `json:"callback_url"`
	WebhookURL     string     `json:"webhook_url"`
	PaymentMethods []string   `json:"payment_methods"`
}

type boldLinkResult struct {
	Payload struct {
		PaymentLink string `json:"payment_link"`
		URL         string `json:"url"`
	} `json:"payload"`
	Errors []string `json:"errors"`
}

type boldLinkStatusResult struct {
	Status string `json:"status"`
	Total  int64  `json:"total"`
}

func NewBoldClient(boldCfg *config.Bold) BoldClient {
	return &boldClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL: boldCfg.BaseApiURL,
		apiKey:     boldCfg.APIKey,
	}
}

// CreatePaymentLink creates a hosted, fixed-amount, single-use payment link.
func (c *boldClientImpl) CreatePaymentLink(ctx context.Context, linkReq *CreatePaymentLinkRequest) (*CreatePaymentLinkResponse, error) {
	payload := boldLinkPayload{
		AmountType: "CLOSE",
		Amount: boldAmount{
			Currency:    linkReq.Currency,
			TotalAmount: linkReq.Amount,
		},
		Description:    linkReq.Description,
		CallbackURL:    linkReq.CallbackURL,
		WebhookURL:     linkReq.WebhookURL,
		PaymentMethods: []string{"PSE", "CREDIT_CARD", "NEQUI"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal req payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseApiURL+"/online/link/v1",
		bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}

	req.Header.Set("Authorization", "x-api-key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bold error %d: %s", resp.StatusCode, string(b))
	}

	var result boldLinkResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode bold response: %w", err)
	}

	if result.Payload.PaymentLink == "" || result.Payload.URL == "" {
		return nil, fmt.Errorf("bold response missing payment link: %v", result.Errors)
	}

	return &CreatePaymentLinkResponse{
		PaymentLink: result.Payload.PaymentLink,
		URL:         result.Payload.URL,
	}, nil
}

// GetPaymentLink fetches the current state of a payment link. Used by the
// activation fast path to confirm an approval reported via the browser URL.
func (c *boldClientImpl) GetPaymentLink(ctx context.Context, paymentLink string) (*PaymentLinkStatus, error) {
	url := fmt.Sprintf("%s/online/link/v1/%s", c.baseApiURL, paymentLink)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}

	req.Header.Set("Authorization", "x-api-key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bold error %d: %s", resp.StatusCode, string(b))
	}

	var result boldLinkStatusResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode bold response: %w", err)
	}

	return &PaymentLinkStatus{
		PaymentLink: paymentLink,
		Status:      result.Status,
		Total:       result.Total,
	}, nil
}
