package dto

import "time"

type CreateOrderRequest struct {
	OrganizationID string `json:"organization_id"`
}

type CreateOrderResponse struct {
	PaymentURL     string `json:"payment_url"`
	OrderID        string `json:"order_id"`
	OrderReference string `json:"order_reference"`
}

type SubscriptionActionRequest struct {
	OrganizationID string `json:"organization_id"`
}

type OrganizationResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type SubscriptionInfo struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type PaymentOrderInfo struct {
	ID             string    `json:"id"`
	GatewayOrderID *string   `json:"gateway_order_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type StatusResponse struct {
	HasActiveSubscription bool                `json:"has_active_subscription"`
	Status                string              `json:"status"`
	ExpiresAt             *time.Time          `json:"expires_at"`
	Subscription          *SubscriptionInfo   `json:"subscription"`
	RecentPaymentOrders   []*PaymentOrderInfo `json:"recent_payment_orders"`
}

// WebhookPayload is the gateway's server-to-server callback body.
type WebhookPayload struct {
	ID          string              `json:"id"`
	Order       *WebhookOrder       `json:"order"`
	Transaction *WebhookTransaction `json:"transaction"`
}

type WebhookOrder struct {
	OrderReference string `json:"order_reference"`
	ID             string `json:"id"`
}

type WebhookTransaction struct {
	Status string `json:"status"`
}
