package model

import "time"

// Subscription statuses.
const (
	SubscriptionActive         = "active"
	SubscriptionExpired        = "expired"
	SubscriptionPendingPayment = "pending_payment"
	SubscriptionCancelled      = "cancelled"
)

// Payment order statuses.
const (
	OrderPending   = "pending"
	OrderCompleted = "completed"
	OrderFailed    = "failed"
	OrderCancelled = "cancelled"
)

// Membership roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type Organization struct {
	ID   string `gorm:"primaryKey;size:36;not null"`
	Name string `gorm:"size:255;index;not null"`
	Type string `gorm:"size:32;not null;default:'company'"`
	// OwnerUserID is the user the organization was lazily created for. The
	// unique index is the idempotency key that collapses concurrent first
	// logins into one organization: racing creators share this value, so the
	// loser's insert conflicts and re-reads the winner's row.
	OwnerUserID string `gorm:"size:64;uniqueIndex;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type OrganizationMember struct {
	ID             uint   `gorm:"primaryKey"`
	OrganizationID string `gorm:"size:36;uniqueIndex:idx_member_user_org;not null"`
	UserID         string `gorm:"size:64;uniqueIndex:idx_member_user_org;index;not null"`
	Role           string `gorm:"size:16;not null"` // owner, member
	CreatedAt      time.Time
}

// Subscription is the organization's entitlement window. At most one row per
// organization; renewals update the same row.
type Subscription struct {
	ID             string `gorm:"primaryKey;size:36;not null"`
	OrganizationID string `gorm:"size:36;uniqueIndex;not null"`
	Status         string `gorm:"size:32;index;not null"` // active, expired, pending_payment, cancelled
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PaymentOrder is one checkout attempt. The row ID doubles as the order
// reference echoed back by the gateway; GatewayOrderID is the gateway's own
// identifier, known only once a callback arrives.
type PaymentOrder struct {
	ID               string    `gorm:"primaryKey;size:36;not null"`
	OrganizationID   string    `gorm:"size:36;index:idx_order_org_created;not null"`
	GatewayReference *string   `gorm:"size:128"`
	GatewayOrderID   *string   `gorm:"size:128"`
	Amount           int64     `gorm:"not null"`
	Currency         string    `gorm:"size:8;not null"`
	Status           string    `gorm:"size:32;index;not null"` // pending, completed, failed, cancelled
	CreatedAt        time.Time `gorm:"index:idx_order_org_created"`
	UpdatedAt        time.Time
}

// WebhookEvent records processed gateway event ids so redeliveries can be
// acknowledged without reprocessing.
type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}
