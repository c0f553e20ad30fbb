package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crm-billing/internal/client"
	"crm-billing/internal/config"
	"crm-billing/internal/dto"
	"crm-billing/internal/logger"
	"crm-billing/internal/model"
	"crm-billing/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const recentOrdersLimit = 5

type BillingService interface {
	CreateOrder(ctx context.Context, userID, orgID string) (*dto.CreateOrderResponse, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	Status(ctx context.Context, orgID string) (*dto.StatusResponse, error)
	Cancel(ctx context.Context, userID, orgID string) error
	Reactivate(ctx context.Context, userID, orgID string) error
	// ActivateOrder is the fast path taken when the browser returns from
	// checkout with an approved indicator. The payment is confirmed with the
	// gateway before any state changes; the webhook stays the source of truth.
	ActivateOrder(ctx context.Context, userID, reference, gatewayOrderID string) error
}

type billingServiceImpl struct {
	db               *gorm.DB
	boldClient       client.BoldClient
	serviceBaseURL   string
	billingCfg       config.Billing
	webhookSecret    string
	orgRepo          repository.OrganizationRepository
	orderRepo        repository.PaymentOrderRepository
	subscriptionRepo repository.SubscriptionRepository
	webhookEventRepo repository.WebhookEventRepository
}

func NewBillingService(
	db *gorm.DB,
	boldClient client.BoldClient,
	serviceBaseURL string,
	billingCfg config.Billing,
	webhookSecret string,
	orgRepo repository.OrganizationRepository,
	orderRepo repository.PaymentOrderRepository,
	subscriptionRepo repository.SubscriptionRepository,
	webhookEventRepo repository.WebhookEventRepository,
) BillingService {
	return &billingServiceImpl{
		db:               db,
		boldClient:       boldClient,
		serviceBaseURL:   serviceBaseURL,
		billingCfg:       billingCfg,
		webhookSecret:    webhookSecret,
		orgRepo:          orgRepo,
		orderRepo:        orderRepo,
		subscriptionRepo: subscriptionRepo,
		webhookEventRepo: webhookEventRepo,
	}
}

func (s *billingServiceImpl) CreateOrder(ctx context.Context, userID, orgID string) (*dto.CreateOrderResponse, error) {
	isMember, err := s.orgRepo.IsMember(ctx, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !isMember {
		return nil, ErrNotAMember
	}

	org, err := s.orgRepo.FindByID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("find organization: %w", err)
	}

	// Amount and currency come from policy configuration, never from the
	// client, so a tampered request cannot change the price.
	order := &model.PaymentOrder{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Amount:         s.billingCfg.PlanAmount,
		Currency:       s.billingCfg.PlanCurrency,
		Status:         model.OrderPending,
	}
	if err := s.orderRepo.Create(ctx, s.db, order); err != nil {
		return nil, fmt.Errorf("store payment order: %w", err)
	}

	link, err := s.boldClient.CreatePaymentLink(ctx, &client.CreatePaymentLinkRequest{
		Amount:      order.Amount,
		Currency:    order.Currency,
		Description: fmt.Sprintf("Monthly subscription - %s", org.Name),
		CallbackURL: fmt.Sprintf("%s/api/billing/return?payment=success", s.serviceBaseURL),
		WebhookURL:  fmt.Sprintf("%s/api/billing/webhook", s.serviceBaseURL),
	})
	if err != nil {
		// The order stays pending with no gateway reference; support can
		// reconcile it manually and the status query tolerates it.
		return nil, fmt.Errorf("gateway create payment link: %w", err)
	}

	if err := s.orderRepo.SetGatewayReference(ctx, order.ID, link.PaymentLink); err != nil {
		return nil, fmt.Errorf("store gateway reference: %w", err)
	}

	return &dto.CreateOrderResponse{
		PaymentURL:     link.URL,
		OrderID:        order.ID,
		OrderReference: link.PaymentLink,
	}, nil
}

func (s *billingServiceImpl) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if s.webhookSecret != "" {
		if err := verifySignature(s.webhookSecret, body, signature); err != nil {
			return err
		}
	}

	var payload dto.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if payload.Order == nil || payload.Transaction == nil {
		return ErrMalformedWebhook
	}

	if payload.ID != "" {
		seen, err := s.webhookEventRepo.Exists(ctx, payload.ID)
		if err != nil {
			return fmt.Errorf("check webhook event: %w", err)
		}
		if seen {
			slog.Info("duplicate webhook event, already processed",
				slog.String("event_id", payload.ID))
			return nil
		}
	}

	order, err := s.orderRepo.FindByReference(ctx, payload.Order.OrderReference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: reference %s", ErrOrderNotFound, payload.Order.OrderReference)
		}
		return fmt.Errorf("find payment order: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch payload.Transaction.Status {
		case "APPROVED":
			if err := s.settleApproved(ctx, tx, order, payload.Order.ID); err != nil {
				return err
			}
		case "REJECTED", "FAILED":
			if err := s.orderRepo.MarkSettled(ctx, tx, order.ID, model.OrderFailed, payload.Order.ID); err != nil {
				return fmt.Errorf("mark order failed: %w", err)
			}
		case "CANCELLED":
			if err := s.orderRepo.MarkSettled(ctx, tx, order.ID, model.OrderCancelled, payload.Order.ID); err != nil {
				return fmt.Errorf("mark order cancelled: %w", err)
			}
		default:
			// Unknown transaction states leave the order pending.
			slog.Info("webhook with unhandled transaction status",
				slog.String("transaction_status", payload.Transaction.Status),
				logger.OrderID(order.ID))
		}

		if payload.ID != "" {
			if err := s.webhookEventRepo.MarkProcessed(ctx, tx, payload.ID, payload.Transaction.Status); err != nil {
				return fmt.Errorf("record webhook event: %w", err)
			}
		}

		return nil
	})
}

// settleApproved performs the guarded pending -> completed transition and, only
// when this call made the transition, extends the subscription. A redelivered
// approval finds the order already completed and leaves the expiry alone.
func (s *billingServiceImpl) settleApproved(ctx context.Context, tx *gorm.DB, order *model.PaymentOrder, gatewayOrderID string) error {
	transitioned, err := s.orderRepo.CompleteIfPending(ctx, tx, order.ID, gatewayOrderID)
	if err != nil {
		return fmt.Errorf("complete payment order: %w", err)
	}
	if !transitioned {
		slog.Info("payment order already settled, skipping subscription update",
			logger.OrderID(order.ID), logger.OrganizationID(order.OrganizationID))
		return nil
	}

	expiresAt := time.Now().Add(time.Duration(s.billingCfg.PeriodDays) * 24 * time.Hour)
	if err := s.subscriptionRepo.ActivateUntil(ctx, tx, order.OrganizationID, expiresAt); err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}

	slog.Info("subscription activated",
		logger.OrganizationID(order.OrganizationID), logger.OrderID(order.ID),
		slog.Time("expires_at", expiresAt))
	return nil
}

func (s *billingServiceImpl) Status(ctx context.Context, orgID string) (*dto.StatusResponse, error) {
	resp := &dto.StatusResponse{}

	sub, err := s.subscriptionRepo.FindByOrganization(ctx, orgID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find subscription: %w", err)
	}

	now := time.Now()
	if sub != nil {
		resp.Status = sub.Status
		resp.ExpiresAt = sub.ExpiresAt
		resp.HasActiveSubscription = isEntitled(sub.Status, sub.ExpiresAt, now)

		// Lazy expiry: materialize the transition when it is first observed.
		// A write failure is logged and the pre-expiry row is still returned.
		if sub.Status == model.SubscriptionActive && !resp.HasActiveSubscription {
			if err := s.subscriptionRepo.ExpireIfStale(ctx, orgID, now); err != nil {
				slog.Error("persist lazy expiry", logger.Error(err), logger.OrganizationID(orgID))
			} else {
				sub.Status = model.SubscriptionExpired
				resp.Status = model.SubscriptionExpired
			}
		}

		resp.Subscription = &dto.SubscriptionInfo{
			ID:        sub.ID,
			Status:    sub.Status,
			ExpiresAt: sub.ExpiresAt,
			CreatedAt: sub.CreatedAt,
			UpdatedAt: sub.UpdatedAt,
		}
	}

	orders, err := s.orderRepo.ListRecentByOrganization(ctx, orgID, recentOrdersLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent payment orders: %w", err)
	}

	resp.RecentPaymentOrders = make([]*dto.PaymentOrderInfo, len(orders))
	for i, order := range orders {
		resp.RecentPaymentOrders[i] = &dto.PaymentOrderInfo{
			ID:             order.ID,
			GatewayOrderID: order.GatewayOrderID,
			Amount:         order.Amount,
			Currency:       order.Currency,
			Status:         order.Status,
			CreatedAt:      order.CreatedAt,
		}
	}

	return resp, nil
}

func (s *billingServiceImpl) Cancel(ctx context.Context, userID, orgID string) error {
	return s.toggleStatus(ctx, userID, orgID, model.SubscriptionActive, model.SubscriptionCancelled)
}

func (s *billingServiceImpl) Reactivate(ctx context.Context, userID, orgID string) error {
	return s.toggleStatus(ctx, userID, orgID, model.SubscriptionCancelled, model.SubscriptionActive)
}

// toggleStatus flips the subscription status without touching the expiry, so a
// cancellation keeps its already-paid window and reactivation restores it.
func (s *billingServiceImpl) toggleStatus(ctx context.Context, userID, orgID, from, to string) error {
	isMember, err := s.orgRepo.IsMember(ctx, userID, orgID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !isMember {
		return ErrNotAMember
	}

	toggled, err := s.subscriptionRepo.SetStatus(ctx, orgID, from, to)
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	if toggled {
		return nil
	}

	// Nothing matched: either no subscription exists or it is not in the
	// expected state. The latter makes repeated toggles a no-op.
	if _, err := s.subscriptionRepo.FindByOrganization(ctx, orgID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoSubscription
		}
		return fmt.Errorf("find subscription: %w", err)
	}

	return nil
}

func (s *billingServiceImpl) ActivateOrder(ctx context.Context, userID, reference, gatewayOrderID string) error {
	order, err := s.orderRepo.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: reference %s", ErrOrderNotFound, reference)
		}
		return fmt.Errorf("find payment order: %w", err)
	}

	isMember, err := s.orgRepo.IsMember(ctx, userID, order.OrganizationID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !isMember {
		return ErrNotAMember
	}

	if order.Status == model.OrderCompleted {
		return nil
	}

	if order.GatewayReference == nil {
		return ErrOrderNotPaid
	}

	// Never trust the browser URL alone; confirm the payment with the gateway.
	link, err := s.boldClient.GetPaymentLink(ctx, *order.GatewayReference)
	if err != nil {
		return fmt.Errorf("gateway get payment link: %w", err)
	}
	if link.Status != "PAID" {
		return ErrOrderNotPaid
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.settleApproved(ctx, tx, order, gatewayOrderID)
	})
}

// isEntitled is the single place that decides whether a subscription grants
// access right now. A stale active status with a past expiry does not count.
func isEntitled(status string, expiresAt *time.Time, now time.Time) bool {
	return status == model.SubscriptionActive && expiresAt != nil && expiresAt.After(now)
}

func verifySignature(secret string, body []byte, signature string) error {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))

	if signature == "" || !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
