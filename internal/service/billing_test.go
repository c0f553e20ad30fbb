package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"crm-billing/internal/client"
	"crm-billing/internal/config"
	"crm-billing/internal/dto"
	"crm-billing/internal/model"
	"crm-billing/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeBoldClient struct {
	createCalls int
	createErr   error
	linkStatus  string
	statusErr   error
	lastRequest *client.CreatePaymentLinkRequest
}

func (f *fakeBoldClient) CreatePaymentLink(ctx context.Context, req *client.CreatePaymentLinkRequest) (*client.CreatePaymentLinkResponse, error) {
	f.createCalls++
	f.lastRequest = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	link := fmt.Sprintf("LNK_%d", f.createCalls)
	return &client.CreatePaymentLinkResponse{
		PaymentLink: link,
		URL:         "https://checkout.bold.co/payment/" + link,
	}, nil
}

func (f *fakeBoldClient) GetPaymentLink(ctx context.Context, paymentLink string) (*client.PaymentLinkStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &client.PaymentLinkStatus{
		PaymentLink: paymentLink,
		Status:      f.linkStatus,
		Total:       20000,
	}, nil
}

type billingFixture struct {
	db        *gorm.DB
	bold      *fakeBoldClient
	service   BillingService
	orderRepo repository.PaymentOrderRepository
	subRepo   repository.SubscriptionRepository
}

func setupBillingTest(t *testing.T) *billingFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Organization{},
		&model.OrganizationMember{},
		&model.Subscription{},
		&model.PaymentOrder{},
		&model.WebhookEvent{},
	))

	orgRepo := repository.NewOrganizationRepository(db)
	orderRepo := repository.NewPaymentOrderRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	bold := &fakeBoldClient{linkStatus: "PAID"}

	billingCfg := config.Billing{PlanAmount: 20000, PlanCurrency: "COP", PeriodDays: 30}
	svc := NewBillingService(
		db, bold, "https://crm.example.com", billingCfg, "",
		orgRepo, orderRepo, subRepo, webhookEventRepo,
	)

	return &billingFixture{
		db:        db,
		bold:      bold,
		service:   svc,
		orderRepo: orderRepo,
		subRepo:   subRepo,
	}
}

func (f *billingFixture) createOrg(t *testing.T, userID string) *model.Organization {
	t.Helper()

	org := &model.Organization{ID: uuid.NewString(), Name: "Acme", Type: "company", OwnerUserID: userID}
	require.NoError(t, f.db.Create(org).Error)
	require.NoError(t, f.db.Create(&model.OrganizationMember{
		OrganizationID: org.ID,
		UserID:         userID,
		Role:           model.RoleOwner,
	}).Error)
	return org
}

func approvedWebhook(reference, gatewayOrderID string) []byte {
	payload := dto.WebhookPayload{
		Order:       &dto.WebhookOrder{OrderReference: reference, ID: gatewayOrderID},
		Transaction: &dto.WebhookTransaction{Status: "APPROVED"},
	}
	body, _ := json.Marshal(payload)
	return body
}

func TestCreateOrder(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	resp, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.bold.co/payment/LNK_1", resp.PaymentURL)
	assert.Equal(t, "LNK_1", resp.OrderReference)
	assert.NotEmpty(t, resp.OrderID)

	// The amount comes from policy config, never from the request.
	require.NotNil(t, f.bold.lastRequest)
	assert.Equal(t, int64(20000), f.bold.lastRequest.Amount)
	assert.Equal(t, "COP", f.bold.lastRequest.Currency)
	assert.Contains(t, f.bold.lastRequest.CallbackURL, "payment=success")
	assert.Contains(t, f.bold.lastRequest.WebhookURL, "/api/billing/webhook")

	order, err := f.orderRepo.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, order.Status)
	assert.Equal(t, org.ID, order.OrganizationID)
	require.NotNil(t, order.GatewayReference)
	assert.Equal(t, "LNK_1", *order.GatewayReference)
}

func TestCreateOrderRejectsNonMember(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	_, err := f.service.CreateOrder(context.Background(), "intruder", org.ID)
	assert.ErrorIs(t, err, ErrNotAMember)
	assert.Zero(t, f.bold.createCalls, "gateway must not be called before authorization")
}

func TestCreateOrderGatewayFailureLeavesPendingOrder(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")
	f.bold.createErr = fmt.Errorf("bold error 500: upstream down")

	_, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.Error(t, err)

	// The pending order with no gateway reference stays behind for manual
	// reconciliation, and the status query tolerates it.
	status, err := f.service.Status(context.Background(), org.ID)
	require.NoError(t, err)
	require.Len(t, status.RecentPaymentOrders, 1)
	assert.Equal(t, model.OrderPending, status.RecentPaymentOrders[0].Status)
	assert.False(t, status.HasActiveSubscription)
}

func TestApprovedWebhookCreatesSubscription(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	resp, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)

	err = f.service.HandleWebhook(context.Background(), approvedWebhook(resp.OrderReference, "bold-order-9"), "")
	require.NoError(t, err)

	order, err := f.orderRepo.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, order.Status)
	require.NotNil(t, order.GatewayOrderID)
	assert.Equal(t, "bold-order-9", *order.GatewayOrderID)

	sub, err := f.subRepo.FindByOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	require.NotNil(t, sub.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *sub.ExpiresAt, time.Minute)
}

func TestDuplicateApprovedWebhookDoesNotExtendExpiry(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	resp, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)

	body := approvedWebhook(resp.OrderReference, "bold-order-9")
	require.NoError(t, f.service.HandleWebhook(context.Background(), body, ""))

	sub, err := f.subRepo.FindByOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	firstExpiry := *sub.ExpiresAt

	// Processor retry: the exact same payload again.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, f.service.HandleWebhook(context.Background(), body, ""))

	sub, err = f.subRepo.FindByOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	assert.True(t, sub.ExpiresAt.Equal(firstExpiry), "redelivery must not re-extend the expiry")
}

func TestRenewalExtendsFromNowNotFromPriorExpiry(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	first, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)
	require.NoError(t, f.service.HandleWebhook(context.Background(), approvedWebhook(first.OrderReference, "g-1"), ""))

	// A second checkout attempt is a new order row.
	second, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)
	require.NoError(t, f.service.HandleWebhook(context.Background(), approvedWebhook(second.OrderReference, "g-2"), ""))

	sub, err := f.subRepo.FindByOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	// No banking of unused time: still ~30 days out, not ~60.
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *sub.ExpiresAt, time.Minute)

	// Still exactly one subscription row for the organization.
	var count int64
	require.NoError(t, f.db.Model(&model.Subscription{}).Where("organization_id = ?", org.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRejectedWebhookFailsOrderWithoutSubscription(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	resp, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)

	payload := dto.WebhookPayload{
		Order:       &dto.WebhookOrder{OrderReference: resp.OrderReference, ID: "g-1"},
		Transaction: &dto.WebhookTransaction{Status: "REJECTED"},
	}
	body, _ := json.Marshal(payload)
	require.NoError(t, f.service.HandleWebhook(context.Background(), body, ""))

	order, err := f.orderRepo.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, order.Status)

	_, err = f.subRepo.FindByOrganization(context.Background(), org.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUnknownTransactionStatusLeavesOrderPending(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	resp, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)

	payload := dto.WebhookPayload{
		Order:       &dto.WebhookOrder{OrderReference: resp.OrderReference, ID: "g-1"},
		Transaction: &dto.WebhookTransaction{Status: "PROCESSING"},
	}
	body, _ := json.Marshal(payload)
	require.NoError(t, f.service.HandleWebhook(context.Background(), body, ""))

	order, err := f.orderRepo.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, order.Status)
}

func TestWebhookUnknownReferenceWritesNothing(t *testing.T) {
	f := setupBillingTest(t)

	err := f.service.HandleWebhook(context.Background(), approvedWebhook("LNK_nope", "g-1"), "")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	var count int64
	require.NoError(t, f.db.Model(&model.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWebhookMalformedPayload(t *testing.T) {
	f := setupBillingTest(t)

	cases := []string{
		`not json`,
		`{}`,
		`{"order": {"order_reference": "LNK_1"}}`,
		`{"transaction": {"status": "APPROVED"}}`,
	}
	for _, body := range cases {
		err := f.service.HandleWebhook(context.Background(), []byte(body), "")
		assert.ErrorIs(t, err, ErrMalformedWebhook, "payload: %s", body)
	}
}

func TestWebhookDuplicateEventIDShortCircuits(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	resp, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)

	payload := dto.WebhookPayload{
		ID:          "evt-1",
		Order:       &dto.WebhookOrder{OrderReference: resp.OrderReference, ID: "g-1"},
		Transaction: &dto.WebhookTransaction{Status: "APPROVED"},
	}
	body, _ := json.Marshal(payload)

	require.NoError(t, f.service.HandleWebhook(context.Background(), body, ""))
	require.NoError(t, f.service.HandleWebhook(context.Background(), body, ""))

	var events int64
	require.NoError(t, f.db.Model(&model.WebhookEvent{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestWebhookSignatureVerification(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	orgRepo := repository.NewOrganizationRepository(f.db)
	orderRepo := repository.NewPaymentOrderRepository(f.db)
	subRepo := repository.NewSubscriptionRepository(f.db)
	webhookEventRepo := repository.NewWebhookEventRepository(f.db)
	signed := NewBillingService(
		f.db, f.bold, "https://crm.example.com",
		config.Billing{PlanAmount: 20000, PlanCurrency: "COP", PeriodDays: 30}, "s3cret",
		orgRepo, orderRepo, subRepo, webhookEventRepo,
	)

	resp, err := signed.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)
	body := approvedWebhook(resp.OrderReference, "g-1")

	err = signed.HandleWebhook(context.Background(), body, "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	err = signed.HandleWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// A body signed with the configured secret is accepted and reconciles.
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	err = signed.HandleWebhook(context.Background(), body, hex.EncodeToString(mac.Sum(nil)))
	require.NoError(t, err)

	order, err := orderRepo.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, order.Status)
}

func TestStatusNeverSubscribed(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	status, err := f.service.Status(context.Background(), org.ID)
	require.NoError(t, err)
	assert.False(t, status.HasActiveSubscription)
	assert.Empty(t, status.Status)
	assert.Nil(t, status.Subscription)
	assert.Empty(t, status.RecentPaymentOrders)
}

func TestStatusLazyExpiry(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	past := time.Now().Add(-time.Hour)
	require.NoError(t, f.db.Create(&model.Subscription{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Status:         model.SubscriptionActive,
		ExpiresAt:      &past,
	}).Error)

	status, err := f.service.Status(context.Background(), org.ID)
	require.NoError(t, err)
	assert.False(t, status.HasActiveSubscription)
	assert.Equal(t, model.SubscriptionExpired, status.Status)

	// The transition is materialized, not just computed.
	sub, err := f.subRepo.FindByOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionExpired, sub.Status)

	// Observing an already-expired row again is a no-op.
	status, err = f.service.Status(context.Background(), org.ID)
	require.NoError(t, err)
	assert.False(t, status.HasActiveSubscription)
	assert.Equal(t, model.SubscriptionExpired, status.Status)
}

func TestStatusLazyExpiryWriteFailureKeepsStoredStatus(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	past := time.Now().Add(-time.Hour)
	require.NoError(t, f.db.Create(&model.Subscription{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Status:         model.SubscriptionActive,
		ExpiresAt:      &past,
	}).Error)

	// Make every UPDATE fail so persisting the expiry transition cannot
	// succeed; reads are unaffected.
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").
		Register("refuse_updates", func(tx *gorm.DB) {
			tx.AddError(fmt.Errorf("simulated write failure"))
		}))

	// Entitlement is still denied, but the reported status stays what is
	// stored rather than pretending the transition happened.
	status, err := f.service.Status(context.Background(), org.ID)
	require.NoError(t, err)
	assert.False(t, status.HasActiveSubscription)
	assert.Equal(t, model.SubscriptionActive, status.Status)

	sub, err := f.subRepo.FindByOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
}

func TestStatusActiveSubscription(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	future := time.Now().Add(10 * 24 * time.Hour)
	require.NoError(t, f.db.Create(&model.Subscription{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Status:         model.SubscriptionActive,
		ExpiresAt:      &future,
	}).Error)

	status, err := f.service.Status(context.Background(), org.ID)
	require.NoError(t, err)
	assert.True(t, status.HasActiveSubscription)
	assert.Equal(t, model.SubscriptionActive, status.Status)
	require.NotNil(t, status.Subscription)
}

func TestStatusReturnsFiveMostRecentOrders(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	for i := 0; i < 7; i++ {
		require.NoError(t, f.db.Create(&model.PaymentOrder{
			ID:             uuid.NewString(),
			OrganizationID: org.ID,
			Amount:         20000,
			Currency:       "COP",
			Status:         model.OrderPending,
			CreatedAt:      time.Now().Add(time.Duration(i) * time.Second),
		}).Error)
	}

	status, err := f.service.Status(context.Background(), org.ID)
	require.NoError(t, err)
	require.Len(t, status.RecentPaymentOrders, 5)
	for i := 1; i < len(status.RecentPaymentOrders); i++ {
		assert.False(t, status.RecentPaymentOrders[i-1].CreatedAt.Before(status.RecentPaymentOrders[i].CreatedAt),
			"orders must be newest first")
	}
}

func TestCancelKeepsExpiryAndReactivateRestores(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	future := time.Now().Add(15 * 24 * time.Hour)
	require.NoError(t, f.db.Create(&model.Subscription{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Status:         model.SubscriptionActive,
		ExpiresAt:      &future,
	}).Error)

	require.NoError(t, f.service.Cancel(context.Background(), "user-1", org.ID))

	sub, err := f.subRepo.FindByOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCancelled, sub.Status)
	assert.WithinDuration(t, future, *sub.ExpiresAt, time.Second, "cancellation must not touch the expiry")

	status, err := f.service.Status(context.Background(), org.ID)
	require.NoError(t, err)
	assert.False(t, status.HasActiveSubscription, "cancelled subscriptions do not pass the guard")

	require.NoError(t, f.service.Reactivate(context.Background(), "user-1", org.ID))

	sub, err = f.subRepo.FindByOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.WithinDuration(t, future, *sub.ExpiresAt, time.Second, "reactivation must not extend the expiry")
}

func TestCancelRequiresMembershipAndSubscription(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	err := f.service.Cancel(context.Background(), "intruder", org.ID)
	assert.ErrorIs(t, err, ErrNotAMember)

	err = f.service.Cancel(context.Background(), "user-1", org.ID)
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestActivateOrderFastPath(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	resp, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)

	f.bold.linkStatus = "PAID"
	require.NoError(t, f.service.ActivateOrder(context.Background(), "user-1", resp.OrderReference, "g-77"))

	order, err := f.orderRepo.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, order.Status)

	sub, err := f.subRepo.FindByOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	firstExpiry := *sub.ExpiresAt

	// The webhook landing afterwards must not extend the expiry again.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, f.service.HandleWebhook(context.Background(), approvedWebhook(resp.OrderReference, "g-77"), ""))

	sub, err = f.subRepo.FindByOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	assert.True(t, sub.ExpiresAt.Equal(firstExpiry))
}

func TestActivateOrderRefusesUnpaid(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	resp, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)

	f.bold.linkStatus = "PROCESSING"
	err = f.service.ActivateOrder(context.Background(), "user-1", resp.OrderReference, "g-1")
	assert.ErrorIs(t, err, ErrOrderNotPaid)

	order, err := f.orderRepo.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, order.Status)
}

func TestActivateOrderRejectsNonMember(t *testing.T) {
	f := setupBillingTest(t)
	org := f.createOrg(t, "user-1")

	resp, err := f.service.CreateOrder(context.Background(), "user-1", org.ID)
	require.NoError(t, err)

	err = f.service.ActivateOrder(context.Background(), "intruder", resp.OrderReference, "g-1")
	assert.ErrorIs(t, err, ErrNotAMember)
}
