package repository

import (
	"context"
	"time"

	"crm-billing/internal/model"

	"gorm.io/gorm"
)

type PaymentOrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.PaymentOrder) error
	FindByID(ctx context.Context, orderID string) (*model.PaymentOrder, error)
	// FindByReference matches the reference echoed back by the gateway. The
	// gateway reports the payment link id; orders created before the gateway
	// answered carry only their own id, so both columns are accepted.
	FindByReference(ctx context.Context, reference string) (*model.PaymentOrder, error)
	SetGatewayReference(ctx context.Context, orderID, reference string) error
	// CompleteIfPending performs the guarded pending -> completed transition.
	// It reports whether this call made the transition; a false result with a
	// nil error means the order was already settled (duplicate delivery).
	CompleteIfPending(ctx context.Context, tx *gorm.DB, orderID, gatewayOrderID string) (bool, error)
	MarkSettled(ctx context.Context, tx *gorm.DB, orderID, status, gatewayOrderID string) error
	ListRecentByOrganization(ctx context.Context, orgID string, limit int) ([]*model.PaymentOrder, error)
}

type paymentOrderRepoImpl struct {
	db *gorm.DB
}

func NewPaymentOrderRepository(db *gorm.DB) PaymentOrderRepository {
	return &paymentOrderRepoImpl{
		db: db,
	}
}

func (r *paymentOrderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.PaymentOrder) error {
	return tx.WithContext(ctx).Create(order).Error
}

func (r *paymentOrderRepoImpl) FindByID(ctx context.Context, orderID string) (*model.PaymentOrder, error) {
	var order model.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *paymentOrderRepoImpl) FindByReference(ctx context.Context, reference string) (*model.PaymentOrder, error) {
	var order model.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("gateway_reference = ? OR id = ?", reference, reference).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *paymentOrderRepoImpl) SetGatewayReference(ctx context.Context, orderID, reference string) error {
	return r.db.WithContext(ctx).Model(&model.PaymentOrder{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"gateway_reference": reference,
			"updated_at":        time.Now(),
		}).Error
}

func (r *paymentOrderRepoImpl) CompleteIfPending(ctx context.Context, tx *gorm.DB, orderID, gatewayOrderID string) (bool, error) {
	updates := map[string]interface{}{
		"status":     model.OrderCompleted,
		"updated_at": time.Now(),
	}
	if gatewayOrderID != "" {
		updates["gateway_order_id"] = gatewayOrderID
	}

	result := tx.WithContext(ctx).Model(&model.PaymentOrder{}).
		Where("id = ?", orderID).
		Where("status = ?", model.OrderPending).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *paymentOrderRepoImpl) MarkSettled(ctx context.Context, tx *gorm.DB, orderID, status, gatewayOrderID string) error {
	return tx.WithContext(ctx).Model(&model.PaymentOrder{}).
		Where("id = ?", orderID).
		Where("status = ?", model.OrderPending).
		Updates(map[string]interface{}{
			"status":           status,
			"gateway_order_id": gatewayOrderID,
			"updated_at":       time.Now(),
		}).Error
}

func (r *paymentOrderRepoImpl) ListRecentByOrganization(ctx context.Context, orgID string, limit int) ([]*model.PaymentOrder, error) {
	var orders []*model.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}
