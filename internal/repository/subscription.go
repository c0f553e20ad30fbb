package repository

import (
	"context"
	"time"

	"crm-billing/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository interface {
	FindByOrganization(ctx context.Context, orgID string) (*model.Subscription, error)
	// ActivateUntil creates or renews the single subscription row for the
	// organization, setting status active and the given expiry.
	ActivateUntil(ctx context.Context, tx *gorm.DB, orgID string, expiresAt time.Time) error
	// ExpireIfStale flips active -> expired only when the stored expiry has
	// passed. Safe to call concurrently; a lost race is a no-op.
	ExpireIfStale(ctx context.Context, orgID string, now time.Time) error
	// SetStatus toggles between statuses without touching the expiry. The
	// update is conditional on the current status so repeated calls no-op.
	SetStatus(ctx context.Context, orgID, from, to string) (bool, error)
}

type subscriptionRepoImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepoImpl{
		db: db,
	}
}

func (r *subscriptionRepoImpl) FindByOrganization(ctx context.Context, orgID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		First(&sub).Error

	if err != nil {
		return nil, err
	}

	return &sub, nil
}

func (r *subscriptionRepoImpl) ActivateUntil(ctx context.Context, tx *gorm.DB, orgID string, expiresAt time.Time) error {
	sub := &model.Subscription{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Status:         model.SubscriptionActive,
		ExpiresAt:      &expiresAt,
	}

	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "organization_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":     model.SubscriptionActive,
			"expires_at": expiresAt,
			"updated_at": time.Now(),
		}),
	}).Create(sub).Error
}

func (r *subscriptionRepoImpl) ExpireIfStale(ctx context.Context, orgID string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("organization_id = ?", orgID).
		Where("status = ?", model.SubscriptionActive).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Updates(map[string]interface{}{
			"status":     model.SubscriptionExpired,
			"updated_at": now,
		}).Error
}

func (r *subscriptionRepoImpl) SetStatus(ctx context.Context, orgID, from, to string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("organization_id = ?", orgID).
		Where("status = ?", from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}
