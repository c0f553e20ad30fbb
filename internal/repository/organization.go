package repository

import (
	"context"

	"crm-billing/internal/model"

	"gorm.io/gorm"
)

type OrganizationRepository interface {
	Create(ctx context.Context, tx *gorm.DB, org *model.Organization) error
	CreateMember(ctx context.Context, tx *gorm.DB, member *model.OrganizationMember) error
	FindByID(ctx context.Context, orgID string) (*model.Organization, error)
	// ListByUserOrderedByName returns every organization the user belongs to,
	// sorted by organization name. Callers picking "the" organization take the
	// first entry; the sort makes that rule explicit.
	ListByUserOrderedByName(ctx context.Context, userID string) ([]*model.Organization, error)
	IsMember(ctx context.Context, userID, orgID string) (bool, error)
}

type organizationRepoImpl struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &organizationRepoImpl{
		db: db,
	}
}

func (r *organizationRepoImpl) Create(ctx context.Context, tx *gorm.DB, org *model.Organization) error {
	return tx.WithContext(ctx).Create(org).Error
}

func (r *organizationRepoImpl) CreateMember(ctx context.Context, tx *gorm.DB, member *model.OrganizationMember) error {
	return tx.WithContext(ctx).Create(member).Error
}

func (r *organizationRepoImpl) FindByID(ctx context.Context, orgID string) (*model.Organization, error) {
	var org model.Organization
	err := r.db.WithContext(ctx).
		Where("id = ?", orgID).
		First(&org).Error

	if err != nil {
		return nil, err
	}

	return &org, nil
}

func (r *organizationRepoImpl) ListByUserOrderedByName(ctx context.Context, userID string) ([]*model.Organization, error) {
	var orgs []*model.Organization
	err := r.db.WithContext(ctx).
		Joins("JOIN organization_members ON organization_members.organization_id = organizations.id").
		Where("organization_members.user_id = ?", userID).
		Order("organizations.name").
		Find(&orgs).Error

	if err != nil {
		return nil, err
	}

	return orgs, nil
}

func (r *organizationRepoImpl) IsMember(ctx context.Context, userID, orgID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.OrganizationMember{}).
		Where("user_id = ?", userID).
		Where("organization_id = ?", orgID).
		Count(&count).Error

	return count > 0, err
}
