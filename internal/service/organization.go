package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"crm-billing/internal/logger"
	"crm-billing/internal/model"
	"crm-billing/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const fallbackOrganizationName = "My Organization"

type OrganizationService interface {
	// Resolve returns the caller's organization, creating one lazily on first
	// login. With multiple memberships the first organization sorted by name
	// wins; stronger selection rules are a product decision.
	Resolve(ctx context.Context, userID, email string) (*model.Organization, error)
	IsMember(ctx context.Context, userID, orgID string) (bool, error)
}

type organizationServiceImpl struct {
	db      *gorm.DB
	orgRepo repository.OrganizationRepository
}

func NewOrganizationService(db *gorm.DB, orgRepo repository.OrganizationRepository) OrganizationService {
	return &organizationServiceImpl{
		db:      db,
		orgRepo: orgRepo,
	}
}

func (s *organizationServiceImpl) Resolve(ctx context.Context, userID, email string) (*model.Organization, error) {
	orgs, err := s.orgRepo.ListByUserOrderedByName(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user organizations: %w", err)
	}
	if len(orgs) > 0 {
		return orgs[0], nil
	}

	org := &model.Organization{
		ID:          uuid.NewString(),
		Name:        organizationNameFromEmail(email),
		Type:        "company",
		OwnerUserID: userID,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orgRepo.Create(ctx, tx, org); err != nil {
			return fmt.Errorf("create organization: %w", err)
		}

		member := &model.OrganizationMember{
			OrganizationID: org.ID,
			UserID:         userID,
			Role:           model.RoleOwner,
		}
		if err := s.orgRepo.CreateMember(ctx, tx, member); err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}

		return nil
	})
	if err != nil {
		// A concurrent first login may have created the organization already;
		// re-read before giving up so both callers converge on one winner.
		orgs, listErr := s.orgRepo.ListByUserOrderedByName(ctx, userID)
		if listErr == nil && len(orgs) > 0 {
			slog.Warn("organization creation lost a race, reusing existing",
				logger.UserID(userID), logger.OrganizationID(orgs[0].ID))
			return orgs[0], nil
		}
		return nil, err
	}

	return org, nil
}

func (s *organizationServiceImpl) IsMember(ctx context.Context, userID, orgID string) (bool, error) {
	return s.orgRepo.IsMember(ctx, userID, orgID)
}

func organizationNameFromEmail(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return fallbackOrganizationName
	}
	return local + "'s organization"
}
