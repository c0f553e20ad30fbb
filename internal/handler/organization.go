package handler

import (
	"net/http"

	"crm-billing/internal/dto"
	"crm-billing/internal/middleware"
	"crm-billing/internal/service"

	"github.com/labstack/echo/v4"
)

type OrganizationHandler struct {
	orgService service.OrganizationService
}

func NewOrganizationHandler(orgService service.OrganizationService) *OrganizationHandler {
	return &OrganizationHandler{
		orgService: orgService,
	}
}

// GetMyOrganization resolves the caller's organization, creating one lazily
// on first login.
func (h *OrganizationHandler) GetMyOrganization(c echo.Context) error {
	ctx := c.Request().Context()

	org, err := h.orgService.Resolve(ctx, middleware.UserID(c), middleware.Email(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.OrganizationResponse{
		ID:   org.ID,
		Name: org.Name,
		Type: org.Type,
	})
}
