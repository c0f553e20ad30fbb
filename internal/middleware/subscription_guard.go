package middleware

import (
	"net/http"

	"crm-billing/internal/service"

	"github.com/labstack/echo/v4"
)

// ContextOrganizationID carries the resolved organization id past the guard.
const ContextOrganizationID = "organization_id"

// SubscriptionGuard gates CRM routes on the caller's entitlement. It resolves
// the caller's organization (creating one lazily on first login) and rejects
// with 402 when no active subscription covers it. Must run after Auth.
func SubscriptionGuard(orgService service.OrganizationService, billingService service.BillingService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			org, err := orgService.Resolve(ctx, UserID(c), Email(c))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "could not resolve organization")
			}

			status, err := billingService.Status(ctx, org.ID)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "could not check subscription")
			}

			if !status.HasActiveSubscription {
				return echo.NewHTTPError(http.StatusPaymentRequired, "an active subscription is required")
			}

			c.Set(ContextOrganizationID, org.ID)
			return next(c)
		}
	}
}

// OrganizationID returns the organization id resolved by SubscriptionGuard.
func OrganizationID(c echo.Context) string {
	id, _ := c.Get(ContextOrganizationID).(string)
	return id
}
