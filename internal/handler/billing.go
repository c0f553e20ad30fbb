package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"crm-billing/internal/dto"
	"crm-billing/internal/logger"
	"crm-billing/internal/middleware"
	"crm-billing/internal/service"

	"github.com/labstack/echo/v4"
)

type BillingHandler struct {
	billingService service.BillingService
	orgService     service.OrganizationService
}

func NewBillingHandler(billingService service.BillingService, orgService service.OrganizationService) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		orgService:     orgService,
	}
}

func (h *BillingHandler) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if req.OrganizationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "organization_id is required")
	}

	result, err := h.billingService.CreateOrder(ctx, middleware.UserID(c), req.OrganizationID)
	if err != nil {
		return billingHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *BillingHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	orgID := c.QueryParam("organization_id")
	if orgID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "organization_id is required")
	}

	isMember, err := h.orgService.IsMember(ctx, middleware.UserID(c), orgID)
	if err != nil {
		return err
	}
	if !isMember {
		return echo.NewHTTPError(http.StatusForbidden, service.ErrNotAMember.Error())
	}

	result, err := h.billingService.Status(ctx, orgID)
	if err != nil {
		return billingHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *BillingHandler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.SubscriptionActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	if err := h.billingService.Cancel(ctx, middleware.UserID(c), req.OrganizationID); err != nil {
		return billingHTTPError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *BillingHandler) Reactivate(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.SubscriptionActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	if err := h.billingService.Reactivate(ctx, middleware.UserID(c), req.OrganizationID); err != nil {
		return billingHTTPError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "active"})
}

// ActivateOrder is the fast path the client takes when it returns from the
// hosted checkout with an approved indicator in the URL.
func (h *BillingHandler) ActivateOrder(c echo.Context) error {
	ctx := c.Request().Context()

	reference := c.Param("reference")
	gatewayOrderID := c.QueryParam("gateway_order_id")

	err := h.billingService.ActivateOrder(ctx, middleware.UserID(c), reference, gatewayOrderID)
	if err != nil {
		return billingHTTPError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "activated"})
}

// Webhook receives the gateway's server-to-server callbacks. Errors are
// answered with a terminal 4xx so the gateway does not retry a permanently
// broken delivery forever; nothing here ever reaches an end user.
func (h *BillingHandler) Webhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	signature := c.Request().Header.Get("X-Webhook-Signature")

	if err := h.billingService.HandleWebhook(ctx, body, signature); err != nil {
		slog.Error("webhook reconciliation failed", logger.Error(err))

		switch {
		case errors.Is(err, service.ErrMalformedWebhook), errors.Is(err, service.ErrInvalidSignature):
			return c.NoContent(http.StatusBadRequest)
		case errors.Is(err, service.ErrOrderNotFound):
			return c.NoContent(http.StatusNotFound)
		default:
			return c.NoContent(http.StatusInternalServerError)
		}
	}

	return c.NoContent(http.StatusOK)
}

// Return is the browser landing page after the hosted checkout. It strips the
// gateway's query parameters from history so a refresh or back-navigation does
// not re-trigger the handshake, then sends the user back into the app.
func (h *BillingHandler) Return(c echo.Context) error {
	html := `
	<!DOCTYPE html>
	<html>
	<head>
		<meta charset="utf-8">
		<title>Payment Processing</title>
		<style>
			body {
				font-family: Arial, sans-serif;
				text-align: center;
				margin-top: 80px;
			}
			.countdown {
				font-size: 24px;
				font-weight: bold;
			}
		</style>
	</head>
	<body>
		<h2>Payment received</h2>
		<p>We are confirming your payment and will activate your subscription shortly</p>
		<p>Redirecting to the app in <span class="countdown" id="countdown">5</span> seconds…</p>

		<script>
			history.replaceState(null, "", window.location.pathname);

			let seconds = 5;
			const el = document.getElementById("countdown");

			const timer = setInterval(function () {
				seconds--;
				el.textContent = seconds;

				if (seconds <= 0) {
					clearInterval(timer);
					window.location.href = "/";
				}
			}, 1000);
		</script>
	</body>
	</html>
	`

	return c.HTML(http.StatusOK, html)
}

// billingHTTPError maps service errors onto the HTTP taxonomy: authorization
// failures are 403, missing records 404, everything else surfaces as a 500
// "try again" to the caller.
func billingHTTPError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotAMember):
		return echo.NewHTTPError(http.StatusForbidden, service.ErrNotAMember.Error())
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrNoSubscription):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrOrderNotPaid):
		return echo.NewHTTPError(http.StatusConflict, service.ErrOrderNotPaid.Error())
	default:
		return err
	}
}
