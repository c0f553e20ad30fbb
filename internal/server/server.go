package server

import (
	"crm-billing/internal/handler"
	"crm-billing/internal/middleware"
	"crm-billing/internal/service"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type Server struct {
	echo           *echo.Echo
	jwtSecret      string
	billingHandler *handler.BillingHandler
	orgHandler     *handler.OrganizationHandler
	orgService     service.OrganizationService
	billingService service.BillingService
}

func NewServer(jwtSecret string, billingService service.BillingService, orgService service.OrganizationService) *Server {
	e := echo.New()

	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	s := &Server{
		echo:           e,
		jwtSecret:      jwtSecret,
		billingHandler: handler.NewBillingHandler(billingService, orgService),
		orgHandler:     handler.NewOrganizationHandler(orgService),
		orgService:     orgService,
		billingService: billingService,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	// -------- gateway callbacks (no session) --------
	api.POST("/billing/webhook", s.billingHandler.Webhook)
	api.GET("/billing/return", s.billingHandler.Return)

	// -------- authenticated API --------
	authed := api.Group("", middleware.Auth(s.jwtSecret))
	authed.GET("/organizations/me", s.orgHandler.GetMyOrganization)

	billing := authed.Group("/billing")
	billing.POST("/orders", s.billingHandler.CreateOrder)
	billing.POST("/orders/:reference/activate", s.billingHandler.ActivateOrder)
	billing.GET("/status", s.billingHandler.Status)
	billing.POST("/cancel", s.billingHandler.Cancel)
	billing.POST("/reactivate", s.billingHandler.Reactivate)

	// -------- CRM feature routes mount behind the subscription guard --------
	crm := api.Group("/crm",
		middleware.Auth(s.jwtSecret),
		middleware.SubscriptionGuard(s.orgService, s.billingService),
	)
	crm.GET("/ping", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":          "ok",
			"organization_id": middleware.OrganizationID(c),
		})
	})
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown() error {
	return s.echo.Close()
}
