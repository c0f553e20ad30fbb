package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"crm-billing/internal/client"
	"crm-billing/internal/config"
	"crm-billing/internal/logger"
	"crm-billing/internal/repository"
	"crm-billing/internal/server"
	"crm-billing/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)

	db := client.InitMysqlClient(cfg.DatabaseURL)
	boldClient := client.NewBoldClient(&cfg.Bold)

	orgRepo := repository.NewOrganizationRepository(db)
	orderRepo := repository.NewPaymentOrderRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	orgService := service.NewOrganizationService(db, orgRepo)
	billingService := service.NewBillingService(
		db, boldClient, cfg.BaseURL, cfg.Billing, cfg.Bold.WebhookSecret,
		orgRepo,
		orderRepo,
		subscriptionRepo,
		webhookEventRepo,
	)

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	srv := server.NewServer(cfg.Auth.JWTSecret, billingService, orgService)

	log.Info("starting HTTP server", slog.String("addr", serverAddr))
	go func() {
		if err := srv.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	log.Info("signal received, starting graceful shutdown")

	if err := srv.Shutdown(); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
		os.Exit(1)
	}
}
