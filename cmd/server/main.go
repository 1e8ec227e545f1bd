package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/litapp/billing-service/internal/api"
	"github.com/litapp/billing-service/internal/config"
	"github.com/litapp/billing-service/internal/handler"
	"github.com/litapp/billing-service/internal/infrastructure/auth"
	"github.com/litapp/billing-service/internal/infrastructure/invoicer"
	"github.com/litapp/billing-service/internal/infrastructure/kafka"
	"github.com/litapp/billing-service/internal/infrastructure/notify"
	"github.com/litapp/billing-service/internal/infrastructure/redis"
	"github.com/litapp/billing-service/internal/observability"
	core "github.com/litapp/billing-service/internal/repository/postgres"
	service "github.com/litapp/billing-service/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	shutdown, _ := observability.Setup("billing-service")
	defer shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	walletRepo := core.NewPostgresWalletRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	paymentRepo := core.NewPostgresPaymentRepository(db)
	userRepo := core.NewPostgresUserRepository(db)
	unlockRepo := core.NewPostgresUnlockRepository(db)
	callRepo := core.NewPostgresCallRepository(db)

	redisClient := redis.NewClient(cfg.RedisAddr)
	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	walletSvc := service.NewWalletService(walletRepo, redisClient, producer, cfg.WalletEventsTopic)
	ledgerSvc := service.NewLedgerService(transactionRepo)
	tierSvc := service.NewTierService(userRepo)
	reactivation := auth.NewReactivationService(cfg.ReactivationSecret, redisClient)
	notifier := notify.NewKafkaNotifier(producer, cfg.NotificationsTopic)
	inv := invoicer.NewHTTPInvoicer(cfg.InvoicerBaseURL, cfg.InvoicerAPIKey)

	reconcilerSvc := service.NewReconcilerService(paymentRepo, userRepo, unlockRepo, walletSvc, tierSvc, ledgerSvc, reactivation, notifier)
	billingSvc := service.NewCallBillingService(callRepo, walletSvc, ledgerSvc, inv)

	billingConsumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.BillingTopic, "billing-service-group", billingSvc)
	go billingConsumer.Consume(context.Background())
	defer billingConsumer.Close()

	h := handler.NewHandler(walletSvc, ledgerSvc, tierSvc, reconcilerSvc, billingSvc, reactivation)
	router := api.SetupRouter(h)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
