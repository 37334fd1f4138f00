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

	"github.com/brycehammond/allowance-sub012/internal/api"
	"github.com/brycehammond/allowance-sub012/internal/config"
	"github.com/brycehammond/allowance-sub012/internal/events"
	"github.com/brycehammond/allowance-sub012/internal/handler"
	"github.com/brycehammond/allowance-sub012/internal/infrastructure/kafka"
	"github.com/brycehammond/allowance-sub012/internal/infrastructure/redis"
	"github.com/brycehammond/allowance-sub012/internal/observability"
	core "github.com/brycehammond/allowance-sub012/internal/repository/postgres"
	service "github.com/brycehammond/allowance-sub012/internal/services"
	"github.com/brycehammond/allowance-sub012/internal/storage"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	shutdown := observability.Setup("allowance-ledger")
	defer shutdown(context.Background())

	if err := storage.RunMigrations(cfg.PostgresDSN); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	childRepo := core.NewPostgresChildRepository(db)
	ledgerRepo := core.NewPostgresLedgerRepository(db)
	goalRepo := core.NewPostgresGoalRepository(db)
	giftRepo := core.NewPostgresGiftRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()
	publisher := events.NewKafkaPublisher(producer)

	giftExpiry, err := time.ParseDuration(cfg.GiftExpiry)
	if err != nil {
		log.Fatalf("Invalid GIFT_EXPIRY: %v", err)
	}

	automator := service.NewSavingsAutomator(ledgerRepo, publisher)
	childSvc := service.NewChildService(childRepo)
	ledgerSvc := service.NewLedgerService(childRepo, ledgerRepo, redisClient)
	allowanceSvc := service.NewAllowanceService(childRepo, ledgerRepo, automator, publisher, redisClient)
	goalSvc := service.NewGoalService(goalRepo, publisher)
	giftSvc := service.NewGiftService(giftRepo, publisher, redisClient, giftExpiry)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, events.Topic, "allowance-notifications", kafka.LogNotifier{})
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go consumer.Consume(consumerCtx)
	defer consumer.Close()
	defer stopConsumer()

	h := handler.NewHandler(childSvc, ledgerSvc, allowanceSvc, goalSvc, giftSvc)
	router := api.SetupRouter(h, cfg.JWTSecret)

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
