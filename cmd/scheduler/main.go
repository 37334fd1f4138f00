package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/config"
	"github.com/brycehammond/allowance-sub012/internal/events"
	"github.com/brycehammond/allowance-sub012/internal/infrastructure/kafka"
	"github.com/brycehammond/allowance-sub012/internal/infrastructure/redis"
	"github.com/brycehammond/allowance-sub012/internal/models"
	"github.com/brycehammond/allowance-sub012/internal/observability"
	core "github.com/brycehammond/allowance-sub012/internal/repository/postgres"
	service "github.com/brycehammond/allowance-sub012/internal/services"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg := config.Load()

	shutdown := observability.Setup("allowance-scheduler")
	defer shutdown(context.Background())

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
	allowanceSvc := service.NewAllowanceService(childRepo, ledgerRepo, automator, publisher, redisClient)
	goalSvc := service.NewGoalService(goalRepo, publisher)
	giftSvc := service.NewGiftService(giftRepo, publisher, redisClient, giftExpiry)

	c := cron.New()

	if _, err := c.AddFunc(cfg.AllowanceCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		result, err := allowanceSvc.ProcessAllPendingAllowances(ctx, models.SystemActor)
		if err != nil {
			slog.Error("allowance sweep failed", "error", err)
			return
		}
		slog.Info("allowance sweep done",
			"processed", result.Processed, "skipped", result.Skipped, "failed", result.Failed)
	}); err != nil {
		log.Fatalf("Failed to schedule allowance sweep: %v", err)
	}

	if _, err := c.AddFunc(cfg.ChallengeCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		resolved, err := goalSvc.EvaluateDueChallenges(ctx, models.SystemActor)
		if err != nil {
			slog.Error("challenge evaluation failed", "error", err)
		} else if resolved > 0 {
			slog.Info("challenges resolved", "count", resolved)
		}
		if _, err := giftSvc.ExpireStale(ctx); err != nil {
			slog.Error("gift expiry failed", "error", err)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule challenge evaluation: %v", err)
	}

	c.Start()
	slog.Info("scheduler started",
		"allowance_cron", cfg.AllowanceCron, "challenge_cron", cfg.ChallengeCron)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stop := c.Stop()
	<-stop.Done()
	log.Println("Scheduler stopped")
}
