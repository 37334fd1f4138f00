package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN   string
	RedisAddr     string
	KafkaBrokers  []string
	JWTSecret     string
	HTTPAddr      string
	AllowanceCron string
	ChallengeCron string
	GiftExpiry    string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		KafkaBrokers:  []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:     os.Getenv("JWT_SECRET"),
		HTTPAddr:      os.Getenv("HTTP_ADDR"),
		AllowanceCron: os.Getenv("ALLOWANCE_CRON"),
		ChallengeCron: os.Getenv("CHALLENGE_CRON"),
		GiftExpiry:    os.Getenv("GIFT_EXPIRY"),
	}

	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=allowance sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.AllowanceCron == "" {
		// daily at 06:00 so fixed-day children are picked up on their day
		cfg.AllowanceCron = "0 6 * * *"
	}
	if cfg.ChallengeCron == "" {
		cfg.ChallengeCron = "15 * * * *"
	}
	if cfg.GiftExpiry == "" {
		cfg.GiftExpiry = "720h"
	}

	slog.Info("config loaded",
		"postgres_dsn", cfg.PostgresDSN,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"http_addr", cfg.HTTPAddr,
		"allowance_cron", cfg.AllowanceCron)
	return cfg
}
