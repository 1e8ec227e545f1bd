package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN        string
	RedisAddr          string
	KafkaBrokers       []string
	HTTPAddr           string
	ReactivationSecret string
	InvoicerBaseURL    string
	InvoicerAPIKey     string
	BillingTopic       string
	WalletEventsTopic  string
	NotificationsTopic string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		KafkaBrokers:       []string{os.Getenv("KAFKA_BROKER")},
		HTTPAddr:           os.Getenv("HTTP_ADDR"),
		ReactivationSecret: os.Getenv("REACTIVATION_SECRET"),
		InvoicerBaseURL:    os.Getenv("INVOICER_BASE_URL"),
		InvoicerAPIKey:     os.Getenv("INVOICER_API_KEY"),
		BillingTopic:       os.Getenv("BILLING_TOPIC"),
		WalletEventsTopic:  os.Getenv("WALLET_EVENTS_TOPIC"),
		NotificationsTopic: os.Getenv("NOTIFICATIONS_TOPIC"),
	}

	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=billing sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.ReactivationSecret == "" {
		cfg.ReactivationSecret = "supersecret"
	}
	if cfg.InvoicerBaseURL == "" {
		cfg.InvoicerBaseURL = "http://localhost:9000"
	}
	if cfg.BillingTopic == "" {
		cfg.BillingTopic = "billing-events"
	}
	if cfg.WalletEventsTopic == "" {
		cfg.WalletEventsTopic = "wallet-events"
	}
	if cfg.NotificationsTopic == "" {
		cfg.NotificationsTopic = "notifications"
	}

	slog.Info("config loaded", "postgres_dsn", cfg.PostgresDSN, "redis_addr", cfg.RedisAddr, "kafka_brokers", cfg.KafkaBrokers)
	return cfg
}
