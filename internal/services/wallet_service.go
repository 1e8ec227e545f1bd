package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/litapp/billing-service/internal/infrastructure/kafka"
	"github.com/litapp/billing-service/internal/infrastructure/observability"
	"github.com/litapp/billing-service/internal/infrastructure/redis"
	"github.com/litapp/billing-service/internal/models"
	"github.com/litapp/billing-service/internal/repository"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type WalletService interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetWallet(ctx context.Context, userID int64) (*models.Wallet, error)
	Debit(ctx context.Context, userID, stars int64, reason string) (int64, error)
	Credit(ctx context.Context, userID, stars int64, reason string) (int64, error)
	AdjustUSD(ctx context.Context, userID, deltaCents int64) (int64, error)
}

type walletService struct {
	walletRepo  repository.WalletRepository
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
	eventsTopic string
}

func NewWalletService(walletRepo repository.WalletRepository, redisClient redis.RedisClient, producer kafka.KafkaProducer, eventsTopic string) *walletService {
	return &walletService{
		walletRepo:  walletRepo,
		redisClient: redisClient,
		producer:    producer,
		eventsTopic: eventsTopic,
	}
}

func balanceKey(userID int64) string {
	return fmt.Sprintf("wallet:%d:stars", userID)
}

func (s *walletService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "GetBalance")
	defer span.End()

	if balanceStr, err := s.redisClient.Get(ctx, balanceKey(userID)); err == nil {
		var balance int64
		if err := json.Unmarshal([]byte(balanceStr), &balance); err != nil {
			slog.Error("failed to unmarshal cached balance", "user_id", userID, "error", err)
		} else {
			return balance, nil
		}
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get wallet")
		slog.Error("failed to get wallet", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	if err := s.redisClient.Set(ctx, balanceKey(userID), wallet.Stars, 5*time.Minute); err != nil {
		slog.Error("failed to cache balance", "user_id", userID, "error", err)
	}
	return wallet.Stars, nil
}

func (s *walletService) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "GetWallet")
	defer span.End()

	wallet, err := s.walletRepo.GetOrCreate(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get wallet")
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

func (s *walletService) Debit(ctx context.Context, userID, stars int64, reason string) (int64, error) {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "DebitWallet")
	defer span.End()

	newBalance, err := s.walletRepo.Debit(ctx, userID, stars, reason)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrInsufficientBalance) {
			observability.WalletOperations.WithLabelValues("debit", "insufficient").Inc()
			slog.Warn("insufficient balance", "user_id", userID, "stars", stars, "reason", reason)
			return 0, err
		}
		observability.WalletOperations.WithLabelValues("debit", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "debit failed")
		slog.Error("failed to debit wallet", "user_id", userID, "stars", stars, "reason", reason, "error", err)
		return 0, err
	}

	observability.WalletOperations.WithLabelValues("debit", "success").Inc()
	s.invalidateBalance(ctx, userID)
	s.emitWalletEvent(userID, "wallet_debited", stars, newBalance, reason)
	slog.Info("wallet debited", "user_id", userID, "stars", stars, "new_balance", newBalance, "reason", reason)
	return newBalance, nil
}

func (s *walletService) Credit(ctx context.Context, userID, stars int64, reason string) (int64, error) {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "CreditWallet")
	defer span.End()

	newBalance, err := s.walletRepo.Credit(ctx, userID, stars, reason)
	if err != nil {
		observability.WalletOperations.WithLabelValues("credit", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit failed")
		slog.Error("failed to credit wallet", "user_id", userID, "stars", stars, "reason", reason, "error", err)
		return 0, err
	}

	observability.WalletOperations.WithLabelValues("credit", "success").Inc()
	s.invalidateBalance(ctx, userID)
	s.emitWalletEvent(userID, "wallet_credited", stars, newBalance, reason)
	slog.Info("wallet credited", "user_id", userID, "stars", stars, "new_balance", newBalance, "reason", reason)
	return newBalance, nil
}

func (s *walletService) AdjustUSD(ctx context.Context, userID, deltaCents int64) (int64, error) {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "AdjustUSD")
	defer span.End()

	newCents, err := s.walletRepo.AdjustUSD(ctx, userID, deltaCents)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "usd adjust failed")
		slog.Error("failed to adjust usd balance", "user_id", userID, "delta_cents", deltaCents, "error", err)
		return 0, err
	}
	slog.Info("usd balance adjusted", "user_id", userID, "delta_cents", deltaCents, "new_cents", newCents)
	return newCents, nil
}

func (s *walletService) invalidateBalance(ctx context.Context, userID int64) {
	if err := s.redisClient.Del(ctx, balanceKey(userID)); err != nil {
		slog.Error("failed to invalidate balance cache", "user_id", userID, "error", err)
	}
}

func (s *walletService) emitWalletEvent(userID int64, eventType string, stars, balance int64, reason string) {
	if s.producer == nil {
		return
	}
	event := map[string]interface{}{
		"event_type": eventType,
		"user_id":    userID,
		"stars":      stars,
		"balance":    balance,
		"reason":     reason,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal wallet event", "user_id", userID, "error", err)
		return
	}
	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := s.producer.Send(context.Background(), s.eventsTopic, fmt.Sprintf("%d", userID), eventBytes); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to send wallet event after retries", "user_id", userID, "event_type", eventType)
	}()
}
