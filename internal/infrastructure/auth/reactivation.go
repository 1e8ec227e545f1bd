package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/litapp/billing-service/internal/infrastructure/redis"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
)

const reactivationTTL = 48 * time.Hour

// ReactivationService mints and redeems the single-use tokens sent to users
// whose subscription invoice failed. The signed token carries the user id and
// a jti; the jti lives in Redis until redeemed, which is what makes the token
// single-use.
type ReactivationService struct {
	secret      []byte
	redisClient redis.RedisClient
}

func NewReactivationService(secret string, redisClient redis.RedisClient) *ReactivationService {
	return &ReactivationService{secret: []byte(secret), redisClient: redisClient}
}

func (s *ReactivationService) Mint(ctx context.Context, userID int64) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("reactivation secret not set")
	}
	jti := uuid.NewString()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"jti":     jti,
		"purpose": "reactivation",
		"exp":     time.Now().Add(reactivationTTL).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign reactivation token: %w", err)
	}

	key := fmt.Sprintf("reactivation:%s", jti)
	if err := s.redisClient.Set(ctx, key, userID, reactivationTTL); err != nil {
		slog.Error("failed to store reactivation jti", "user_id", userID, "error", err)
		return "", fmt.Errorf("failed to store reactivation token: %w", err)
	}

	slog.Info("reactivation token minted", "user_id", userID)
	return signed, nil
}

// Redeem validates the token and consumes its jti. A second redemption of
// the same token fails with ErrTokenAlreadyUsed.
func (s *ReactivationService) Redeem(ctx context.Context, tokenStr string) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, pkgerrors.ErrInvalidReactivationToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, pkgerrors.ErrInvalidReactivationToken
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, pkgerrors.ErrInvalidReactivationToken
	}
	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return 0, pkgerrors.ErrInvalidReactivationToken
	}

	// Consume atomically: only one redeemer can ever see the jti.
	key := fmt.Sprintf("reactivation:%s", jti)
	if _, err := s.redisClient.GetDel(ctx, key); err != nil {
		if stderrors.Is(err, redis.ErrKeyNotFound) {
			return 0, pkgerrors.ErrTokenAlreadyUsed
		}
		slog.Error("failed to consume reactivation jti", "jti", jti, "error", err)
		return 0, fmt.Errorf("failed to consume reactivation token: %w", err)
	}

	slog.Info("reactivation token redeemed", "user_id", int64(userID))
	return int64(userID), nil
}
