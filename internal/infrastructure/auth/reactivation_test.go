package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/litapp/billing-service/internal/infrastructure/redis"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type memoryRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: make(map[string]string)}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (m *memoryRedis) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	delete(m.data, key)
	return v, nil
}

func (m *memoryRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (m *memoryRedis) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	_, exists := m.data[key]
	m.mu.Unlock()
	if exists {
		return false, nil
	}
	return true, m.Set(ctx, key, value, ttl)
}

func (m *memoryRedis) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryRedis) Close() error { return nil }

func TestReactivationService_MintAndRedeem(t *testing.T) {
	svc := NewReactivationService("test-secret", newMemoryRedis())
	ctx := context.Background()

	token, err := svc.Mint(ctx, 42)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	userID, err := svc.Redeem(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestReactivationService_SingleUse(t *testing.T) {
	svc := NewReactivationService("test-secret", newMemoryRedis())
	ctx := context.Background()

	token, err := svc.Mint(ctx, 42)
	assert.NoError(t, err)

	_, err = svc.Redeem(ctx, token)
	assert.NoError(t, err)

	_, err = svc.Redeem(ctx, token)
	assert.ErrorIs(t, err, pkgerrors.ErrTokenAlreadyUsed)
}

func TestReactivationService_ConcurrentRedeemSingleWinner(t *testing.T) {
	svc := NewReactivationService("test-secret", newMemoryRedis())
	ctx := context.Background()

	token, err := svc.Mint(ctx, 42)
	assert.NoError(t, err)

	const redeemers = 10
	errs := make(chan error, redeemers)
	var wg sync.WaitGroup
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(ctx, token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, pkgerrors.ErrTokenAlreadyUsed)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestReactivationService_RejectsGarbageAndForged(t *testing.T) {
	svc := NewReactivationService("test-secret", newMemoryRedis())
	ctx := context.Background()

	_, err := svc.Redeem(ctx, "not-a-token")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidReactivationToken)

	// Token signed with a different secret must not validate.
	other := NewReactivationService("other-secret", newMemoryRedis())
	forged, err := other.Mint(ctx, 42)
	assert.NoError(t, err)
	_, err = svc.Redeem(ctx, forged)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidReactivationToken)
}
