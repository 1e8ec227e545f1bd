package service

import (
	"context"
	"sync"
	"testing"

	pkgerrors "github.com/litapp/billing-service/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func newWalletFixture() (*fakeWalletRepo, WalletService) {
	repo := newFakeWalletRepo()
	return repo, NewWalletService(repo, fakeRedis{}, fakeProducer{}, "wallet-events")
}

func TestWalletService_DebitCredit(t *testing.T) {
	repo, svc := newWalletFixture()
	ctx := context.Background()

	t.Run("CreditThenDebit", func(t *testing.T) {
		balance, err := svc.Credit(ctx, 1, 500, "wallet_topup:ext-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(500), balance)

		balance, err = svc.Debit(ctx, 1, 200, "call:call-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(300), balance)
	})

	t.Run("DebitBeyondBalance", func(t *testing.T) {
		_, err := svc.Debit(ctx, 1, 10000, "call:call-2")
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)
		// The failed debit must not move the balance.
		assert.Equal(t, int64(300), repo.balance(1))
	})

	t.Run("FreshWalletStartsEmpty", func(t *testing.T) {
		balance, err := svc.GetBalance(ctx, 99)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})
}

func TestWalletService_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	repo, svc := newWalletFixture()
	ctx := context.Background()

	_, err := svc.Credit(ctx, 1, 100, "seed")
	assert.NoError(t, err)

	// 20 goroutines each try to take 10; only 10 can succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, 1, 10, "call:race"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, int64(0), repo.balance(1))
}

func TestWalletService_ConcurrentCreditsAllLand(t *testing.T) {
	repo, svc := newWalletFixture()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, 7, 10, "battle_reward:b1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(500), repo.balance(7))
}

func TestWalletService_AdjustUSD(t *testing.T) {
	_, svc := newWalletFixture()
	ctx := context.Background()

	cents, err := svc.AdjustUSD(ctx, 2, 500)
	assert.NoError(t, err)
	assert.Equal(t, int64(500), cents)

	cents, err = svc.AdjustUSD(ctx, 2, -200)
	assert.NoError(t, err)
	assert.Equal(t, int64(300), cents)

	_, err = svc.AdjustUSD(ctx, 2, -1000)
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)
}
