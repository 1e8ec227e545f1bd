package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/litapp/billing-service/internal/infrastructure/invoicer"
	"github.com/litapp/billing-service/internal/models"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
)

// In-memory repository fakes. All of them are safe for concurrent use so the
// duplicate-delivery and parallel-debit tests can hammer them from goroutines.

type fakeWalletRepo struct {
	mu      sync.Mutex
	wallets map[int64]*models.Wallet
}

func newFakeWalletRepo() *fakeWalletRepo {
	return &fakeWalletRepo{wallets: make(map[int64]*models.Wallet)}
}

func (f *fakeWalletRepo) get(userID int64) *models.Wallet {
	w, ok := f.wallets[userID]
	if !ok {
		w = &models.Wallet{UserID: userID}
		f.wallets[userID] = w
	}
	return w
}

func (f *fakeWalletRepo) GetOrCreate(_ context.Context, userID int64) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.get(userID)
	cp := *w
	return &cp, nil
}

func (f *fakeWalletRepo) Debit(_ context.Context, userID, stars int64, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.get(userID)
	if w.Stars < stars {
		return 0, pkgerrors.ErrInsufficientBalance
	}
	w.Stars -= stars
	w.TotalSpent += stars
	return w.Stars, nil
}

func (f *fakeWalletRepo) Credit(_ context.Context, userID, stars int64, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.get(userID)
	w.Stars += stars
	w.TotalEarned += stars
	return w.Stars, nil
}

func (f *fakeWalletRepo) AdjustUSD(_ context.Context, userID, deltaCents int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.get(userID)
	if w.USDCents+deltaCents < 0 {
		return 0, pkgerrors.ErrInsufficientBalance
	}
	w.USDCents += deltaCents
	return w.USDCents, nil
}

func (f *fakeWalletRepo) balance(userID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(userID).Stars
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[string]*models.Payment)}
}

func (f *fakePaymentRepo) FindOrCreateByExternalID(_ context.Context, p *models.Payment) (*models.Payment, error) {
	if p == nil {
		return nil, pkgerrors.ErrNilPayment
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if got, ok := f.payments[p.ExternalTransactionID]; ok {
		cp := *got
		return &cp, nil
	}
	cp := *p
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.Status == "" {
		cp.Status = models.PaymentStatusPending
	}
	f.payments[cp.ExternalTransactionID] = &cp
	out := cp
	return &out, nil
}

func (f *fakePaymentRepo) GetByExternalID(_ context.Context, externalID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[externalID]
	if !ok {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePaymentRepo) SetUser(_ context.Context, externalID string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[externalID]; ok && p.UserID == nil {
		p.UserID = &userID
	}
	return nil
}

func (f *fakePaymentRepo) transition(externalID string, to models.PaymentStatus) (*models.Payment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[externalID]
	if !ok {
		return nil, false, pkgerrors.ErrPaymentNotFound
	}
	from := p.Status
	eligible := from == models.PaymentStatusPending || from == models.PaymentStatusProcessing
	if to == models.PaymentStatusProcessing {
		eligible = from == models.PaymentStatusPending
	}
	if !eligible {
		cp := *p
		return &cp, false, nil
	}
	p.Status = to
	if to == models.PaymentStatusCompleted {
		now := time.Now().UTC()
		p.CompletedAt = &now
	}
	cp := *p
	return &cp, true, nil
}

func (f *fakePaymentRepo) MarkCompleted(_ context.Context, externalID string) (*models.Payment, bool, error) {
	return f.transition(externalID, models.PaymentStatusCompleted)
}

func (f *fakePaymentRepo) MarkFailed(_ context.Context, externalID string) (*models.Payment, bool, error) {
	return f.transition(externalID, models.PaymentStatusFailed)
}

func (f *fakePaymentRepo) MarkCancelled(_ context.Context, externalID string) (*models.Payment, bool, error) {
	return f.transition(externalID, models.PaymentStatusCancelled)
}

func (f *fakePaymentRepo) MarkProcessing(_ context.Context, externalID string) (*models.Payment, bool, error) {
	return f.transition(externalID, models.PaymentStatusProcessing)
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	f := &fakeUserRepo{users: make(map[int64]*models.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) FindByProviderContactRef(_ context.Context, ref string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ProviderContactRef == ref {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (f *fakeUserRepo) GetTier(_ context.Context, userID int64) (models.Tier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return "", pkgerrors.ErrUserNotFound
	}
	return u.Tier, nil
}

func (f *fakeUserRepo) UpdateTier(_ context.Context, userID int64, tier models.Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.Tier = tier
	return nil
}

func (f *fakeUserRepo) SetSubscription(_ context.Context, userID int64, tier models.Tier, plan string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.Tier = tier
	u.SubscriptionPlan = plan
	u.SubscriptionStartedAt = &startedAt
	return nil
}

func (f *fakeUserRepo) tier(userID int64) models.Tier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID].Tier
}

type fakeUnlockRepo struct {
	mu       sync.Mutex
	unlocked map[string]int
}

func newFakeUnlockRepo() *fakeUnlockRepo {
	return &fakeUnlockRepo{unlocked: make(map[string]int)}
}

func unlockKey(chatID, messageID string, userID int64) string {
	return fmt.Sprintf("%s/%s/%d", chatID, messageID, userID)
}

func (f *fakeUnlockRepo) MarkContentUnlocked(_ context.Context, chatID, messageID string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked[unlockKey(chatID, messageID, userID)]++
	return nil
}

func (f *fakeUnlockRepo) IsUnlocked(_ context.Context, chatID, messageID string, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocked[unlockKey(chatID, messageID, userID)] > 0, nil
}

type fakeTransactionRepo struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
}

func newFakeTransactionRepo() *fakeTransactionRepo {
	return &fakeTransactionRepo{txs: make(map[string]*models.Transaction)}
}

func (f *fakeTransactionRepo) Create(_ context.Context, tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	if !tx.Type.Valid() {
		return pkgerrors.ErrInvalidTransactionType
	}
	if tx.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.Status == "" {
		tx.Status = models.StatusPending
	}
	tx.CreatedAt = time.Now().UTC()
	cp := *tx
	f.txs[tx.ID.String()] = &cp
	return nil
}

func (f *fakeTransactionRepo) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeTransactionRepo) transition(id string, to models.StatusType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return pkgerrors.ErrTransactionNotFound
	}
	if tx.Status == to {
		return nil
	}
	if tx.Status != models.StatusPending {
		return fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidTransactionTransition, tx.Status, to)
	}
	tx.Status = to
	if to == models.StatusCompleted {
		now := time.Now().UTC()
		tx.CompletedAt = &now
	}
	return nil
}

func (f *fakeTransactionRepo) Complete(_ context.Context, id, paymentID, _ string) error {
	if err := f.transition(id, models.StatusCompleted); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if paymentID != "" {
		f.txs[id].PaymentID = paymentID
	}
	return nil
}

func (f *fakeTransactionRepo) Fail(_ context.Context, id, _ string) error {
	return f.transition(id, models.StatusFailed)
}

func (f *fakeTransactionRepo) Cancel(_ context.Context, id, _ string) error {
	return f.transition(id, models.StatusCancelled)
}

func (f *fakeTransactionRepo) HistoryByUser(_ context.Context, userID int64, _ int) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, tx := range f.txs {
		if tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	return out, nil
}

type fakeCallRepo struct {
	mu    sync.Mutex
	calls map[string]*models.Call
}

func newFakeCallRepo(calls ...*models.Call) *fakeCallRepo {
	f := &fakeCallRepo{calls: make(map[string]*models.Call)}
	for _, c := range calls {
		f.calls[c.ID] = c
	}
	return f
}

func (f *fakeCallRepo) Create(_ context.Context, call *models.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *call
	f.calls[call.ID] = &cp
	return nil
}

func (f *fakeCallRepo) GetByID(_ context.Context, id string) (*models.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok {
		return nil, pkgerrors.ErrCallNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCallRepo) ClaimEnd(_ context.Context, id string, endedAt time.Time) (*models.Call, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok {
		return nil, false, pkgerrors.ErrCallNotFound
	}
	if c.Status != models.CallStatusActive {
		cp := *c
		return &cp, false, nil
	}
	c.Status = models.CallStatusEnded
	c.EndedAt = &endedAt
	cp := *c
	return &cp, true, nil
}

func (f *fakeCallRepo) RecordBillingResult(_ context.Context, id string, res *models.BillingResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok {
		return pkgerrors.ErrCallNotFound
	}
	c.DurationSeconds = res.DurationSeconds
	c.Cost = res.Cost
	c.BillingStatus = res.BillingStatus
	c.TransactionID = res.TransactionID
	c.InvoiceID = res.InvoiceID
	return nil
}

type fakeInvoicer struct {
	mu       sync.Mutex
	calls    int
	lastUSD  int64
	lastRefs invoicer.CorrelationRefs
	err      error
}

func (f *fakeInvoicer) CreateInvoice(_ context.Context, _, amountCents int64, _ string, refs invoicer.CorrelationRefs) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls++
	f.lastUSD = amountCents
	f.lastRefs = refs
	return fmt.Sprintf("inv-%d", f.calls), nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) NotifyUser(_ context.Context, _ int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

type fakeMinter struct {
	mu     sync.Mutex
	minted int
}

func (f *fakeMinter) Mint(_ context.Context, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minted++
	return fmt.Sprintf("token-%d-%d", userID, f.minted), nil
}

// fakeRedis drops everything so wallet service tests always hit the repo.
type fakeRedis struct{}

func (fakeRedis) Get(context.Context, string) (string, error) {
	return "", fmt.Errorf("key not found")
}
func (fakeRedis) GetDel(context.Context, string) (string, error) {
	return "", fmt.Errorf("key not found")
}
func (fakeRedis) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (fakeRedis) SetNX(context.Context, string, interface{}, time.Duration) (bool, error) {
	return true, nil
}
func (fakeRedis) Del(context.Context, string) error { return nil }
func (fakeRedis) Close() error                      { return nil }

type fakeProducer struct{}

func (fakeProducer) Send(context.Context, string, string, []byte) error { return nil }
func (fakeProducer) Close() error                                       { return nil }
