package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VPN-MiniApp/internal/db"
)

func TestConcurrentDebits_ExactlyOneSucceeds(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _, err := s.Credit(ctx, 1, decimal.NewFromInt(5), "topup")
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, short int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Debit(ctx, 1, decimal.NewFromInt(5), "buy")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, db.ErrInsufficientBalance) {
				short++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, short)
	w, err := s.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	entries, err := s.ListEntries(ctx, 1, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestConcurrentTransitions_ExactlyOneApplied(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx := &db.Transaction{UserID: 1, PackageID: 1, ExternalOrderID: "o-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateTransaction(ctx, tx))

	const workers = 16
	results := make(chan db.TransitionResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.TransitionStatus(ctx, tx.ID, db.TxPending, db.TxCompleted, nil)
			assert.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for r := range results {
		assert.Equal(t, db.TxCompleted, r.Status)
		if r.Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
}

func TestTransitionFromTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx := &db.Transaction{ExternalOrderID: "o-2", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateTransaction(ctx, tx))

	_, err := s.TransitionStatus(ctx, tx.ID, db.TxPending, db.TxExpired, nil)
	require.NoError(t, err)

	_, err = s.TransitionStatus(ctx, tx.ID, db.TxPending, db.TxCompleted, nil)
	assert.ErrorIs(t, err, db.ErrInvalidTransition)

	got, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TxExpired, got.Status)

	_, err = s.TransitionStatus(ctx, 999, db.TxPending, db.TxCompleted, nil)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCreateTransaction_DuplicateOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTransaction(ctx, &db.Transaction{ExternalOrderID: "dup"}))
	err := s.CreateTransaction(ctx, &db.Transaction{ExternalOrderID: "dup"})
	assert.ErrorIs(t, err, db.ErrDuplicate)
}

func TestSubscriptionUniquePerTransaction(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateSubscription(ctx, &db.Subscription{TransactionID: 7, VPNKey: "a"}))
	err := s.CreateSubscription(ctx, &db.Subscription{TransactionID: 7, VPNKey: "b"})
	assert.ErrorIs(t, err, db.ErrDuplicate)

	txs, err := s.ListCompletedWithoutSubscription(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestExpireSubscriptions(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pkg := s.AddPackage(db.Package{Name: "Месяц", DurationDays: 30, Active: true})
	u, err := s.GetOrCreateUser(ctx, 42, "Ivan", "ivan")
	require.NoError(t, err)

	require.NoError(t, s.CreateSubscription(ctx, &db.Subscription{UserID: u.ID, PackageID: pkg.ID, TransactionID: 1, EndDate: now.Add(-time.Hour), Status: db.SubscriptionActive}))
	require.NoError(t, s.CreateSubscription(ctx, &db.Subscription{UserID: u.ID, PackageID: pkg.ID, TransactionID: 2, EndDate: now.Add(time.Hour), Status: db.SubscriptionActive}))

	expired, err := s.ExpireSubscriptions(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(42), expired[0].TelegramID)
	assert.Equal(t, "Месяц", expired[0].PackageName)

	active, err := s.ListActiveSubscriptions(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
