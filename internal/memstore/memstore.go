// Package memstore: хранилище в памяти с той же семантикой, что и db.Store:
// CAS-переходы статусов и атомарные операции кошелька под блокировкой на пользователя.
// Используется при STORAGE_DRIVER=memory и в тестах.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"VPN-MiniApp/internal/db"
)

type Store struct {
	now func() time.Time

	usersMu    sync.RWMutex
	users      map[uint]db.User
	byTelegram map[int64]uint

	pkgMu    sync.RWMutex
	packages map[uint]db.Package

	txMu    sync.Mutex
	txs     map[uint]db.Transaction
	byOrder map[string]uint

	walletsMu sync.Mutex
	wallets   map[uint]*walletCell

	subsMu sync.RWMutex
	subs   map[uint]db.Subscription
	bySubTx map[uint]uint

	seq atomic.Uint64
}

type walletCell struct {
	mu      sync.Mutex
	wallet  db.Wallet
	entries []db.WalletEntry
}

func New() *Store {
	return &Store{
		now:        time.Now,
		users:      make(map[uint]db.User),
		byTelegram: make(map[int64]uint),
		packages:   make(map[uint]db.Package),
		txs:        make(map[uint]db.Transaction),
		byOrder:    make(map[string]uint),
		wallets:    make(map[uint]*walletCell),
		subs:       make(map[uint]db.Subscription),
		bySubTx:    make(map[uint]uint),
	}
}

// SetClock подменяет источник времени.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) nextID() uint {
	return uint(s.seq.Add(1))
}

// --- пользователи ---

func (s *Store) GetOrCreateUser(_ context.Context, telegramID int64, firstName, username string) (*db.User, error) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	if id, ok := s.byTelegram[telegramID]; ok {
		u := s.users[id]
		u.FirstName, u.Username = firstName, username
		s.users[id] = u
		return &u, nil
	}
	u := db.User{ID: s.nextID(), TelegramID: telegramID, FirstName: firstName, Username: username, CreatedAt: s.now()}
	s.users[u.ID] = u
	s.byTelegram[telegramID] = u.ID
	return &u, nil
}

func (s *Store) GetUser(_ context.Context, id uint) (*db.User, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &u, nil
}

// --- каталог ---

// AddPackage добавляет тариф в каталог.
func (s *Store) AddPackage(p db.Package) db.Package {
	s.pkgMu.Lock()
	defer s.pkgMu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.packages[p.ID] = p
	return p
}

func (s *Store) ListActivePackages(_ context.Context) ([]db.Package, error) {
	s.pkgMu.RLock()
	defer s.pkgMu.RUnlock()
	var out []db.Package
	for _, p := range s.packages {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

func (s *Store) GetPackage(_ context.Context, id uint) (*db.Package, error) {
	s.pkgMu.RLock()
	defer s.pkgMu.RUnlock()
	p, ok := s.packages[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &p, nil
}

// --- транзакции ---

func (s *Store) CreateTransaction(_ context.Context, tx *db.Transaction) error {
	if tx.ExternalOrderID == "" {
		return fmt.Errorf("transaction: external order id is required")
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if _, ok := s.byOrder[tx.ExternalOrderID]; ok {
		return fmt.Errorf("%w: order %s", db.ErrDuplicate, tx.ExternalOrderID)
	}
	tx.ID = s.nextID()
	tx.Status = db.TxPending
	now := s.now()
	tx.CreatedAt, tx.UpdatedAt = now, now
	s.txs[tx.ID] = *tx
	s.byOrder[tx.ExternalOrderID] = tx.ID
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id uint) (*db.Transaction, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &tx, nil
}

func (s *Store) GetTransactionByOrderID(_ context.Context, orderID string) (*db.Transaction, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	id, ok := s.byOrder[orderID]
	if !ok {
		return nil, db.ErrNotFound
	}
	tx := s.txs[id]
	return &tx, nil
}

func (s *Store) UpdatePaymentData(_ context.Context, id uint, data db.PaymentData) error {
	raw, err := data.MarshalJSON()
	if err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return db.ErrNotFound
	}
	if tx.Status != db.TxPending {
		return fmt.Errorf("%w: transaction %d is %s", db.ErrInvalidTransition, id, tx.Status)
	}
	tx.PaymentData = raw
	tx.UpdatedAt = s.now()
	s.txs[id] = tx
	return nil
}

func (s *Store) TransitionStatus(_ context.Context, id uint, from, to db.TxStatus, data *db.PaymentData) (db.TransitionResult, error) {
	if !db.CanTransition(from, to) {
		return db.TransitionResult{Status: from}, fmt.Errorf("%w: %s -> %s", db.ErrInvalidTransition, from, to)
	}
	var raw []byte
	if data != nil {
		var err error
		if raw, err = data.MarshalJSON(); err != nil {
			return db.TransitionResult{}, err
		}
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return db.TransitionResult{}, db.ErrNotFound
	}
	if tx.Status != from {
		if tx.Status == to {
			return db.TransitionResult{Status: to}, nil
		}
		return db.TransitionResult{Status: tx.Status}, fmt.Errorf("%w: transaction %d is %s, wanted %s", db.ErrInvalidTransition, id, tx.Status, to)
	}
	tx.Status = to
	if raw != nil {
		tx.PaymentData = raw
	}
	tx.UpdatedAt = s.now()
	s.txs[id] = tx
	return db.TransitionResult{Applied: true, Status: to}, nil
}

func (s *Store) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	var n int64
	for id, tx := range s.txs {
		if tx.Status == db.TxPending && tx.ExpiresAt.Before(now) {
			tx.Status = db.TxExpired
			tx.UpdatedAt = now
			s.txs[id] = tx
			n++
		}
	}
	return n, nil
}

func (s *Store) ListCompletedWithoutSubscription(_ context.Context, limit int) ([]db.Transaction, error) {
	s.txMu.Lock()
	var completed []db.Transaction
	for _, tx := range s.txs {
		if tx.Status == db.TxCompleted {
			completed = append(completed, tx)
		}
	}
	s.txMu.Unlock()

	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	sort.Slice(completed, func(i, j int) bool { return completed[i].ID < completed[j].ID })
	var out []db.Transaction
	for _, tx := range completed {
		if _, ok := s.bySubTx[tx.ID]; ok {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- кошельки ---

func (s *Store) cell(userID uint) *walletCell {
	s.walletsMu.Lock()
	defer s.walletsMu.Unlock()
	c, ok := s.wallets[userID]
	if !ok {
		c = &walletCell{wallet: db.Wallet{UserID: userID, UpdatedAt: s.now()}}
		s.wallets[userID] = c
	}
	return c
}

func (s *Store) GetWallet(_ context.Context, userID uint) (*db.Wallet, error) {
	c := s.cell(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.wallet
	return &w, nil
}

func (s *Store) Credit(_ context.Context, userID uint, amount decimal.Decimal, description string) (*db.Wallet, *db.WalletEntry, error) {
	if !amount.IsPositive() {
		return nil, nil, db.ErrInvalidAmount
	}
	c := s.cell(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallet.Balance = c.wallet.Balance.Add(amount)
	c.wallet.TotalEarned = c.wallet.TotalEarned.Add(amount)
	return s.appendEntry(c, db.EntryTopup, amount, description)
}

func (s *Store) Debit(_ context.Context, userID uint, amount decimal.Decimal, description string) (*db.Wallet, *db.WalletEntry, error) {
	if !amount.IsPositive() {
		return nil, nil, db.ErrInvalidAmount
	}
	c := s.cell(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wallet.Balance.LessThan(amount) {
		return nil, nil, db.ErrInsufficientBalance
	}
	c.wallet.Balance = c.wallet.Balance.Sub(amount)
	c.wallet.TotalSpent = c.wallet.TotalSpent.Add(amount)
	return s.appendEntry(c, db.EntrySpend, amount, description)
}

// appendEntry вызывается под c.mu.
func (s *Store) appendEntry(c *walletCell, typ db.EntryType, amount decimal.Decimal, description string) (*db.Wallet, *db.WalletEntry, error) {
	now := s.now()
	c.wallet.UpdatedAt = now
	e := db.WalletEntry{ID: s.nextID(), UserID: c.wallet.UserID, Type: typ, Amount: amount, Description: description, CreatedAt: now}
	c.entries = append(c.entries, e)
	w := c.wallet
	return &w, &e, nil
}

func (s *Store) ListEntries(_ context.Context, userID uint, limit, offset int) ([]db.WalletEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	c := s.cell(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]db.WalletEntry, 0, limit)
	for i := len(c.entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.entries[i])
	}
	return out, nil
}

// --- подписки ---

func (s *Store) CreateSubscription(_ context.Context, sub *db.Subscription) error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.bySubTx[sub.TransactionID]; ok {
		return fmt.Errorf("%w: subscription for transaction %d", db.ErrDuplicate, sub.TransactionID)
	}
	sub.ID = s.nextID()
	s.subs[sub.ID] = *sub
	s.bySubTx[sub.TransactionID] = sub.ID
	return nil
}

func (s *Store) GetSubscriptionByTransaction(_ context.Context, txID uint) (*db.Subscription, error) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	id, ok := s.bySubTx[txID]
	if !ok {
		return nil, db.ErrNotFound
	}
	sub := s.subs[id]
	return &sub, nil
}

func (s *Store) view(sub db.Subscription) db.SubscriptionView {
	v := db.SubscriptionView{Subscription: sub}
	s.pkgMu.RLock()
	if p, ok := s.packages[sub.PackageID]; ok {
		v.PackageName, v.DurationDays = p.Name, p.DurationDays
	}
	s.pkgMu.RUnlock()
	s.usersMu.RLock()
	if u, ok := s.users[sub.UserID]; ok {
		v.TelegramID = u.TelegramID
	}
	s.usersMu.RUnlock()
	return v
}

func (s *Store) ListActiveSubscriptions(_ context.Context, userID uint) ([]db.SubscriptionView, error) {
	s.subsMu.RLock()
	var subs []db.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.Status == db.SubscriptionActive {
			subs = append(subs, sub)
		}
	}
	s.subsMu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].EndDate.After(subs[j].EndDate) })
	out := make([]db.SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		out = append(out, s.view(sub))
	}
	return out, nil
}

func (s *Store) ExpireSubscriptions(_ context.Context, now time.Time) ([]db.SubscriptionView, error) {
	s.subsMu.Lock()
	var expired []db.Subscription
	for id, sub := range s.subs {
		if sub.Status == db.SubscriptionActive && sub.EndDate.Before(now) {
			sub.Status = db.SubscriptionExpired
			s.subs[id] = sub
			expired = append(expired, sub)
		}
	}
	s.subsMu.Unlock()
	out := make([]db.SubscriptionView, 0, len(expired))
	for _, sub := range expired {
		out = append(out, s.view(sub))
	}
	return out, nil
}

func (s *Store) ListExpiringSubscriptions(_ context.Context, now, before time.Time) ([]db.SubscriptionView, error) {
	s.subsMu.RLock()
	var subs []db.Subscription
	for _, sub := range s.subs {
		if sub.Status == db.SubscriptionActive && !sub.NotifiedExpiring && sub.EndDate.After(now) && !sub.EndDate.After(before) {
			subs = append(subs, sub)
		}
	}
	s.subsMu.RUnlock()
	out := make([]db.SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		out = append(out, s.view(sub))
	}
	return out, nil
}

func (s *Store) MarkExpiringNotified(_ context.Context, id uint) error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return db.ErrNotFound
	}
	sub.NotifiedExpiring = true
	s.subs[id] = sub
	return nil
}
