package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VPN-MiniApp/internal/db"
)

func TestWalletService_Scenario(t *testing.T) {
	env := newTestEnv(t)
	svc := NewWalletService(env.store, decimal.NewFromInt(1000))

	w, err := svc.Credit(env.ctx, env.user.ID, decimal.NewFromInt(10), "topup")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(10)))

	w, err = svc.Debit(env.ctx, env.user.ID, decimal.NewFromInt(4), "manual")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(6)))
	assert.True(t, w.TotalSpent.Equal(decimal.NewFromInt(4)))

	_, err = svc.Debit(env.ctx, env.user.ID, decimal.NewFromInt(7), "manual")
	require.ErrorIs(t, err, db.ErrInsufficientBalance)

	w, err = svc.Balance(env.ctx, env.user.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(6)))
	assert.True(t, w.TotalEarned.Equal(decimal.NewFromInt(10)))

	entries, err := svc.History(env.ctx, env.user.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWalletService_Rejects(t *testing.T) {
	env := newTestEnv(t)
	svc := NewWalletService(env.store, decimal.NewFromInt(100))

	tests := []struct {
		name string
		op   func() error
		want error
	}{
		{"Credit above limit", func() error {
			_, err := svc.Credit(env.ctx, env.user.ID, decimal.NewFromInt(101), "topup")
			return err
		}, ErrCreditLimit},
		{"Zero credit", func() error {
			_, err := svc.Credit(env.ctx, env.user.ID, decimal.Zero, "topup")
			return err
		}, db.ErrInvalidAmount},
		{"Negative debit", func() error {
			_, err := svc.Debit(env.ctx, env.user.ID, decimal.NewFromInt(-1), "manual")
			return err
		}, db.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.op(), tt.want)
		})
	}

	w, err := svc.Balance(env.ctx, env.user.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}
