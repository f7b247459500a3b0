package bot

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
	"VPN-MiniApp/internal/memstore"
)

func TestMain(m *testing.M) {
	logger.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

func message(from int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		From: &tgbotapi.User{ID: from, FirstName: "Vladislav", UserName: "vdkfrost"},
		Chat: &tgbotapi.Chat{ID: from},
	}}
}

func TestCommandOf(t *testing.T) {
	tests := map[string]string{
		"/start":                 "/start",
		"/start@vpn_bot payload": "/start",
		"  /help ":               "/help",
		"привет":                 "",
		"":                       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, commandOf(in), in)
	}
}

func TestStartOpensMiniApp(t *testing.T) {
	sender := &fakeSender{}
	store := memstore.New()
	b := New(sender, store, "https://app.example.com", 0)

	b.HandleUpdate(context.Background(), message(42, "/start"))

	msg := sender.last(t)
	assert.Equal(t, int64(42), msg.ChatID)
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	btn := markup.InlineKeyboard[0][0]
	require.NotNil(t, btn.URL)
	assert.Equal(t, "https://app.example.com", *btn.URL)

	user, err := store.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.TelegramID)
	assert.Equal(t, "vdkfrost", user.Username)
}

func TestSubscriptionsCommand(t *testing.T) {
	sender := &fakeSender{}
	store := memstore.New()
	b := New(sender, store, "https://app.example.com", 0)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(42, "/subscriptions"))
	assert.Contains(t, sender.last(t).Text, "нет активных подписок")

	pkg := store.AddPackage(db.Package{Name: "Месяц", DurationDays: 30, Price: decimal.NewFromInt(5), Active: true})
	user, err := store.GetOrCreateUser(ctx, 42, "Vladislav", "vdkfrost")
	require.NoError(t, err)
	require.NoError(t, store.CreateSubscription(ctx, &db.Subscription{
		UserID:        user.ID,
		PackageID:     pkg.ID,
		TransactionID: 7,
		VPNKey:        "vpn-abc",
		Status:        db.SubscriptionActive,
		StartDate:     time.Now(),
		EndDate:       time.Now().Add(24 * time.Hour),
	}))

	b.limiter.now = func() time.Time { return time.Now().Add(time.Minute) }
	b.HandleUpdate(ctx, message(42, "/subscriptions"))
	text := sender.last(t).Text
	assert.Contains(t, text, "Месяц")
	assert.Contains(t, text, "vpn-abc")
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	assert.False(t, rl.IsLimited(42, "/subscriptions"))
	assert.True(t, rl.IsLimited(42, "/subscriptions"))
	assert.False(t, rl.IsLimited(43, "/subscriptions"))
	assert.False(t, rl.IsLimited(1, "/subscriptions"))
	assert.False(t, rl.IsLimited(1, "/subscriptions"))

	now = now.Add(6 * time.Second)
	assert.False(t, rl.IsLimited(42, "/subscriptions"))
}

func TestNotifyUser(t *testing.T) {
	sender := &fakeSender{}
	b := New(sender, memstore.New(), "", 0)

	require.NoError(t, b.NotifyUser(279058397, "Ключ выдан"))
	msg := sender.last(t)
	assert.Equal(t, int64(279058397), msg.ChatID)
	assert.Equal(t, "Ключ выдан", msg.Text)

	assert.Error(t, b.NotifyUser(0, "x"))
}
