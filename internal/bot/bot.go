// Package bot: Telegram-бот, открывающий мини-приложение, и канал уведомлений пользователям.
package bot

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
)

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Store interface {
	GetOrCreateUser(ctx context.Context, telegramID int64, firstName, username string) (*db.User, error)
	ListActiveSubscriptions(ctx context.Context, userID uint) ([]db.SubscriptionView, error)
}

type Bot struct {
	api       Sender
	store     Store
	webAppURL string
	limiter   *RateLimiter
}

func New(api Sender, store Store, webAppURL string, adminID int64) *Bot {
	return &Bot{api: api, store: store, webAppURL: webAppURL, limiter: NewRateLimiter(adminID)}
}

// Run читает апдейты до закрытия канала или отмены ctx.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.safeHandle(ctx, update)
		}
	}
}

func (b *Bot) safeHandle(ctx context.Context, update tgbotapi.Update) {
	defer logger.NotifyOnPanic("bot update")
	b.HandleUpdate(ctx, update)
}

// Start запускает long polling на экземпляре BotAPI.
func Start(ctx context.Context, api *tgbotapi.BotAPI, b *Bot) {
	logger.Info("bot authorized", zap.String("account", api.Self.UserName))
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()
	b.Run(ctx, updates)
}

// NotifyUser отправляет сообщение пользователю. Telegram ID совпадает с ID чата.
func (b *Bot) NotifyUser(telegramID int64, text string) error {
	if telegramID == 0 {
		return errors.New("empty telegram id")
	}
	_, err := b.api.Send(tgbotapi.NewMessage(telegramID, text))
	return err
}
