package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
)

const helpText = `Доступные команды:
/start — Открыть мини-приложение
/subscriptions — Мои подписки
/help — Показать эту справку

Покупка и оплата проходят в мини-приложении. После оплаты ключ придёт сюда.`

// commandOf возвращает команду без @botname, либо пустую строку.
func commandOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	// Пользователь заводится при любом сообщении
	user, err := b.store.GetOrCreateUser(ctx, msg.From.ID, msg.From.FirstName, msg.From.UserName)
	if err != nil {
		logger.Error("bot: get or create user", zap.Int64("telegram_id", msg.From.ID), zap.Error(err))
		b.reply(msg.Chat.ID, "Сервис временно недоступен, попробуйте позже.", nil)
		return
	}

	cmd := commandOf(msg.Text)
	if cmd != "" && b.limiter.IsLimited(msg.From.ID, cmd) {
		b.reply(msg.Chat.ID, "Пожалуйста, не так быстро! Подождите пару секунд...", nil)
		return
	}

	switch cmd {
	case "/start":
		if b.webAppURL == "" {
			b.reply(msg.Chat.ID, "Мини-приложение пока не настроено. Напишите в поддержку.", replyKeyboard())
			return
		}
		b.reply(msg.Chat.ID, "Добро пожаловать! Откройте мини-приложение, чтобы выбрать тариф и оплатить VPN.", launcherKeyboard(b.webAppURL))
	case "/subscriptions":
		b.listSubscriptions(ctx, msg.Chat.ID, user)
	case "/help":
		b.reply(msg.Chat.ID, helpText, replyKeyboard())
	default:
		b.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help для списка всех возможностей.", replyKeyboard())
	}
}

func (b *Bot) listSubscriptions(ctx context.Context, chatID int64, user *db.User) {
	subs, err := b.store.ListActiveSubscriptions(ctx, user.ID)
	if err != nil {
		logger.Error("bot: list subscriptions", zap.Uint("user_id", user.ID), zap.Error(err))
		b.reply(chatID, "Не удалось получить подписки, попробуйте позже.", nil)
		return
	}
	if len(subs) == 0 {
		b.reply(chatID, "У вас нет активных подписок. Купить можно в мини-приложении: /start", replyKeyboard())
		return
	}
	var text strings.Builder
	text.WriteString("Ваши активные подписки:\n\n")
	for _, s := range subs {
		text.WriteString(s.PackageName + "\n")
		text.WriteString("Ключ: " + s.VPNKey + "\n")
		text.WriteString("Действует до: " + s.EndDate.Format("02.01.2006 15:04") + "\n\n")
	}
	text.WriteString("Спасибо, что пользуетесь нашим VPN!")
	b.reply(chatID, text.String(), replyKeyboard())
}

func (b *Bot) reply(chatID int64, text string, markup interface{}) {
	m := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		m.ReplyMarkup = markup
	}
	if _, err := b.api.Send(m); err != nil {
		logger.Warn("bot: send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
