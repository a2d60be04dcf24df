package alerts

import (
	"fmt"
	"trendbot/internal/config"
	"trendbot/internal/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

// Notifier шлёт критические уведомления в Telegram: провал авторизации
// стрима, исчерпанные реконнекты, повторные отказы ордеров. Если канал
// выключен или недоступен, уведомления остаются в логе.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *logger.Logger
}

func New(cfg config.AlertsConfig, log *logger.Logger) *Notifier {
	n := &Notifier{chatID: cfg.ChatID, log: log}
	if !cfg.Enabled || cfg.TelegramToken == "" {
		return n
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.WithComponent("alerts").WithError(err).
			Warn("Не удалось подключиться к Telegram, уведомления только в лог.")
		return n
	}
	n.bot = bot
	log.WithComponent("alerts").WithField("bot", bot.Self.UserName).Info("Канал уведомлений подключён.")
	return n
}

// Critical логирует сообщение и, если бот настроен, отправляет его в чат.
func (n *Notifier) Critical(msg string) {
	n.log.WithComponent("alerts").Error(msg)

	if n.bot == nil || n.chatID == 0 {
		return
	}
	out := tgbotapi.NewMessage(n.chatID, fmt.Sprintf("⚠ %s", msg))
	if _, err := n.bot.Send(out); err != nil {
		n.log.WithComponent("alerts").WithError(err).Warn("Не удалось отправить уведомление в Telegram.")
	}
}
