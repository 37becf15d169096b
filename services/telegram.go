package services

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"feedwatch/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier receives link diagnostics. Delivery is best effort.
type Notifier interface {
	NotifyLinkDegraded(health models.ConnectionHealth, since time.Time) error
	NotifyLinkRecovered(downFor time.Duration) error
}

type TelegramService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	loc    *time.Location
	logger *zap.Logger
}

func NewTelegramService(token, chatID string, timeout time.Duration, loc *time.Location, logger *zap.Logger) (*TelegramService, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	return &TelegramService{
		bot:    bot,
		chatID: id,
		loc:    loc,
		logger: logger,
	}, nil
}

func (ts *TelegramService) NotifyLinkDegraded(health models.ConnectionHealth, since time.Time) error {
	return ts.send(formatDegradedMessage(health, since, ts.loc))
}

func (ts *TelegramService) NotifyLinkRecovered(downFor time.Duration) error {
	return ts.send(formatRecoveredMessage(downFor))
}

func (ts *TelegramService) send(text string) error {
	msg := tgbotapi.NewMessage(ts.chatID, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := ts.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}
	return nil
}

func formatDegradedMessage(health models.ConnectionHealth, since time.Time, loc *time.Location) string {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>FEEDWATCH OFFLINE</b> ⚠️\n\n")
	sb.WriteString(fmt.Sprintf("🕐 <b>Since:</b> %s\n", since.In(loc).Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("🔁 <b>Failed attempts:</b> %d\n\n", health.ConsecutiveFailures))

	sb.WriteString("📊 <b>Links:</b>\n")
	sb.WriteString(fmt.Sprintf("📡 WiFi: %s\n", formatLinkState(health.WiFi)))
	sb.WriteString(fmt.Sprintf("🔌 Push: %s\n", formatLinkState(health.PubSub)))
	if !health.LastSuccessAt.IsZero() {
		sb.WriteString(fmt.Sprintf("✅ Last success: %s\n", health.LastSuccessAt.In(loc).Format("15:04:05")))
	}
	if health.ClockNeedsResync {
		sb.WriteString("⏰ Clock not synchronized\n")
	}

	sb.WriteString("\n🔴 <b>Status:</b> DISPLAY MAY BE STALE")
	return sb.String()
}

func formatRecoveredMessage(downFor time.Duration) string {
	var sb strings.Builder

	sb.WriteString("✅ <b>FEEDWATCH BACK ONLINE</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(downFor)))
	sb.WriteString("🟢 <b>Status:</b> ONLINE")
	return sb.String()
}

func formatLinkState(s models.LinkState) string {
	if s == models.LinkConnected {
		return "✅ Connected"
	}
	return "❌ " + strings.ToUpper(string(s[:1])) + string(s[1:])
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%d hr %d min", hours, minutes)
}
