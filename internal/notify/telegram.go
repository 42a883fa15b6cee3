// Package notify sends alerts about high-confidence discoveries.
package notify

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signalscout/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts auto-promotion alerts to a single chat.
type Telegram struct {
	api    telegramAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegram creates a Telegram notifier with the given bot token.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// DiscoveryPromoted sends an alert for an auto-promoted discovery.
// Send failures are logged and swallowed so a Telegram outage never
// fails a scan.
func (t *Telegram) DiscoveryPromoted(d *model.Discovery) {
	msg := tgbotapi.NewMessage(t.chatID, FormatPromotion(d))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send promotion alert", "domain", d.CompanyDomain, "error", err)
	}
}

// FormatPromotion formats an auto-promoted discovery as an alert message.
func FormatPromotion(d *model.Discovery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New prospect: %s (score %d)\n", d.CompanyDomain, d.ConfidenceScore)
	if d.CompanyName != "" {
		fmt.Fprintf(&b, "Company: %s\n", d.CompanyName)
	}
	fmt.Fprintf(&b, "Source: %s", d.SourceType)
	if d.SourceTitle != "" {
		fmt.Fprintf(&b, ": %s", d.SourceTitle)
	}
	b.WriteString("\n")
	if len(d.KeywordsMatched) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(d.KeywordsMatched, ", "))
	}
	if d.SourceURL != "" {
		b.WriteString("\n")
		b.WriteString(d.SourceURL)
	}
	return b.String()
}
