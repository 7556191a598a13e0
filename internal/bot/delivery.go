package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"med-reminder/internal/notify"
	"med-reminder/internal/service"
)

// Deliver sends a due reminder with its action buttons.
func (b *Bot) Deliver(_ context.Context, n notify.Notification) error {
	p := n.Payload
	at := p.Local(b.config.Location())

	var builder strings.Builder
	if n.Snooze {
		builder.WriteString("⏰ <b>Reminder again:</b> ")
	} else {
		builder.WriteString("💊 <b>Time for your medication:</b> ")
	}
	builder.WriteString(escape(p.Name))
	if p.Dosage != "" {
		builder.WriteString(fmt.Sprintf(" (%s)", escape(p.Dosage)))
	}
	builder.WriteString(fmt.Sprintf("\n🕒 %s", at.Format("15:04")))

	_, err := b.sendWithReplyMarkup(p.ChatID, builder.String(),
		reminderKeyboard(n.ID, int(b.config.SnoozeDelay.Minutes())))
	return err
}

// Confirm tells the user a dose was logged.
func (b *Bot) Confirm(_ context.Context, p notify.Payload) error {
	at := p.Local(b.config.Location())
	return b.sendText(p.ChatID, fmt.Sprintf("✅ Logged <b>%s</b> for %s.", escape(p.Name), at.Format("15:04")))
}

// Fail tells the user a dose could not be logged.
func (b *Bot) Fail(_ context.Context, p notify.Payload, cause error) error {
	text := fmt.Sprintf("⚠️ Could not log <b>%s</b>. Tap «%s» again in a moment.", escape(p.Name), btnTaken)
	if service.IsOffline(cause) {
		b.available.Store(false)
		text = fmt.Sprintf("📴 Could not log <b>%s</b>: storage unavailable. Send /retry, then tap «%s» again.", escape(p.Name), btnTaken)
	}
	msg := tgbotapi.NewMessage(p.ChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}
