package bot

import (
	"context"
	"fmt"
	"html"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"med-reminder/internal/config"
	"med-reminder/internal/model"
	"med-reminder/internal/notify"
	"med-reminder/internal/realtime"
	"med-reminder/internal/repository"
	"med-reminder/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageName
	stageDosage
	stageTimes
	stageEditTimes
)

const (
	cbTakenPrefix   = "tk:"
	cbLaterPrefix   = "rl:"
	cbEditPrefix    = "ed:"
	cbRemovePrefix  = "rm:"
	cbRevokePrefix  = "rv:"
	cbSelectPrefix  = "sel:"
	callbackMaxSize = 64
)

const (
	btnSkip           = "⏭️ Skip"
	btnCancelDialog   = "⏪ Cancel"
	btnTaken          = "✅ Taken"
	btnLater          = "⏰ Later"
	menuLabelAdd      = "➕ Add medication"
	menuLabelMeds     = "💊 Medications"
	menuLabelToday    = "📋 Today"
	menuLabelHelp     = "ℹ️ Help"
	storageDownText   = "🚫 <b>Storage unavailable.</b>\nI can't reach the database right now, so nothing can be saved. Send /retry to check again."
	offlineBannerText = "📴 <i>Offline: showing the last data I could load.</i>"
)

type conversationState struct {
	stage        conversationStage
	input        service.MedicationInput
	medicationID string
}

// Services is what the bot needs from the rest of the app.
type Services struct {
	Users       *repository.UserRepository
	Medications *service.MedicationService
	Adherence   *service.AdherenceService
	CareLinks   *service.CareLinkService
	Reminders   *service.ReminderService
	Actions     *service.ActionHandler
	Retrier     *service.Retrier
	Feed        realtime.Feed
	Center      *notify.Store
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api    *tgbotapi.BotAPI
	svc    Services
	config *config.Config

	available atomic.Bool

	conversations map[int64]*conversationState
	watches       map[int64]*watch
	mu            sync.Mutex
}

func New(token string, svc Services, cfg *config.Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	b := &Bot{
		api:           api,
		svc:           svc,
		config:        cfg,
		conversations: make(map[int64]*conversationState),
		watches:       make(map[int64]*watch),
	}
	b.available.Store(true)
	return b, nil
}

// UseActions sets the handler for reminder buttons. The handler reports back
// through the bot, so it is built after the bot.
func (b *Bot) UseActions(h *service.ActionHandler) {
	b.svc.Actions = h
}

// CheckStore probes the remote store once and opens or closes the gate.
func (b *Bot) CheckStore(ctx context.Context) error {
	err := b.svc.Retrier.Ping(ctx)
	b.available.Store(err == nil)
	if err != nil {
		log.Printf("[error] storage check failed: %v", err)
	}
	return err
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
		b.stopAllWatches()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("[error] handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("[error] handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return service.PerformWithRetry(ctx, b.svc.Retrier, "upsert user", func(ctx context.Context) (*model.User, error) {
		return b.svc.Users.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
	})
}

// reportError tells the user what went wrong. Losing the store closes the gate.
func (b *Bot) reportError(chatID int64, what string, err error) error {
	log.Printf("[warn] %s for chat %d: %v", what, chatID, err)
	if service.IsOffline(err) {
		b.available.Store(false)
		return b.sendTextWithRemove(chatID, storageDownText)
	}
	return b.sendText(chatID, fmt.Sprintf("%s: %s", what, escape(err.Error())))
}

func (b *Bot) location(user *model.User) *time.Location {
	return user.Location(b.config.Location())
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	return b.api.Send(msg)
}

func (b *Bot) ackCallback(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		log.Printf("[warn] callback ack: %v", err)
	}
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func escape(s string) string {
	return html.EscapeString(s)
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

// parseTimes splits "08:00, 20:00" or "8:00 20:00" into labels.
func parseTimes(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
