package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"med-reminder/internal/service"
)

// watch is one live caregiver dashboard pinned to a chat message.
type watch struct {
	cancel    context.CancelFunc
	dash      *service.Dashboard
	unsub     func()
	chatID    int64
	messageID int

	mu       sync.Mutex
	lastText string
	names    map[uuid.UUID]string
}

func (b *Bot) getWatch(chatID int64) *watch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watches[chatID]
}

func (b *Bot) handleWatch(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not open the dashboard", err)
	}
	b.stopWatch(msg.Chat.ID)

	sent, err := b.sendWithReplyMarkup(msg.Chat.ID, "👀 Loading…", nil)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &watch{
		cancel:    cancel,
		dash:      service.NewDashboard(user.ID, b.svc.CareLinks, b.svc.Adherence, b.svc.Users, b.svc.Retrier),
		chatID:    msg.Chat.ID,
		messageID: sent.MessageID,
		names:     make(map[uuid.UUID]string),
	}
	w.unsub = w.dash.Subscribe(func(st service.DashboardState) {
		b.renderWatch(watchCtx, w, st)
	})

	b.mu.Lock()
	b.watches[msg.Chat.ID] = w
	b.mu.Unlock()

	listener := service.NewRealtimeListener(b.svc.Feed, w.dash)
	if err := listener.Start(watchCtx); err != nil {
		b.stopWatch(msg.Chat.ID)
		return b.reportError(msg.Chat.ID, "Could not start live updates", err)
	}
	if err := w.dash.LoadCareLinks(watchCtx); err != nil {
		log.Printf("[warn] dashboard for %s: %v", user.ID, err)
	}
	go w.dash.KeepFresh(watchCtx)
	log.Printf("[info] caregiver %s watching in chat %d", user.ID, msg.Chat.ID)
	return nil
}

func (b *Bot) handleUnwatch(msg *tgbotapi.Message) error {
	if b.getWatch(msg.Chat.ID) == nil {
		return b.sendText(msg.Chat.ID, "You are not watching anyone right now.")
	}
	b.stopWatch(msg.Chat.ID)
	return b.sendText(msg.Chat.ID, "👋 Live updates stopped.")
}

func (b *Bot) stopWatch(chatID int64) {
	b.mu.Lock()
	w := b.watches[chatID]
	delete(b.watches, chatID)
	b.mu.Unlock()
	if w != nil {
		w.unsub()
		w.cancel()
	}
}

func (b *Bot) stopAllWatches() {
	b.mu.Lock()
	all := b.watches
	b.watches = make(map[int64]*watch)
	b.mu.Unlock()
	for _, w := range all {
		w.unsub()
		w.cancel()
	}
}

// renderWatch edits the pinned message to show st. Identical renders are
// skipped since Telegram rejects edits that change nothing.
func (b *Bot) renderWatch(ctx context.Context, w *watch, st service.DashboardState) {
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	order := make([]uuid.UUID, 0, len(st.Links))
	for _, l := range st.Links {
		if l.UserID == nil {
			continue
		}
		id := *l.UserID
		if _, ok := w.names[id]; !ok {
			w.names[id] = b.displayName(ctx, id)
		}
		order = append(order, id)
	}

	text := b.watchText(w, st)
	if text == w.lastText {
		return
	}

	edit := tgbotapi.NewEditMessageText(w.chatID, w.messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = recipientsKeyboard(w.names, order, st.Selected)
	if _, err := b.api.Send(edit); err != nil {
		log.Printf("[warn] dashboard render in chat %d: %v", w.chatID, err)
		return
	}
	w.lastText = text
}

func (b *Bot) watchText(w *watch, st service.DashboardState) string {
	var builder strings.Builder
	switch {
	case st.Offline:
		builder.WriteString(offlineBannerText + "\n\n")
	case st.Err != nil:
		builder.WriteString(fmt.Sprintf("⚠️ %s\n\n", escape(st.Err.Error())))
	}

	if len(st.Links) == 0 {
		builder.WriteString("Nobody to follow yet. Ask them to send /redeem with your /invite code.")
		return builder.String()
	}
	if st.Selected == uuid.Nil {
		builder.WriteString("Pick someone to follow.")
		return builder.String()
	}

	now := st.LoadedAt
	if now.IsZero() {
		now = time.Now()
	}
	if len(st.Doses) > 0 {
		now = now.In(st.Doses[0].At.Location())
	}
	builder.WriteString(service.FormatDay(w.names[st.Selected], st.Doses, now))
	if !st.LoadedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("\n\n<i>updated %s</i>", st.LoadedAt.In(now.Location()).Format("15:04:05")))
	}
	return builder.String()
}
