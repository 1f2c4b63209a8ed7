// Package bot implements the inbound webhook and its subscription state
// machine, per spec §4.7.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"digestbot/internal/domain"
	"digestbot/internal/httpsec"
	"digestbot/internal/i18n"
	"digestbot/internal/usecase/digest"
)

const maxTextBytes = 4096

// welcomeDeliverer renders and sends the most recent digest to one chat,
// asynchronously, the first time a subscriber activates.
type welcomeDeliverer interface {
	DeliverWelcome(ctx context.Context, chatID int64, language string)
}

// Handler is the HTTP entry point for the chat platform's webhook.
type Handler struct {
	store         domain.SubscriberRepo
	digests       domain.DigestRepo
	welcome       welcomeDeliverer
	sender        domain.Sender
	log           zerolog.Logger
	secret        string
	adminChatID   int64
	welcomeTimout time.Duration
}

// NewHandler builds the webhook Handler.
func NewHandler(store domain.SubscriberRepo, digests domain.DigestRepo, welcome welcomeDeliverer, sender domain.Sender, log zerolog.Logger, secret string, adminChatID int64) *Handler {
	return &Handler{
		store:         store,
		digests:       digests,
		welcome:       welcome,
		sender:        sender,
		log:           log,
		secret:        secret,
		adminChatID:   adminChatID,
		welcomeTimout: 25 * time.Second,
	}
}

// ServeHTTP implements http.Handler. It authenticates, validates, and
// dispatches one inbound update within the platform's 5s retry budget.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !httpsec.Equal(r.Header.Get("X-Telegram-Bot-Api-Secret-Token"), h.secret) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var upd tgbotapi.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if upd.UpdateID <= 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	if upd.Message == nil || upd.Message.Chat == nil || upd.Message.Chat.ID == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	if len(upd.Message.Text) > maxTextBytes {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Acknowledge before doing any work: state-machine writes are fast, but
	// reply() calls out to the chat API, whose own timeout (20s) can exceed
	// this endpoint's 5s response budget. Detach from the request context
	// since it dies the instant ServeHTTP returns.
	w.WriteHeader(http.StatusOK)
	chatID, text := upd.Message.Chat.ID, strings.TrimSpace(upd.Message.Text)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.welcomeTimout)
		defer cancel()
		h.handleMessage(ctx, chatID, text)
	}()
}

func (h *Handler) handleMessage(ctx context.Context, chatID int64, text string) {
	cmd, arg := parseCommand(text)
	switch cmd {
	case "/start":
		h.handleStart(ctx, chatID)
	case "/subscribe":
		h.handleSubscribe(ctx, chatID)
	case "/unsubscribe":
		h.handleUnsubscribe(ctx, chatID)
	case "/status":
		h.handleStatus(ctx, chatID)
	case "/language":
		h.handleLanguage(ctx, chatID, arg)
	default:
		// Unrecognized text is ignored per spec §4.7.
	}
}

func parseCommand(text string) (cmd, arg string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}
	cmd = strings.ToLower(fields[0])
	if idx := strings.Index(cmd, "@"); idx >= 0 {
		cmd = cmd[:idx]
	}
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}
	return cmd, arg
}

func (h *Handler) handleStart(ctx context.Context, chatID int64) {
	_, ok, err := h.store.GetSubscriber(ctx, chatID)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: lookup subscriber")
		return
	}
	if !ok {
		h.reply(ctx, chatID, welcomeText())
		return
	}
	h.reply(ctx, chatID, welcomeText())
}

func (h *Handler) handleSubscribe(ctx context.Context, chatID int64) {
	now := time.Now().UTC()
	existing, ok, err := h.store.GetSubscriber(ctx, chatID)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: lookup subscriber")
		return
	}

	if ok && existing.Active {
		h.reply(ctx, chatID, "You're already subscribed.")
		return
	}

	sub := domain.Subscriber{
		ChatID:            chatID,
		Language:          i18n.Get().Canonical().Code,
		Active:            true,
		SubscribedAt:      now,
		FirstSubscribedAt: now,
		ReceivedWelcome:   false,
	}
	if ok {
		sub.Language = existing.Language
		sub.FirstSubscribedAt = existing.FirstSubscribedAt
		sub.ReceivedWelcome = existing.ReceivedWelcome
	}

	saved, err := h.store.UpsertSubscriber(ctx, sub)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: upsert subscriber")
		return
	}

	h.reply(ctx, chatID, "Subscribed! You'll get the next digest at the scheduled time.")

	if !saved.ReceivedWelcome {
		if err := h.store.MarkWelcomed(ctx, chatID); err != nil {
			h.log.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: mark welcomed")
			return
		}
		if _, hasDigest, err := h.digests.Latest(ctx); err == nil && hasDigest {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), h.welcomeTimout)
				defer cancel()
				h.welcome.DeliverWelcome(ctx, chatID, saved.Language)
			}()
		}
	}
}

func (h *Handler) handleUnsubscribe(ctx context.Context, chatID int64) {
	existing, ok, err := h.store.GetSubscriber(ctx, chatID)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: lookup subscriber")
		return
	}
	if !ok || !existing.Active {
		h.reply(ctx, chatID, "You're not subscribed.")
		return
	}
	if err := h.store.SetActive(ctx, chatID, false, time.Now().UTC()); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: deactivate subscriber")
		return
	}
	h.reply(ctx, chatID, "Unsubscribed. Send /subscribe any time to opt back in.")
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64) {
	sub, ok, err := h.store.GetSubscriber(ctx, chatID)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: lookup subscriber")
		return
	}

	var b strings.Builder
	if !ok {
		b.WriteString("You're not subscribed yet. Send /subscribe to get started.")
	} else {
		state := "inactive"
		if sub.Active {
			state = "active"
		}
		fmt.Fprintf(&b, "Status: %s\nLanguage: %s\nFirst subscribed: %s",
			state, sub.Language, sub.FirstSubscribedAt.Format("2006-01-02"))
	}

	if chatID == h.adminChatID {
		active, inactive, _, err := h.store.Counts(ctx)
		if err == nil {
			fmt.Fprintf(&b, "\n\nTotal active subscribers: %d (inactive: %d)", active, inactive)
		}
	}

	h.reply(ctx, chatID, b.String())
}

func (h *Handler) handleLanguage(ctx context.Context, chatID int64, code string) {
	code = strings.TrimSpace(code)
	if code == "" || !i18n.Get().Supported(code) {
		h.reply(ctx, chatID, "Supported languages: "+strings.Join(i18n.Get().Codes(), ", "))
		return
	}

	_, ok, err := h.store.GetSubscriber(ctx, chatID)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: lookup subscriber")
		return
	}
	if !ok {
		h.reply(ctx, chatID, "You're not subscribed yet. Send /subscribe first, then /language "+code+" to set your preference.")
		return
	}

	if err := h.store.SetLanguage(ctx, chatID, code); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: set language")
		return
	}
	lang, _ := i18n.Get().Get(code)
	h.reply(ctx, chatID, fmt.Sprintf("Language set to %s.", lang.Name))
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.sender.Send(ctx, chatID, digest.Escape(text)); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("webhook: reply send failed")
	}
}

func welcomeText() string {
	return "Welcome! I deliver a scheduled news digest. Send /subscribe to start receiving it, " +
		"/unsubscribe to stop, /status to check your subscription, or /language <code> to change the delivery language."
}
