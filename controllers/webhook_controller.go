package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gent/services"
)

const (
	broadcastPrefix = "/broadcast"
	notifyTimeout   = 10 * time.Second
)

// Notifier delivers broadcast messages.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// activity is the part of an inbound Teams activity the bot reads.
type activity struct {
	Text string `json:"text"`
	From struct {
		ID string `json:"id"`
	} `json:"from"`
	ChannelData struct {
		Tenant struct {
			ID string `json:"id"`
		} `json:"tenant"`
	} `json:"channelData"`
}

func (a *activity) userKey() string {
	switch {
	case a.From.ID != "":
		return a.From.ID
	case a.ChannelData.Tenant.ID != "":
		return a.ChannelData.Tenant.ID
	default:
		return "default"
	}
}

type WebhookController struct {
	chat     *services.ChatService
	state    *services.StateStore
	cleaner  *services.TextCleaner
	notifier Notifier
	log      zerolog.Logger
}

func NewWebhookController(chat *services.ChatService, state *services.StateStore, cleaner *services.TextCleaner, notifier Notifier, log zerolog.Logger) *WebhookController {
	return &WebhookController{
		chat:     chat,
		state:    state,
		cleaner:  cleaner,
		notifier: notifier,
		log:      log.With().Str("component", "webhook").Logger(),
	}
}

// HandleWebhook answers one Teams message. User-facing failures are replied
// with 200 and an error text.
func (w *WebhookController) HandleWebhook(c *gin.Context) {
	var req activity
	if err := c.ShouldBindJSON(&req); err != nil {
		w.log.Error().Err(err).Msg("invalid webhook body")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	w.state.DailyResetIfNeeded()
	user := req.userKey()
	text := w.cleaner.Clean(req.Text)
	lower := strings.ToLower(text)

	switch {
	case lower == "clear":
		w.state.Clear(user)
		c.JSON(http.StatusOK, textReply("🔄 Conversation cleared!"))
		return
	case lower == "model":
		c.JSON(http.StatusOK, textReply(w.modelList(user)))
		return
	case strings.HasPrefix(lower, "model "):
		c.JSON(http.StatusOK, textReply(w.switchModel(user, strings.TrimPrefix(lower, "model "))))
		return
	case text == "":
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	broadcast := len(text) >= len(broadcastPrefix) && strings.EqualFold(text[:len(broadcastPrefix)], broadcastPrefix)
	question := text
	if broadcast {
		question = strings.TrimSpace(text[len(broadcastPrefix):])
		if question == "" {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
	}

	ans, err := w.chat.Ask(c.Request.Context(), user, question)
	if err != nil {
		msg := errorMessage(err)
		w.log.Error().Err(err).Str("user", user).Bool("broadcast", broadcast).Msg("handler error")
		if broadcast {
			w.notify(c.Request.Context(), "⚠️ Broadcast failed: "+msg)
		}
		c.JSON(http.StatusOK, textReply(msg))
		return
	}

	if broadcast {
		if err := w.send(c.Request.Context(), broadcastText(ans)); err != nil {
			w.log.Error().Err(err).Str("user", user).Msg("broadcast delivery failed")
			c.JSON(http.StatusOK, textReply("❌ **Gent Error:** broadcast could not be delivered"))
			return
		}
		c.JSON(http.StatusOK, textReply("📢 Broadcast sent!"))
		return
	}
	c.JSON(http.StatusOK, renderAnswer(ans))
}

func (w *WebhookController) modelList(user string) string {
	current := w.state.PreferredModel(user)
	var b strings.Builder
	b.WriteString("🤖 **Available Models:**\n")
	for i, u := range w.state.UsageSnapshot() {
		if i > 0 {
			b.WriteString("\n")
		}
		mark := "•"
		if u.Key == current {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s: %s (%d/%d)", mark, u.Key, u.DisplayName, u.Count, u.DailyLimit)
	}
	return b.String()
}

func (w *WebhookController) switchModel(user, key string) string {
	if u, ok := w.state.Usage(key); ok {
		w.state.SetPreferredModel(user, key)
		return "🤖 Switched to " + u.DisplayName
	}
	lines := make([]string, 0)
	for _, u := range w.state.UsageSnapshot() {
		lines = append(lines, fmt.Sprintf("• %s: %s", u.Key, u.DisplayName))
	}
	return "❌ Invalid model. Available:\n" + strings.Join(lines, "\n")
}

// notify is best effort and outlives the request.
func (w *WebhookController) notify(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := w.send(ctx, text); err != nil {
		w.log.Warn().Err(err).Msg("failed to notify broadcast channel")
	}
}

func (w *WebhookController) send(ctx context.Context, text string) error {
	if w.notifier == nil {
		return services.ErrNotifierDisabled
	}
	return w.notifier.Send(ctx, text)
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrModelTimeout):
		return "⏱️ Request timeout. Please try again."
	case errors.Is(err, services.ErrQuotaExhausted), services.IsQuotaError(err):
		return "⚠️ All models quota exceeded! Please try again tomorrow or type `model` to check status."
	default:
		return "❌ **Gent Error:** " + err.Error()
	}
}
