package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meal-plan-service/internal/app"
	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/metrics"
	"meal-plan-service/internal/shared"
)

// BloatThreshold is the prompt size that triggers an admin alert.
const BloatThreshold = 4000

// UsageAlerter wraps a usage store and warns the admin chat about
// oversized prompts before recording them.
type UsageAlerter struct {
	next    app.UsageStore
	api     Sender
	adminID int64
}

func NewUsageAlerter(next app.UsageStore, api Sender, adminID int64) *UsageAlerter {
	return &UsageAlerter{next: next, api: api, adminID: adminID}
}

func (a *UsageAlerter) RecordMeta(ctx context.Context, meta shared.AgentMeta) error {
	if meta.Usage.PromptTokens > BloatThreshold && a.adminID != 0 {
		alert := fmt.Sprintf("⚠️ *Context Bloat Alert*\nAgent: %s\nModel: %s\nPrompt Tokens: %d",
			entityText(meta.AgentName), escape(meta.Usage.Model), meta.Usage.PromptTokens)
		msg := tgbotapi.NewMessage(a.adminID, alert)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.api.Send(msg); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to send admin alert")
		}
	}
	return a.next.RecordMeta(ctx, meta)
}

func (a *UsageAlerter) GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error) {
	return a.next.GetDailyUsage(ctx, days)
}
