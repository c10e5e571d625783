package telegram

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/goccy/go-json"

	"meal-plan-service/internal/app"
	"meal-plan-service/internal/llm"
	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/mealplan"
	"meal-plan-service/internal/storage"
)

// DefaultTimeout bounds the background work done for one message.
const DefaultTimeout = 2 * time.Minute

const helpText = `🥗 *Meal Plan Bot*

Send a comma separated list of meal tags to get a plan, for example:
vegetarian, quick, high-protein

Commands:
/plan tag1, tag2 - generate a meal plan
/show ID - show a stored plan
/delete ID - delete a plan
/import ID URL - add the recipe at URL to a plan
/usage - token usage report (admin)`

// Sender is the part of tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// PlanService is the behavior the bot needs from app.Service.
type PlanService interface {
	GeneratePlan(ctx context.Context, req mealplan.GenerateRequest) (*mealplan.MealPlan, error)
	GetPlan(ctx context.Context, id string) (*mealplan.MealPlan, error)
	DeletePlan(ctx context.Context, id string) (*mealplan.MealPlan, error)
	ImportMeal(ctx context.Context, planID, url string) (*mealplan.MealPlan, error)
	UsageReport(ctx context.Context, days int) (*app.UsageReport, error)
}

// SecretHeader carries the secret_token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Options configures access control for the bot.
type Options struct {
	AllowedUserIDs []int64
	AdminID        int64
	Timeout        time.Duration
	// SecretToken must match the SecretHeader of every update. Updates are
	// refused when it is empty.
	SecretToken string
}

// Bot answers Telegram updates delivered to its webhook.
type Bot struct {
	api     Sender
	svc     PlanService
	allowed map[int64]struct{}
	adminID int64
	timeout time.Duration
	secret  []byte
	wg      sync.WaitGroup
}

// Connect authorizes the bot token and points the Telegram webhook at
// webhookURL, registering secret so Telegram signs each delivery with it.
func Connect(token, webhookURL, secret string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	logging.Info().Str("account", api.Self.UserName).Msg("Authorized on Telegram")

	if webhookURL == "" {
		return api, nil
	}
	// WebhookConfig has no secret_token field in this client version.
	params := tgbotapi.Params{"url": webhookURL}
	params.AddNonEmpty("secret_token", secret)
	resp, err := api.MakeRequest("setWebhook", params)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", webhookURL, err)
	}
	logging.Info().Str("description", resp.Description).Msg("Telegram webhook set")
	return api, nil
}

// NewBot creates a Bot. Only users in opts.AllowedUserIDs are served.
func NewBot(api Sender, svc PlanService, opts Options) *Bot {
	allowed := make(map[int64]struct{}, len(opts.AllowedUserIDs))
	for _, id := range opts.AllowedUserIDs {
		allowed[id] = struct{}{}
	}
	if opts.AdminID != 0 {
		allowed[opts.AdminID] = struct{}{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Bot{
		api:     api,
		svc:     svc,
		allowed: allowed,
		adminID: opts.AdminID,
		timeout: opts.Timeout,
		secret:  []byte(opts.SecretToken),
	}
}

// ServeHTTP receives a webhook update. It answers immediately and handles
// the message in the background so Telegram does not redeliver it.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !b.signed(r) {
		logging.Ctx(r.Context()).Warn().Msg("Rejected webhook update without a valid secret token")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Error parsing update")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if _, ok := b.allowed[msg.From.ID]; !ok {
		logging.Warn().Int64("user_id", msg.From.ID).Str("username", msg.From.UserName).Msg("Unauthorized Telegram access attempt")
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processMessage(msg)
	}()
}

func (b *Bot) signed(r *http.Request) bool {
	if len(b.secret) == 0 {
		return false
	}
	got := []byte(r.Header.Get(SecretHeader))
	return subtle.ConstantTimeCompare(got, b.secret) == 1
}

// Wait blocks until in-flight messages are handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	ctx = logging.ContextWithNewCorrelationID(ctx)

	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "":
		b.handlePlan(ctx, msg.Chat.ID, msg.Text)
	case "plan":
		b.handlePlan(ctx, msg.Chat.ID, args)
	case "show":
		b.handleShow(ctx, msg.Chat.ID, args)
	case "delete":
		b.handleDelete(ctx, msg.Chat.ID, args)
	case "import":
		b.handleImport(ctx, msg.Chat.ID, args)
	case "usage":
		if msg.From.ID != b.adminID {
			b.reply(msg.Chat.ID, "⛔ *Access Denied*: Admin only.")
			return
		}
		b.handleUsage(ctx, msg.Chat.ID)
	default:
		b.reply(msg.Chat.ID, helpText)
	}
}

func (b *Bot) handlePlan(ctx context.Context, chatID int64, text string) {
	tags := parseTags(text)
	if len(tags) == 0 {
		b.reply(chatID, "Send some meal tags, for example: `/plan vegan, quick`")
		return
	}

	sent, err := b.api.Send(markdown(tgbotapi.NewMessage(chatID, "🧑‍🍳 *Thinking...*\n(Generating your meal plan)")))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to send initial reply")
		return
	}

	logging.Ctx(ctx).Info().Strs("meal_tags", tags).Msg("Generating plan from Telegram")
	var msgs []string
	plan, err := b.svc.GeneratePlan(ctx, mealplan.GenerateRequest{MealTags: tags})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Error generating plan")
		msgs = []string{"❌ *Error generating plan:* " + describeError(err)}
	} else {
		msgs = formatPlanMessages(plan)
	}

	// The placeholder becomes the first part, the rest follow as new messages.
	edit := tgbotapi.NewEditMessageText(chatID, sent.MessageID, msgs[0])
	edit.ParseMode = tgbotapi.ModeMarkdown
	b.send(edit)
	for _, m := range msgs[1:] {
		b.reply(chatID, m)
	}
}

func (b *Bot) handleShow(ctx context.Context, chatID int64, id string) {
	if !mealplan.ValidID(app.NormalizeID(id)) {
		b.reply(chatID, "Usage: `/show ID` (7 letters or digits)")
		return
	}
	plan, err := b.svc.GetPlan(ctx, id)
	if err != nil {
		b.reply(chatID, "❌ "+describeError(err))
		return
	}
	for _, m := range formatPlanMessages(plan) {
		b.reply(chatID, m)
	}
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64, id string) {
	if !mealplan.ValidID(app.NormalizeID(id)) {
		b.reply(chatID, "Usage: `/delete ID` (7 letters or digits)")
		return
	}
	plan, err := b.svc.DeletePlan(ctx, id)
	if err != nil {
		b.reply(chatID, "❌ "+describeError(err))
		return
	}
	b.reply(chatID, fmt.Sprintf("🗑 Deleted *%s* (`%s`)", entityText(plan.Name), plan.ID))
}

func (b *Bot) handleImport(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 || !mealplan.ValidID(app.NormalizeID(fields[0])) {
		b.reply(chatID, "Usage: `/import ID URL`")
		return
	}

	sent, err := b.api.Send(markdown(tgbotapi.NewMessage(chatID, "✂️ *Clipping recipe...*")))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to send initial reply")
		return
	}

	var text string
	plan, err := b.svc.ImportMeal(ctx, fields[0], fields[1])
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Error importing recipe")
		text = "❌ *Error importing recipe:* " + describeError(err)
	} else {
		added := plan.Meals[len(plan.Meals)-1].Recipe.Name
		text = fmt.Sprintf("✅ Added *%s* to *%s*", entityText(added), entityText(plan.Name))
	}

	edit := tgbotapi.NewEditMessageText(chatID, sent.MessageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	b.send(edit)
}

func (b *Bot) handleUsage(ctx context.Context, chatID int64) {
	report, err := b.svc.UsageReport(ctx, 7)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Error fetching usage")
		b.reply(chatID, "❌ Error fetching metrics.")
		return
	}
	b.reply(chatID, formatUsageMarkdown(report))
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(markdown(tgbotapi.NewMessage(chatID, text)))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		logging.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func markdown(m tgbotapi.MessageConfig) tgbotapi.MessageConfig {
	m.ParseMode = tgbotapi.ModeMarkdown
	return m
}

// parseTags splits a comma separated list, ignoring blanks.
func parseTags(text string) []string {
	var tags []string
	for _, t := range strings.Split(text, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// describeError turns service errors into short user-facing text.
func describeError(err error) string {
	var verr *mealplan.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "Meal plan not found"
	case errors.As(err, &verr):
		return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, verr.Error())
	case errors.Is(err, llm.ErrUnavailable):
		return "the meal planner is busy, try again in a minute"
	case errors.Is(err, app.ErrImportDisabled):
		return "recipe import is not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "this took too long, please try again"
	default:
		return "something went wrong, please try again"
	}
}
