package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meal-plan-service/internal/app"
	"meal-plan-service/internal/mealplan"
)

// maxMessageLen stays under Telegram's 4096 character limit.
const maxMessageLen = 4000

var entityReplacer = strings.NewReplacer("*", "", "_", " ", "`", "'", "[", "(")

// entityText makes s safe inside a bold or italic entity, where legacy
// Markdown does not allow escapes.
func entityText(s string) string {
	return entityReplacer.Replace(s)
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// formatPlanMessages renders a plan with all its steps, packed into as many
// messages as needed to stay under maxMessageLen. A meal never straddles two
// messages unless it is too long for one on its own.
func formatPlanMessages(plan *mealplan.MealPlan) []string {
	blocks := []string{planHeader(plan)}
	for i, meal := range plan.Meals {
		blocks = append(blocks, mealBlock(i+1, meal.Recipe))
	}

	const sep = "\n\n"
	var msgs []string
	var cur strings.Builder
	for _, block := range blocks {
		block = truncateLines(block, maxMessageLen)
		if cur.Len() > 0 && cur.Len()+len(sep)+len(block) > maxMessageLen {
			msgs = append(msgs, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(block)
	}
	if cur.Len() > 0 {
		msgs = append(msgs, cur.String())
	}
	return msgs
}

func planHeader(plan *mealplan.MealPlan) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📅 *%s*\n", entityText(plan.Name)))
	sb.WriteString(fmt.Sprintf("🆔 `%s`\n", plan.ID))
	if plan.Description != "" {
		sb.WriteString(escape(plan.Description) + "\n")
	}
	if len(plan.MealTags) > 0 {
		sb.WriteString("🏷 " + escape(strings.Join(plan.MealTags, ", ")) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func mealBlock(n int, r mealplan.Recipe) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*%d. %s*", n, entityText(r.Name)))
	if ni := r.NutritionalInfo; ni != nil {
		sb.WriteString(fmt.Sprintf(" (%.0f kcal, %.0fg protein, %.0fg fiber)", ni.Calories, ni.Protein, ni.Fiber))
	}
	sb.WriteString("\n")
	if r.Description != "" {
		sb.WriteString(escape(r.Description) + "\n")
	}
	for j, step := range r.Steps {
		sb.WriteString(fmt.Sprintf("  %d) %s\n", j+1, escape(step)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

const ellipsis = "…"

// truncateLines shortens block to at most limit bytes, cutting at a line
// break when one fits so Markdown entities stay balanced.
func truncateLines(block string, limit int) string {
	if len(block) <= limit {
		return block
	}
	budget := limit - len(ellipsis) - 1
	cut := block[:budget]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		return cut[:i] + "\n" + ellipsis
	}
	// A single line longer than a message. Drop a dangling escape too.
	cut = strings.TrimRight(strings.ToValidUTF8(cut, ""), "\\")
	return cut + ellipsis
}

func formatUsageMarkdown(report *app.UsageReport) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(report.Daily) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range report.Daily {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d execs)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution))
	}

	health := report.System
	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Disk Data: %s\n", health.DataDiskSize))

	return sb.String()
}
