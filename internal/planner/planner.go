package planner

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"meal-plan-service/internal/llm"
	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/mealplan"
	"meal-plan-service/internal/shared"
)

//go:embed prompt.md
var mealPlanPrompt string

var promptTemplate = template.Must(template.New("mealplan").Parse(mealPlanPrompt))

// AgentName identifies planner calls in usage metrics.
const AgentName = "MealPlanner"

// TagsPrefix opens the system message that carries the meal tags.
const TagsPrefix = "The following are meal tags that will be used as part of generating the query: "

var (
	// ErrInvalidPlan is returned when the model never produced a usable plan.
	ErrInvalidPlan = errors.New("model returned an invalid meal plan")
	// ErrGeneration wraps errors returned by the model provider.
	ErrGeneration = errors.New("failed to generate meal plan from LLM")
)

type promptData struct {
	Tags          []string
	MealCount     int
	PreviousError string
}

// Planner handles the generation of meal plans.
type Planner struct {
	textGen     llm.TextGenerator
	maxAttempts int
}

// NewPlanner creates a new Planner. Output that cannot be parsed or fails
// validation is requested again, up to maxAttempts calls in total.
func NewPlanner(textGen llm.TextGenerator, maxAttempts int) *Planner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Planner{
		textGen:     textGen,
		maxAttempts: maxAttempts,
	}
}

// GeneratePlan asks the model for a plan of mealCount meals honoring tags.
// The returned metas describe every model call made, including failed ones.
func (p *Planner) GeneratePlan(ctx context.Context, tags []string, mealCount int) (*mealplan.Content, []shared.AgentMeta, error) {
	system := llm.System(TagsPrefix + strings.Join(tags, ","))

	var metas []shared.AgentMeta
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		data := promptData{Tags: tags, MealCount: mealCount}
		if lastErr != nil {
			data.PreviousError = lastErr.Error()
		}
		prompt, err := buildPrompt(data)
		if err != nil {
			return nil, metas, err
		}

		start := time.Now()
		resp, err := p.textGen.GenerateContent(ctx, system, llm.User(prompt))
		if err != nil {
			return nil, metas, fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		metas = append(metas, shared.AgentMeta{
			AgentName: AgentName,
			Usage:     resp.Usage,
			Latency:   time.Since(start),
			Attempt:   attempt,
		})

		content, err := parseContent(resp.Content)
		if err != nil {
			lastErr = err
			logging.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("Discarding unusable meal plan from model")
			continue
		}
		if len(content.Meals) != mealCount {
			logging.Ctx(ctx).Debug().Int("requested", mealCount).Int("received", len(content.Meals)).Msg("Model returned a different number of meals")
		}
		return content, metas, nil
	}

	return nil, metas, fmt.Errorf("%w after %d attempt(s): %v", ErrInvalidPlan, p.maxAttempts, lastErr)
}

func parseContent(raw string) (*mealplan.Content, error) {
	content := &mealplan.Content{}
	if err := llm.DecodeJSON(raw, content); err != nil {
		return nil, fmt.Errorf("failed to parse meal plan JSON: %w", err)
	}
	for i := range content.Meals {
		if content.Meals[i].Recipe.Tags == nil {
			content.Meals[i].Recipe.Tags = []string{}
		}
	}
	if err := mealplan.Validate(content); err != nil {
		return nil, err
	}
	return content, nil
}

func buildPrompt(data promptData) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render meal plan prompt: %w", err)
	}
	return buf.String(), nil
}
