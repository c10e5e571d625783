package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meal-plan-service/internal/llm"
	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/mealplan"
	"meal-plan-service/internal/metrics"
	"meal-plan-service/internal/planner"
	"meal-plan-service/internal/shared"
	"meal-plan-service/internal/storage"
)

const (
	// maxIDAttempts bounds retries when a generated id is already taken.
	maxIDAttempts = 5

	DefaultListLimit = 20
	MaxListLimit     = 100
)

var (
	// ErrIDExhausted is returned when no free id was found for a new plan.
	ErrIDExhausted = errors.New("could not allocate a unique meal plan id")
	// ErrImportDisabled is returned by ImportMeal when no clipper is configured.
	ErrImportDisabled = errors.New("recipe import is not configured")
	// ErrImportFailed wraps errors from fetching or extracting a recipe.
	ErrImportFailed = errors.New("failed to import recipe")
)

// PlanGenerator produces plan content from meal tags.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, tags []string, mealCount int) (*mealplan.Content, []shared.AgentMeta, error)
}

// RecipeClipper turns a recipe web page into a Recipe.
type RecipeClipper interface {
	ClipRecipe(ctx context.Context, url string) (*mealplan.Recipe, shared.AgentMeta, error)
}

// UsageStore persists per-call token usage.
type UsageStore interface {
	RecordMeta(ctx context.Context, meta shared.AgentMeta) error
	GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
}

// Options tune the Service.
type Options struct {
	DefaultMealCount int
	// DataPath is the local data directory reported in usage reports.
	DataPath string
}

// Service implements the meal plan use cases shared by the HTTP API,
// the Telegram bot and the CLI.
type Service struct {
	planner PlanGenerator
	clipper RecipeClipper
	store   storage.Store
	usage   UsageStore
	opts    Options

	now   func() time.Time
	newID func() string
}

// NewService wires the Service. clipper and usage may be nil.
func NewService(planner PlanGenerator, clipper RecipeClipper, store storage.Store, usage UsageStore, opts Options) *Service {
	if opts.DefaultMealCount <= 0 {
		opts.DefaultMealCount = 7
	}
	return &Service{
		planner: planner,
		clipper: clipper,
		store:   store,
		usage:   usage,
		opts:    opts,
		now:     time.Now,
		newID:   mealplan.NewID,
	}
}

// GeneratePlan asks the model for a plan and stores it under a fresh id.
func (s *Service) GeneratePlan(ctx context.Context, req mealplan.GenerateRequest) (*mealplan.MealPlan, error) {
	req.MealTags = cleanTags(req.MealTags)
	if err := mealplan.Validate(req); err != nil {
		return nil, err
	}
	count := req.MealCount
	if count == 0 {
		count = s.opts.DefaultMealCount
	}

	log := logging.Ctx(ctx)
	log.Info().Strs("meal_tags", req.MealTags).Int("meal_count", count).Msg("Generating meal plan")

	content, metas, err := s.planner.GeneratePlan(ctx, req.MealTags, count)
	s.recordUsage(ctx, metas...)
	if err != nil {
		metrics.MealPlanGenerationFailures.WithLabelValues(failureReason(err)).Inc()
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	now := s.now()
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		plan := mealplan.New(s.newID(), req.MealTags, *content, now)
		err := s.store.Create(ctx, plan)
		if errors.Is(err, storage.ErrAlreadyExists) {
			log.Warn().Str("meal_plan_id", plan.ID).Int("attempt", attempt).Msg("Meal plan id collision, retrying")
			continue
		}
		if err != nil {
			metrics.MealPlanGenerationFailures.WithLabelValues("storage").Inc()
			return nil, fmt.Errorf("failed to save meal plan: %w", err)
		}

		metrics.MealPlansGenerated.Inc()
		log.Info().Str("meal_plan_id", plan.ID).Int("meals", len(plan.Meals)).Msg("Meal plan stored")
		return plan, nil
	}

	metrics.MealPlanGenerationFailures.WithLabelValues("storage").Inc()
	return nil, ErrIDExhausted
}

// GetPlan returns the plan with the given id.
func (s *Service) GetPlan(ctx context.Context, id string) (*mealplan.MealPlan, error) {
	return s.store.Get(ctx, NormalizeID(id))
}

// UpdatePlan applies the present fields of u. The store validates the merged
// plan in the same transaction as the write.
func (s *Service) UpdatePlan(ctx context.Context, id string, u mealplan.UpdateRequest) (*mealplan.MealPlan, error) {
	id = NormalizeID(id)
	if err := mealplan.Validate(u); err != nil {
		return nil, err
	}
	if u.ID != nil && NormalizeID(*u.ID) != id {
		return nil, &mealplan.ValidationError{Fields: map[string]string{"id": "must match the id in the path"}}
	}
	if u.Empty() {
		return nil, &mealplan.ValidationError{Fields: map[string]string{"body": "must set at least one of name, description, meals"}}
	}

	updated, err := s.store.Update(ctx, id, u, s.now())
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("meal_plan_id", id).Msg("Meal plan updated")
	return updated, nil
}

// DeletePlan removes a plan and returns it.
func (s *Service) DeletePlan(ctx context.Context, id string) (*mealplan.MealPlan, error) {
	plan, err := s.store.Delete(ctx, NormalizeID(id))
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("meal_plan_id", plan.ID).Msg("Meal plan deleted")
	return plan, nil
}

// ListPlans returns the newest plans. limit is clamped to 1..MaxListLimit;
// zero means DefaultListLimit.
func (s *Service) ListPlans(ctx context.Context, limit int) ([]*mealplan.MealPlan, error) {
	switch {
	case limit == 0:
		limit = DefaultListLimit
	case limit < 1:
		limit = 1
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.store.List(ctx, limit)
}

// DumpPlans returns every stored plan.
func (s *Service) DumpPlans(ctx context.Context) ([]*mealplan.MealPlan, error) {
	return s.store.List(ctx, 0)
}

// ImportMeal clips the recipe at url and appends it to the plan. The plan is
// looked up first so a missing plan costs no model call.
func (s *Service) ImportMeal(ctx context.Context, planID, url string) (*mealplan.MealPlan, error) {
	if s.clipper == nil {
		return nil, ErrImportDisabled
	}
	if err := mealplan.Validate(mealplan.ImportRequest{URL: url}); err != nil {
		return nil, err
	}

	planID = NormalizeID(planID)
	if _, err := s.store.Get(ctx, planID); err != nil {
		return nil, err
	}

	rec, meta, err := s.clipper.ClipRecipe(ctx, url)
	s.recordUsage(ctx, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}

	updated, err := s.store.AppendMeal(ctx, planID, mealplan.Meal{Recipe: *rec}, s.now())
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("meal_plan_id", planID).Str("recipe", rec.Name).Msg("Recipe imported into meal plan")
	return updated, nil
}

// UsageReport summarizes token usage and process health.
type UsageReport struct {
	Days   int                  `json:"days"`
	Daily  []metrics.DailyUsage `json:"daily"`
	System metrics.SysHealth    `json:"system"`
}

// UsageReport returns token usage for the last days days.
func (s *Service) UsageReport(ctx context.Context, days int) (*UsageReport, error) {
	if days < 1 {
		days = 7
	}
	report := &UsageReport{
		Days:   days,
		Daily:  []metrics.DailyUsage{},
		System: metrics.GetSysHealth(s.opts.DataPath),
	}
	if s.usage == nil {
		return report, nil
	}
	daily, err := s.usage.GetDailyUsage(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	if daily != nil {
		report.Daily = daily
	}
	return report, nil
}

// Ready reports whether storage is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) recordUsage(ctx context.Context, metas ...shared.AgentMeta) {
	if s.usage == nil {
		return
	}
	for _, meta := range metas {
		if err := s.usage.RecordMeta(ctx, meta); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("agent", meta.AgentName).Msg("Failed to record usage metrics")
		}
	}
}

// NormalizeID upper-cases ids so lookups are case-insensitive.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// cleanTags trims tags and drops blank ones.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, planner.ErrInvalidPlan):
		return "invalid_output"
	case errors.Is(err, llm.ErrUnavailable):
		return "unavailable"
	default:
		return "llm"
	}
}
