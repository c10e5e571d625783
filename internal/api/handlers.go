package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"meal-plan-service/internal/auth"
	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/mealplan"
)

// PlanChangeResponse acknowledges an update or delete.
type PlanChangeResponse struct {
	MealPlanID   string `json:"meal_plan_id"`
	MealPlanName string `json:"meal_plan_name"`
	Message      string `json:"message"`
}

// PlanListResponse wraps a list of plans.
type PlanListResponse struct {
	MealPlans []*mealplan.MealPlan `json:"meal_plans"`
}

func (h *Handler) generatePlan(w http.ResponseWriter, r *http.Request) {
	var req mealplan.GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	plan, err := h.svc.GeneratePlan(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/meal-plans/"+plan.ID)
	writeJSON(w, http.StatusCreated, plan)
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	plans, err := h.svc.ListPlans(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if plans == nil {
		plans = []*mealplan.MealPlan{}
	}
	writeJSON(w, http.StatusOK, PlanListResponse{MealPlans: plans})
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) updatePlan(w http.ResponseWriter, r *http.Request) {
	var req mealplan.UpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	plan, err := h.svc.UpdatePlan(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PlanChangeResponse{
		MealPlanID:   plan.ID,
		MealPlanName: plan.Name,
		Message:      "Meal plan updated successfully",
	})
}

func (h *Handler) deletePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.DeletePlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	event := logging.Ctx(r.Context()).Info().Str("plan_id", plan.ID)
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		event = event.Str("subject", claims.Subject)
	}
	event.Msg("Meal plan deleted")
	writeJSON(w, http.StatusOK, PlanChangeResponse{
		MealPlanID:   plan.ID,
		MealPlanName: plan.Name,
		Message:      "Meal plan deleted successfully",
	})
}

func (h *Handler) importMeal(w http.ResponseWriter, r *http.Request) {
	var req mealplan.ImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	plan, err := h.svc.ImportMeal(r.Context(), chi.URLParam(r, "id"), req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// dumpPlans returns every stored plan keyed by id.
func (h *Handler) dumpPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.DumpPlans(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	byID := make(map[string]*mealplan.MealPlan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}
	writeJSON(w, http.StatusOK, byID)
}

func (h *Handler) usageReport(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days")
	if !ok {
		return
	}
	report, err := h.svc.UsageReport(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) healthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) healthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.svc.Ready(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"detail": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// queryInt parses an optional integer query parameter. It writes a 400 and
// returns false when the value is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeDetail(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return 0, false
	}
	return n, true
}
