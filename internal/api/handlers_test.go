package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/goccy/go-json"

	"meal-plan-service/internal/app"
	"meal-plan-service/internal/auth"
	"meal-plan-service/internal/llm"
	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/mealplan"
	"meal-plan-service/internal/planner"
	"meal-plan-service/internal/shared"
	"meal-plan-service/internal/storage"
	"meal-plan-service/internal/telegram"
)

// --- Mocks ---

type MockPlanner struct {
	Err error
}

func (m *MockPlanner) GeneratePlan(ctx context.Context, tags []string, mealCount int) (*mealplan.Content, []shared.AgentMeta, error) {
	if m.Err != nil {
		return nil, nil, m.Err
	}
	return &mealplan.Content{
		Name:        "Weeknight " + strings.Join(tags, " "),
		Description: "Generated for tests",
		Meals: []mealplan.Meal{
			{Recipe: mealplan.Recipe{Name: "Shakshuka", Steps: []string{"Simmer tomatoes", "Poach eggs"}, Tags: tags}},
		},
	}, nil, nil
}

type MockClipper struct{}

func (m *MockClipper) ClipRecipe(ctx context.Context, url string) (*mealplan.Recipe, shared.AgentMeta, error) {
	return &mealplan.Recipe{Name: "Clipped Soup", Steps: []string{"Boil"}, Tags: []string{}}, shared.AgentMeta{}, nil
}

type testServer struct {
	handler http.Handler
	store   *storage.MemoryStore
}

func newTestServer(t *testing.T, p app.PlanGenerator, opts Options) *testServer {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := app.NewService(p, &MockClipper{}, store, nil, app.Options{DefaultMealCount: 7, DataPath: t.TempDir()})
	if opts.CORSAllowedOrigins == nil {
		opts.CORSAllowedOrigins = []string{"*"}
	}
	return &testServer{handler: NewRouter(svc, opts), store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) seed(t *testing.T, id string, offset time.Duration) {
	t.Helper()
	plan := mealplan.New(id, []string{"vegan"}, mealplan.Content{
		Name:  "Seeded " + id,
		Meals: []mealplan.Meal{{Recipe: mealplan.Recipe{Name: "Salad", Steps: []string{"Chop"}, Tags: []string{}}}},
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset))
	if err := s.store.Create(context.Background(), plan); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return v
}

// --- Tests ---

func TestGeneratePlanEndpoint(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		s := newTestServer(t, &MockPlanner{}, Options{})
		rr := s.do(t, "POST", "/meal-plans/generate", `{"meal_tags": ["vegan", "quick"]}`)

		if rr.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		plan := decode[mealplan.MealPlan](t, rr)
		if !mealplan.ValidID(plan.ID) {
			t.Errorf("Expected a valid id, got '%s'", plan.ID)
		}
		if got := rr.Header().Get("Location"); got != "/meal-plans/"+plan.ID {
			t.Errorf("Unexpected Location header: %s", got)
		}
		if len(plan.MealTags) != 2 || plan.Name != "Weeknight vegan quick" {
			t.Errorf("Unexpected plan: %+v", plan)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("Expected an X-Request-ID header")
		}

		get := s.do(t, "GET", "/meal-plans/"+plan.ID, "")
		if get.Code != http.StatusOK {
			t.Errorf("Expected stored plan to be retrievable, got %d", get.Code)
		}
	})

	tests := []struct {
		name       string
		planner    *MockPlanner
		body       string
		wantStatus int
		wantDetail string
	}{
		{"MalformedJSON", &MockPlanner{}, `{"meal_tags": [`, http.StatusBadRequest, "Invalid JSON body"},
		{"EmptyBody", &MockPlanner{}, ``, http.StatusBadRequest, "Invalid JSON body"},
		{"MissingTags", &MockPlanner{}, `{}`, http.StatusUnprocessableEntity, "Validation failed"},
		{"InvalidOutput", &MockPlanner{Err: planner.ErrInvalidPlan}, `{"meal_tags": ["vegan"]}`, http.StatusBadGateway, "The model returned an invalid meal plan"},
		{"UpstreamError", &MockPlanner{Err: planner.ErrGeneration}, `{"meal_tags": ["vegan"]}`, http.StatusBadGateway, "Meal plan generation failed"},
		{"BreakerOpen", &MockPlanner{Err: llm.ErrUnavailable}, `{"meal_tags": ["vegan"]}`, http.StatusServiceUnavailable, "Meal plan generator temporarily unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.planner, Options{})
			rr := s.do(t, "POST", "/meal-plans/generate", tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if got := decode[ErrorResponse](t, rr); got.Detail != tt.wantDetail {
				t.Errorf("Expected detail '%s', got '%s'", tt.wantDetail, got.Detail)
			}
		})
	}

	t.Run("ValidationFields", func(t *testing.T) {
		s := newTestServer(t, &MockPlanner{}, Options{})
		rr := s.do(t, "POST", "/meal-plans/generate", `{"meal_tags": ["vegan"], "meal_count": 40}`)
		resp := decode[ErrorResponse](t, rr)
		if _, ok := resp.Errors["meal_count"]; !ok {
			t.Errorf("Expected an error for meal_count, got %v", resp.Errors)
		}
	})
}

func TestPlanCRUDEndpoints(t *testing.T) {
	s := newTestServer(t, &MockPlanner{}, Options{})
	s.seed(t, "ABC1234", 0)
	s.seed(t, "XYZ7890", time.Hour)

	t.Run("GetNotFound", func(t *testing.T) {
		rr := s.do(t, "GET", "/meal-plans/NOPE123", "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("Expected 404, got %d", rr.Code)
		}
		if got := decode[ErrorResponse](t, rr); got.Detail != "Meal plan not found" {
			t.Errorf("Unexpected detail: %s", got.Detail)
		}
	})

	t.Run("GetInvalidID", func(t *testing.T) {
		for _, id := range []string{"short", "TOOLONG99", "BAD-ID1"} {
			rr := s.do(t, "GET", "/meal-plans/"+id, "")
			if rr.Code != http.StatusBadRequest {
				t.Errorf("Expected 400 for id %q, got %d", id, rr.Code)
			}
		}
	})

	t.Run("GetLowercaseID", func(t *testing.T) {
		rr := s.do(t, "GET", "/meal-plans/abc1234", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		if plan := decode[mealplan.MealPlan](t, rr); plan.ID != "ABC1234" {
			t.Errorf("Expected plan ABC1234, got %s", plan.ID)
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := s.do(t, "GET", "/meal-plans?limit=1", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		resp := decode[PlanListResponse](t, rr)
		if len(resp.MealPlans) != 1 || resp.MealPlans[0].ID != "XYZ7890" {
			t.Errorf("Expected the newest plan only, got %+v", resp.MealPlans)
		}

		bad := s.do(t, "GET", "/meal-plans?limit=abc", "")
		if bad.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for a malformed limit, got %d", bad.Code)
		}
	})

	t.Run("Update", func(t *testing.T) {
		rr := s.do(t, "PUT", "/meal-plans/ABC1234", `{"name": "Renamed"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[PlanChangeResponse](t, rr)
		want := PlanChangeResponse{MealPlanID: "ABC1234", MealPlanName: "Renamed", Message: "Meal plan updated successfully"}
		if resp != want {
			t.Errorf("Expected %+v, got %+v", want, resp)
		}

		plan := decode[mealplan.MealPlan](t, s.do(t, "GET", "/meal-plans/ABC1234", ""))
		if plan.Name != "Renamed" || len(plan.Meals) != 1 {
			t.Errorf("Expected a partial update, got %+v", plan)
		}
	})

	t.Run("UpdateInvalid", func(t *testing.T) {
		rr := s.do(t, "PUT", "/meal-plans/ABC1234", `{"meals": []}`)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422, got %d: %s", rr.Code, rr.Body.String())
		}
		if empty := s.do(t, "PUT", "/meal-plans/ABC1234", `{}`); empty.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422 for an empty update, got %d", empty.Code)
		}
		mismatch := s.do(t, "PUT", "/meal-plans/ABC1234", `{"id": "XYZ7890", "name": "x"}`)
		if mismatch.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422 for id mismatch, got %d", mismatch.Code)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		rr := s.do(t, "PUT", "/meal-plans/NOPE123", `{"name": "x"}`)
		if rr.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", rr.Code)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rr := s.do(t, "DELETE", "/meal-plans/XYZ7890", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		resp := decode[PlanChangeResponse](t, rr)
		if resp.Message != "Meal plan deleted successfully" || resp.MealPlanName != "Seeded XYZ7890" {
			t.Errorf("Unexpected response: %+v", resp)
		}

		again := s.do(t, "DELETE", "/meal-plans/XYZ7890", "")
		if again.Code != http.StatusNotFound {
			t.Errorf("Expected 404 on second delete, got %d", again.Code)
		}
	})

	t.Run("ImportMeal", func(t *testing.T) {
		rr := s.do(t, "POST", "/meal-plans/ABC1234/meals/import", `{"url": "https://example.com/soup"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		plan := decode[mealplan.MealPlan](t, rr)
		if len(plan.Meals) != 2 || plan.Meals[1].Recipe.Name != "Clipped Soup" {
			t.Errorf("Expected the clipped recipe to be appended, got %+v", plan.Meals)
		}

		bad := s.do(t, "POST", "/meal-plans/ABC1234/meals/import", `{"url": "not a url"}`)
		if bad.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422 for a bad URL, got %d", bad.Code)
		}
	})
}

func TestDebugEndpoint(t *testing.T) {
	disabled := newTestServer(t, &MockPlanner{}, Options{})
	if rr := disabled.do(t, "GET", "/debug/get-database", ""); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when debug endpoints are disabled, got %d", rr.Code)
	}

	enabled := newTestServer(t, &MockPlanner{}, Options{DebugEndpoints: true})
	enabled.seed(t, "ABC1234", 0)
	rr := enabled.do(t, "GET", "/debug/get-database", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	db := decode[map[string]mealplan.MealPlan](t, rr)
	if _, ok := db["ABC1234"]; !ok || len(db) != 1 {
		t.Errorf("Expected the seeded plan keyed by id, got %v", db)
	}
}

func TestAuthentication(t *testing.T) {
	v, err := auth.NewVerifier("test-secret-that-is-long-enough-1234", "meal-plan-service")
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	s := newTestServer(t, &MockPlanner{}, Options{Verifier: v})
	s.seed(t, "ABC1234", 0)

	if rr := s.do(t, "GET", "/meal-plans/ABC1234", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a token, got %d", rr.Code)
	}
	if rr := s.do(t, "GET", "/meal-plans/ABC1234", "", "Authorization", "Bearer garbage"); rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a bad token, got %d", rr.Code)
	}

	token, _ := v.Issue("ops", time.Hour)
	if rr := s.do(t, "GET", "/meal-plans/ABC1234", "", "Authorization", "Bearer "+token); rr.Code != http.StatusOK {
		t.Errorf("Expected 200 with a valid token, got %d", rr.Code)
	}

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		if rr := s.do(t, "GET", path, ""); rr.Code != http.StatusOK {
			t.Errorf("Expected %s to be public, got %d", path, rr.Code)
		}
	}
}

func TestGenerateRateLimit(t *testing.T) {
	s := newTestServer(t, &MockPlanner{}, Options{GenerateRateLimit: 1})

	first := s.do(t, "POST", "/meal-plans/generate", `{"meal_tags": ["vegan"]}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", first.Code)
	}
	second := s.do(t, "POST", "/meal-plans/generate", `{"meal_tags": ["vegan"]}`)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", second.Code)
	}
	if got := decode[ErrorResponse](t, second); got.Detail != "Too many requests" {
		t.Errorf("Unexpected detail: %s", got.Detail)
	}

	// Reads are not limited.
	if rr := s.do(t, "GET", "/meal-plans", ""); rr.Code != http.StatusOK {
		t.Errorf("Expected 200 for list, got %d", rr.Code)
	}
}

func TestUsageAndHealth(t *testing.T) {
	s := newTestServer(t, &MockPlanner{}, Options{})

	rr := s.do(t, "GET", "/admin/usage?days=3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	report := decode[app.UsageReport](t, rr)
	if report.Days != 3 {
		t.Errorf("Expected 3 days, got %d", report.Days)
	}

	live := s.do(t, "GET", "/health/live", "")
	if live.Code != http.StatusOK || !strings.Contains(live.Body.String(), `"ok"`) {
		t.Errorf("Unexpected liveness response: %d %s", live.Code, live.Body.String())
	}

	if rr := s.do(t, "GET", "/nowhere", ""); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown routes, got %d", rr.Code)
	}
}

func TestTelegramWebhookMount(t *testing.T) {
	called := false
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	s := newTestServer(t, &MockPlanner{}, Options{TelegramWebhook: hook})

	rr := s.do(t, "POST", TelegramWebhookPath, `{"update_id": 1}`)
	if rr.Code != http.StatusOK || !called {
		t.Errorf("Expected webhook handler to be called, got %d", rr.Code)
	}
}

func TestGenerateRateLimitIgnoresForwardedFor(t *testing.T) {
	s := newTestServer(t, &MockPlanner{}, Options{GenerateRateLimit: 1})

	first := s.do(t, "POST", "/meal-plans/generate", `{"meal_tags": ["vegan"]}`, "X-Forwarded-For", "203.0.113.1")
	if first.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", first.Code)
	}
	for _, spoofed := range []string{"203.0.113.2", "198.51.100.7", "10.0.0.9"} {
		rr := s.do(t, "POST", "/meal-plans/generate", `{"meal_tags": ["vegan"]}`,
			"X-Forwarded-For", spoofed, "X-Real-IP", spoofed, "True-Client-IP", spoofed)
		if rr.Code != http.StatusTooManyRequests {
			t.Errorf("Expected 429 with X-Forwarded-For %s, got %d", spoofed, rr.Code)
		}
	}
}

func TestGenerateRateLimitTrustedProxy(t *testing.T) {
	s := newTestServer(t, &MockPlanner{}, Options{GenerateRateLimit: 1, TrustedProxyHops: 1})
	generate := func(xff string) int {
		return s.do(t, "POST", "/meal-plans/generate", `{"meal_tags": ["vegan"]}`, "X-Forwarded-For", xff).Code
	}

	if code := generate("203.0.113.1"); code != http.StatusCreated {
		t.Fatalf("Expected 201 for the first client, got %d", code)
	}
	// A forged leading entry does not change the address the proxy appended.
	if code := generate("1.2.3.4, 203.0.113.1"); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 for the same client behind a forged entry, got %d", code)
	}
	if code := generate("203.0.113.1, 198.51.100.7"); code != http.StatusCreated {
		t.Errorf("Expected 201 for a different client, got %d", code)
	}
}

func TestClientIPKey(t *testing.T) {
	tests := []struct {
		name string
		hops int
		xff  []string
		want string
	}{
		{"NoHopsUsesPeer", 0, []string{"203.0.113.1"}, "192.0.2.1"},
		{"OneHop", 1, []string{"1.2.3.4, 203.0.113.1"}, "203.0.113.1"},
		{"TwoHops", 2, []string{"1.2.3.4, 203.0.113.1, 10.0.0.2"}, "203.0.113.1"},
		{"SplitHeaders", 2, []string{"203.0.113.1", "10.0.0.2"}, "203.0.113.1"},
		{"ShortChainFallsBack", 2, []string{"203.0.113.1"}, "192.0.2.1"},
		{"GarbageFallsBack", 1, []string{"not-an-ip"}, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/meal-plans/generate", nil)
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			got, err := clientIPKey(tt.hops)(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

type discardSender struct{}

func (discardSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return tgbotapi.Message{MessageID: 1}, nil
}

func TestTelegramWebhookRequiresSecret(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := app.NewService(&MockPlanner{}, &MockClipper{}, store, nil, app.Options{DataPath: t.TempDir()})
	bot := telegram.NewBot(discardSender{}, svc, telegram.Options{AllowedUserIDs: []int64{7}, SecretToken: "hook-secret"})
	handler := NewRouter(svc, Options{CORSAllowedOrigins: []string{"*"}, TelegramWebhook: bot})

	if err := store.Create(context.Background(), &mealplan.MealPlan{ID: "ABC1234", Name: "Target"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	update := `{"update_id":1,"message":{"message_id":5,"from":{"id":7,"is_bot":false,"first_name":"Eve"},` +
		`"chat":{"id":7,"type":"private"},"date":0,"text":"/delete ABC1234",` +
		`"entities":[{"type":"bot_command","offset":0,"length":7}]}}`

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, TelegramWebhookPath, strings.NewReader(update)))
	bot.Wait()
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for an unsigned update, got %d", rr.Code)
	}
	if _, err := store.Get(context.Background(), "ABC1234"); err != nil {
		t.Fatalf("Expected plan to survive, got %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, TelegramWebhookPath, strings.NewReader(update))
	req.Header.Set(telegram.SecretHeader, "hook-secret")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	bot.Wait()
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 for a signed update, got %d", rr.Code)
	}
	if _, err := store.Get(context.Background(), "ABC1234"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected the signed delete to go through, got %v", err)
	}
}

func TestErrorLogIncludesSubject(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Output: &buf})
	t.Cleanup(func() { logging.Init(logging.Config{}) })

	v, err := auth.NewVerifier("test-secret-that-is-long-enough-1234", "meal-plan-service")
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	s := newTestServer(t, &MockPlanner{}, Options{Verifier: v})
	token, _ := v.Issue("ops", time.Hour)

	if rr := s.do(t, "DELETE", "/meal-plans/NOPE123", "", "Authorization", "Bearer "+token); rr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rr.Code)
	}
	if !strings.Contains(buf.String(), `"subject":"ops"`) {
		t.Errorf("Expected the caller subject in the error log, got %s", buf.String())
	}
}
