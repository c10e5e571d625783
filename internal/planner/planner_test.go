package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"meal-plan-service/internal/llm"
	"meal-plan-service/internal/shared"
)

const validPlanJSON = `{
	"name": "Veggie Week",
	"description": "Seven vegetarian dinners",
	"meals": [
		{"recipe": {"name": "Pasta Primavera", "description": "Spring pasta", "steps": ["Boil pasta", "Toss with vegetables"], "tags": ["vegetarian"], "nutritional_info": {"calories": 520, "protein": 18, "fiber": 7}}},
		{"recipe": {"name": "Bean Chili", "description": "Hearty chili", "steps": ["Simmer beans"]}}
	]
}`

// MockTextGenerator replays canned answers and records the conversations it received.
type MockTextGenerator struct {
	Responses []string
	Err       error
	Calls     [][]llm.Message
}

func (m *MockTextGenerator) GenerateContent(ctx context.Context, messages ...llm.Message) (llm.ContentResponse, error) {
	m.Calls = append(m.Calls, messages)
	if m.Err != nil {
		return llm.ContentResponse{}, m.Err
	}
	i := len(m.Calls) - 1
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	return llm.ContentResponse{
		Content: m.Responses[i],
		Usage:   shared.TokenUsage{Model: "mock", PromptTokens: 100, CompletionTokens: 50},
	}, nil
}

func TestGeneratePlan(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		gen := &MockTextGenerator{Responses: []string{validPlanJSON}}
		p := NewPlanner(gen, 2)

		content, metas, err := p.GeneratePlan(ctx, []string{"vegetarian", "quick"}, 2)
		if err != nil {
			t.Fatalf("GeneratePlan failed: %v", err)
		}

		if content.Name != "Veggie Week" {
			t.Errorf("Expected name 'Veggie Week', got '%s'", content.Name)
		}
		if len(content.Meals) != 2 {
			t.Fatalf("Expected 2 meals, got %d", len(content.Meals))
		}
		if content.Meals[0].Recipe.NutritionalInfo == nil || content.Meals[0].Recipe.NutritionalInfo.Calories != 520 {
			t.Errorf("Expected nutritional info to be parsed, got %+v", content.Meals[0].Recipe.NutritionalInfo)
		}
		if content.Meals[1].Recipe.Tags == nil {
			t.Error("Expected missing tags to default to an empty list")
		}
		if len(metas) != 1 || metas[0].AgentName != AgentName || metas[0].Usage.PromptTokens != 100 {
			t.Errorf("Unexpected metas: %+v", metas)
		}

		msgs := gen.Calls[0]
		if len(msgs) != 2 {
			t.Fatalf("Expected system and user messages, got %d", len(msgs))
		}
		wantSystem := "The following are meal tags that will be used as part of generating the query: vegetarian,quick"
		if msgs[0].Role != llm.RoleSystem || msgs[0].Content != wantSystem {
			t.Errorf("Unexpected system message: %+v", msgs[0])
		}
		if !strings.Contains(msgs[1].Content, "Plan exactly 2 meals") {
			t.Error("Expected user prompt to include the meal count")
		}
		if !strings.Contains(msgs[1].Content, "vegetarian, quick") {
			t.Error("Expected user prompt to list the tags")
		}
		if strings.Contains(msgs[1].Content, "## Correction") {
			t.Error("Did not expect a correction section on the first attempt")
		}
	})

	t.Run("FencedJSON", func(t *testing.T) {
		gen := &MockTextGenerator{Responses: []string{"```json\n" + validPlanJSON + "\n```"}}
		content, _, err := NewPlanner(gen, 1).GeneratePlan(ctx, []string{"vegetarian"}, 2)
		if err != nil {
			t.Fatalf("GeneratePlan failed: %v", err)
		}
		if content.Name != "Veggie Week" {
			t.Errorf("Expected name 'Veggie Week', got '%s'", content.Name)
		}
	})

	t.Run("RetriesMalformedOutput", func(t *testing.T) {
		gen := &MockTextGenerator{Responses: []string{"this is not json", validPlanJSON}}
		content, metas, err := NewPlanner(gen, 2).GeneratePlan(ctx, []string{"vegetarian"}, 2)
		if err != nil {
			t.Fatalf("GeneratePlan failed: %v", err)
		}
		if content == nil || len(metas) != 2 {
			t.Fatalf("Expected a plan after 2 attempts, got %d metas", len(metas))
		}
		if metas[1].Attempt != 2 {
			t.Errorf("Expected second meta to be attempt 2, got %d", metas[1].Attempt)
		}
		if !strings.Contains(gen.Calls[1][1].Content, "## Correction") {
			t.Error("Expected the retry prompt to include the correction section")
		}
	})

	t.Run("InvalidAfterAllAttempts", func(t *testing.T) {
		gen := &MockTextGenerator{Responses: []string{`{"name": "", "meals": []}`}}
		_, metas, err := NewPlanner(gen, 3).GeneratePlan(ctx, []string{"vegetarian"}, 2)
		if !errors.Is(err, ErrInvalidPlan) {
			t.Fatalf("Expected ErrInvalidPlan, got %v", err)
		}
		if len(metas) != 3 {
			t.Errorf("Expected 3 attempts to be recorded, got %d", len(metas))
		}
	})

	t.Run("TransportErrorIsNotRetried", func(t *testing.T) {
		gen := &MockTextGenerator{Err: llm.ErrUnavailable}
		_, _, err := NewPlanner(gen, 3).GeneratePlan(ctx, []string{"vegetarian"}, 2)
		if !errors.Is(err, llm.ErrUnavailable) {
			t.Fatalf("Expected ErrUnavailable, got %v", err)
		}
		if len(gen.Calls) != 1 {
			t.Errorf("Expected a single call, got %d", len(gen.Calls))
		}
	})
}
