package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"meal-plan-service/internal/config"
	"meal-plan-service/internal/database"
	"meal-plan-service/internal/mealplan"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func testPlan(id string, offset time.Duration) *mealplan.MealPlan {
	return mealplan.New(id, []string{"vegan", "quick"}, mealplan.Content{
		Name:        "Plan " + id,
		Description: "A test plan",
		Meals: []mealplan.Meal{
			{Recipe: mealplan.Recipe{
				Name:            "Chickpea Curry",
				Description:     "Weeknight curry",
				Steps:           []string{"Fry onions", "Add chickpeas", "Simmer"},
				Tags:            []string{"vegan"},
				NutritionalInfo: &mealplan.NutritionalInformation{Calories: 480, Protein: 19, Fiber: 11},
			}},
		},
	}, baseTime.Add(offset))
}

// runStoreTests exercises the behavior every backend must share.
func runStoreTests(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		p := testPlan("AAAA001", 0)
		if err := s.Create(ctx, p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		got, err := s.Get(ctx, p.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Name != p.Name || len(got.Meals) != 1 || len(got.MealTags) != 2 {
			t.Errorf("Unexpected plan: %+v", got)
		}
		if got.Meals[0].Recipe.NutritionalInfo == nil || got.Meals[0].Recipe.NutritionalInfo.Fiber != 11 {
			t.Errorf("Expected nutritional info to survive storage, got %+v", got.Meals[0].Recipe.NutritionalInfo)
		}
		if !got.CreatedAt.Equal(p.CreatedAt) {
			t.Errorf("Expected CreatedAt %v, got %v", p.CreatedAt, got.CreatedAt)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		err := s.Create(ctx, testPlan("AAAA001", time.Minute))
		if !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("Expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := s.Get(ctx, "ZZZZ999"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PartialUpdate", func(t *testing.T) {
		name := "Renamed plan"
		later := baseTime.Add(time.Hour)
		got, err := s.Update(ctx, "AAAA001", mealplan.UpdateRequest{Name: &name}, later)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if got.Name != name {
			t.Errorf("Expected name '%s', got '%s'", name, got.Name)
		}
		if got.Description != "A test plan" || len(got.Meals) != 1 {
			t.Errorf("Expected untouched fields to remain, got %+v", got)
		}
		if !got.UpdatedAt.Equal(later) {
			t.Errorf("Expected UpdatedAt %v, got %v", later, got.UpdatedAt)
		}

		stored, err := s.Get(ctx, "AAAA001")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if stored.Name != name || !stored.CreatedAt.Equal(baseTime) {
			t.Errorf("Expected update to be persisted, got %+v", stored)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		name := "x"
		if _, err := s.Update(ctx, "ZZZZ999", mealplan.UpdateRequest{Name: &name}, baseTime); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateRejectsInvalidMerge", func(t *testing.T) {
		noSteps := []mealplan.Meal{{Recipe: mealplan.Recipe{Name: "Stepless"}}}
		_, err := s.Update(ctx, "AAAA001", mealplan.UpdateRequest{Meals: &noSteps}, baseTime.Add(2*time.Hour))
		var verr *mealplan.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Expected a validation error, got %v", err)
		}

		stored, err := s.Get(ctx, "AAAA001")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(stored.Meals) != 1 || stored.Meals[0].Recipe.Name != "Chickpea Curry" {
			t.Errorf("Expected the stored meals to be untouched, got %+v", stored.Meals)
		}
		if !stored.UpdatedAt.Equal(baseTime.Add(time.Hour)) {
			t.Errorf("Expected UpdatedAt to be untouched, got %v", stored.UpdatedAt)
		}
	})

	t.Run("AppendMeal", func(t *testing.T) {
		later := baseTime.Add(3 * time.Hour)
		meal := mealplan.Meal{Recipe: mealplan.Recipe{Name: "Banana Bread", Steps: []string{"Mash", "Bake"}, Tags: []string{}}}
		got, err := s.AppendMeal(ctx, "AAAA001", meal, later)
		if err != nil {
			t.Fatalf("AppendMeal failed: %v", err)
		}
		if len(got.Meals) != 2 || got.Meals[1].Recipe.Name != "Banana Bread" {
			t.Errorf("Expected the meal appended last, got %+v", got.Meals)
		}

		stored, err := s.Get(ctx, "AAAA001")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(stored.Meals) != 2 || stored.Meals[0].Recipe.Name != "Chickpea Curry" || !stored.UpdatedAt.Equal(later) {
			t.Errorf("Expected the append to be persisted, got %+v", stored)
		}

		if _, err := s.AppendMeal(ctx, "ZZZZ999", meal, later); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		var verr *mealplan.ValidationError
		if _, err := s.AppendMeal(ctx, "AAAA001", mealplan.Meal{}, later); !errors.As(err, &verr) {
			t.Errorf("Expected a validation error for an empty meal, got %v", err)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		for i, id := range []string{"AAAA002", "AAAA003"} {
			if err := s.Create(ctx, testPlan(id, time.Duration(i+1)*time.Minute)); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}

		all, err := s.List(ctx, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("Expected 3 plans, got %d", len(all))
		}
		want := []string{"AAAA003", "AAAA002", "AAAA001"}
		for i, p := range all {
			if p.ID != want[i] {
				t.Errorf("Position %d: expected %s, got %s", i, want[i], p.ID)
			}
		}

		limited, err := s.List(ctx, 2)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(limited) != 2 || limited[0].ID != "AAAA003" {
			t.Errorf("Expected the 2 newest plans, got %d", len(limited))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		deleted, err := s.Delete(ctx, "AAAA002")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if deleted.ID != "AAAA002" || deleted.Name != "Plan AAAA002" {
			t.Errorf("Expected the deleted plan to be returned, got %+v", deleted)
		}
		if _, err := s.Get(ctx, "AAAA002"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		if _, err := s.Delete(ctx, "AAAA002"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := testPlan("BBBB001", 0)
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	p.Name = "mutated by caller"
	got, _ := s.Get(ctx, "BBBB001")
	got.Meals[0].Recipe.Name = "mutated copy"

	again, _ := s.Get(ctx, "BBBB001")
	if again.Name != "Plan BBBB001" || again.Meals[0].Recipe.Name != "Chickpea Curry" {
		t.Errorf("Expected stored plan to be isolated from callers, got %+v", again)
	}
}

func TestSQLiteStore(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "plans.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	runStoreTests(t, NewSQLiteStore(db.SQL))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, &config.Config{StorageBackend: config.StorageMemory}, nil)
	if err != nil {
		t.Fatalf("Open memory failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}

	if _, err := Open(ctx, &config.Config{StorageBackend: config.StorageSQLite}, nil); err == nil {
		t.Error("expected error for sqlite without a database")
	}
	if _, err := Open(ctx, &config.Config{StorageBackend: "redis"}, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}
