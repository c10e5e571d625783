// Package storage persists meal plans. Backends: Firestore in production,
// SQLite for single-node deployments, memory for development and tests.
package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"meal-plan-service/internal/mealplan"
)

var (
	// ErrNotFound is returned when no plan has the requested id.
	ErrNotFound = errors.New("meal plan not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("meal plan already exists")
)

// Store is the persistence contract shared by every backend.
type Store interface {
	Create(ctx context.Context, plan *mealplan.MealPlan) error
	Get(ctx context.Context, id string) (*mealplan.MealPlan, error)
	// Update applies the present fields of u and returns the stored result.
	// The merged plan is validated in the same transaction as the write and
	// nothing is stored when it is invalid.
	Update(ctx context.Context, id string, u mealplan.UpdateRequest, now time.Time) (*mealplan.MealPlan, error)
	// AppendMeal adds meal after the plan's current meals atomically, so
	// concurrent edits to the meal list are never overwritten.
	AppendMeal(ctx context.Context, id string, meal mealplan.Meal, now time.Time) (*mealplan.MealPlan, error)
	// Delete removes the plan and returns it as it was before deletion.
	Delete(ctx context.Context, id string) (*mealplan.MealPlan, error)
	// List returns up to limit plans, newest first. limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]*mealplan.MealPlan, error)
	Ping(ctx context.Context) error
	Close() error
}

// applyUpdate merges u into p and validates the result.
func applyUpdate(p *mealplan.MealPlan, u mealplan.UpdateRequest, now time.Time) error {
	p.Apply(u, now)
	return mealplan.Validate(p)
}

// appendMeal applies meal to p and returns the equivalent update.
func appendMeal(p *mealplan.MealPlan, meal mealplan.Meal, now time.Time) (mealplan.UpdateRequest, error) {
	meals := append(slices.Clone(p.Meals), meal)
	u := mealplan.UpdateRequest{Meals: &meals}
	return u, applyUpdate(p, u, now)
}
