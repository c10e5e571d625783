package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"meal-plan-service/internal/mealplan"
)

// MemoryStore keeps plans in a map. Data is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*mealplan.MealPlan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]*mealplan.MealPlan)}
}

func (s *MemoryStore) Create(_ context.Context, plan *mealplan.MealPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[plan.ID]; ok {
		return ErrAlreadyExists
	}
	s.plans[plan.ID] = plan.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*mealplan.MealPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, u mealplan.UpdateRequest, now time.Time) (*mealplan.MealPlan, error) {
	return s.modify(id, func(p *mealplan.MealPlan) error {
		return applyUpdate(p, u, now)
	})
}

func (s *MemoryStore) AppendMeal(_ context.Context, id string, meal mealplan.Meal, now time.Time) (*mealplan.MealPlan, error) {
	return s.modify(id, func(p *mealplan.MealPlan) error {
		_, err := appendMeal(p, meal, now)
		return err
	})
}

// modify runs fn on a copy of the plan and stores it only if fn succeeds.
func (s *MemoryStore) modify(id string, fn func(p *mealplan.MealPlan) error) (*mealplan.MealPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := p.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.plans[id] = updated
	return updated.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (*mealplan.MealPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.plans, id)
	return p, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*mealplan.MealPlan, error) {
	s.mu.RLock()
	out := make([]*mealplan.MealPlan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
