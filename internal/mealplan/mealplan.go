// Package mealplan defines meal plans, their recipes, and the request
// types used to generate and edit them.
package mealplan

import "time"

// NutritionalInformation holds the nutrition facts of a recipe.
type NutritionalInformation struct {
	Calories float64 `json:"calories" firestore:"calories" validate:"gte=0"`
	Protein  float64 `json:"protein" firestore:"protein" validate:"gte=0"`
	Fiber    float64 `json:"fiber" firestore:"fiber" validate:"gte=0"`
}

// Recipe is the dish served by a meal.
type Recipe struct {
	Name            string                  `json:"name" firestore:"name" validate:"required,max=200"`
	Description     string                  `json:"description" firestore:"description" validate:"max=2000"`
	Steps           []string                `json:"steps" firestore:"steps" validate:"required,min=1,dive,required"`
	Tags            []string                `json:"tags" firestore:"tags"`
	NutritionalInfo *NutritionalInformation `json:"nutritional_info,omitempty" firestore:"nutritional_info,omitempty" validate:"omitempty"`
}

// Meal is a single entry of a meal plan.
type Meal struct {
	Recipe Recipe `json:"recipe" firestore:"recipe"`
}

// Content is the part of a meal plan produced by the model and editable by users.
type Content struct {
	Name        string `json:"name" firestore:"name" validate:"required,max=200"`
	Description string `json:"description" firestore:"description" validate:"max=2000"`
	Meals       []Meal `json:"meals" firestore:"meals" validate:"required,min=1,dive"`
}

// MealPlan is a stored meal plan.
type MealPlan struct {
	ID          string    `json:"id" firestore:"id" validate:"required,len=7,alphanum"`
	Name        string    `json:"name" firestore:"name" validate:"required,max=200"`
	Description string    `json:"description" firestore:"description" validate:"max=2000"`
	Meals       []Meal    `json:"meals" firestore:"meals" validate:"required,min=1,dive"`
	MealTags    []string  `json:"meal_tags" firestore:"meal_tags"`
	CreatedAt   time.Time `json:"created_at" firestore:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" firestore:"updated_at"`
}

// New builds a stored plan from generated content.
func New(id string, tags []string, c Content, now time.Time) *MealPlan {
	now = now.UTC()
	return &MealPlan{
		ID:          id,
		Name:        c.Name,
		Description: c.Description,
		Meals:       c.Meals,
		MealTags:    tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// GenerateRequest asks for a new plan honoring the given meal tags.
type GenerateRequest struct {
	MealTags  []string `json:"meal_tags" validate:"required,min=1,max=20,dive,required,max=64"`
	MealCount int      `json:"meal_count,omitempty" validate:"omitempty,min=1,max=21"`
}

// ImportRequest asks to append the recipe found at URL to a plan.
type ImportRequest struct {
	URL string `json:"url" validate:"required,http_url,max=2048"`
}

// UpdateRequest carries the fields of a plan a client wants to change.
// Nil fields are left untouched.
type UpdateRequest struct {
	ID          *string `json:"id,omitempty" validate:"omitempty,len=7,alphanum"`
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	Meals       *[]Meal `json:"meals,omitempty" validate:"omitempty,min=1,dive"`
}

// Empty reports whether the request changes nothing.
func (u UpdateRequest) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Meals == nil
}

// Apply copies the present fields of u onto p and bumps UpdatedAt.
func (p *MealPlan) Apply(u UpdateRequest, now time.Time) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Meals != nil {
		p.Meals = *u.Meals
	}
	p.UpdatedAt = now.UTC()
}

// Clone returns a deep copy of p.
func (p *MealPlan) Clone() *MealPlan {
	c := *p
	c.MealTags = append([]string(nil), p.MealTags...)
	c.Meals = make([]Meal, len(p.Meals))
	for i, m := range p.Meals {
		r := m.Recipe
		r.Steps = append([]string(nil), m.Recipe.Steps...)
		r.Tags = append([]string(nil), m.Recipe.Tags...)
		if m.Recipe.NutritionalInfo != nil {
			n := *m.Recipe.NutritionalInfo
			r.NutritionalInfo = &n
		}
		c.Meals[i] = Meal{Recipe: r}
	}
	return &c
}
