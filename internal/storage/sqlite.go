package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"meal-plan-service/internal/database"
	"meal-plan-service/internal/mealplan"
)

// SQLiteStore keeps plans in the meal_plans table. The full plan is stored
// as a JSON body; id and timestamps are columns for lookups and ordering.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore uses a connection whose schema was migrated by database.NewDB.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Create(ctx context.Context, plan *mealplan.MealPlan) error {
	body, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal meal plan: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_plans (id, name, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		plan.ID, plan.Name, string(body), database.FormatTime(plan.CreatedAt), database.FormatTime(plan.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert meal plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert meal plan: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*mealplan.MealPlan, error) {
	return getPlan(ctx, s.db, id)
}

func (s *SQLiteStore) Update(ctx context.Context, id string, u mealplan.UpdateRequest, now time.Time) (*mealplan.MealPlan, error) {
	return s.modify(ctx, id, func(p *mealplan.MealPlan) error {
		return applyUpdate(p, u, now)
	})
}

func (s *SQLiteStore) AppendMeal(ctx context.Context, id string, meal mealplan.Meal, now time.Time) (*mealplan.MealPlan, error) {
	return s.modify(ctx, id, func(p *mealplan.MealPlan) error {
		_, err := appendMeal(p, meal, now)
		return err
	})
}

// modify reads, changes and writes a plan inside one transaction. An error
// from fn rolls the transaction back.
func (s *SQLiteStore) modify(ctx context.Context, id string, fn func(p *mealplan.MealPlan) error) (*mealplan.MealPlan, error) {
	var plan *mealplan.MealPlan
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		plan, err = getPlan(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(plan); err != nil {
			return err
		}

		body, err := json.Marshal(plan)
		if err != nil {
			return fmt.Errorf("failed to marshal meal plan: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE meal_plans SET name = ?, body = ?, updated_at = ? WHERE id = ?`,
			plan.Name, string(body), database.FormatTime(plan.UpdatedAt), id)
		if err != nil {
			return fmt.Errorf("failed to update meal plan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (*mealplan.MealPlan, error) {
	var plan *mealplan.MealPlan
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		plan, err = getPlan(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM meal_plans WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete meal plan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*mealplan.MealPlan, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM meal_plans ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list meal plans: %w", err)
	}
	defer rows.Close()

	var plans []*mealplan.MealPlan
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan meal plan: %w", err)
		}
		p, err := decodePlan(body)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op: the connection belongs to database.DB, which also
// serves the metrics store.
func (s *SQLiteStore) Close() error { return nil }

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getPlan(ctx context.Context, q queryer, id string) (*mealplan.MealPlan, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM meal_plans WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meal plan: %w", err)
	}
	return decodePlan(body)
}

func decodePlan(body string) (*mealplan.MealPlan, error) {
	var p mealplan.MealPlan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meal plan: %w", err)
	}
	return &p, nil
}
