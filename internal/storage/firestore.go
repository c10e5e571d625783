package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meal-plan-service/internal/mealplan"
)

// FirestoreStore keeps one document per plan, keyed by the plan id.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore connects to the given Firestore database. Credentials come
// from the environment (Workload Identity on GKE) unless opts override them.
// FIRESTORE_EMULATOR_HOST is honored by the client library.
func NewFirestoreStore(ctx context.Context, projectID, databaseID, collection string, opts ...option.ClientOption) (*FirestoreStore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Create(ctx context.Context, plan *mealplan.MealPlan) error {
	if _, err := s.doc(plan.ID).Create(ctx, plan); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create meal plan %s: %w", plan.ID, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*mealplan.MealPlan, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError(err, "get", id)
	}
	return decodeSnapshot(snap)
}

func (s *FirestoreStore) Update(ctx context.Context, id string, u mealplan.UpdateRequest, now time.Time) (*mealplan.MealPlan, error) {
	return s.modify(ctx, id, func(p *mealplan.MealPlan) (mealplan.UpdateRequest, error) {
		return u, applyUpdate(p, u, now)
	})
}

func (s *FirestoreStore) AppendMeal(ctx context.Context, id string, meal mealplan.Meal, now time.Time) (*mealplan.MealPlan, error) {
	return s.modify(ctx, id, func(p *mealplan.MealPlan) (mealplan.UpdateRequest, error) {
		return appendMeal(p, meal, now)
	})
}

// modify reads the plan, lets fn change it and writes back the fields of the
// returned update, all in one transaction. Firestore retries the transaction
// when the document changes underneath it.
func (s *FirestoreStore) modify(ctx context.Context, id string, fn func(p *mealplan.MealPlan) (mealplan.UpdateRequest, error)) (*mealplan.MealPlan, error) {
	ref := s.doc(id)
	var plan *mealplan.MealPlan
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return mapFirestoreError(err, "get", id)
		}
		plan, err = decodeSnapshot(snap)
		if err != nil {
			return err
		}
		u, err := fn(plan)
		if err != nil {
			return err
		}
		return tx.Update(ref, updatesFor(u, plan.UpdatedAt))
	})
	if err != nil {
		var verr *mealplan.ValidationError
		if errors.Is(err, ErrNotFound) || errors.As(err, &verr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update meal plan %s: %w", id, err)
	}
	return plan, nil
}

// updatesFor lists only the fields present in u.
func updatesFor(u mealplan.UpdateRequest, updatedAt time.Time) []firestore.Update {
	var updates []firestore.Update
	if u.Name != nil {
		updates = append(updates, firestore.Update{Path: "name", Value: *u.Name})
	}
	if u.Description != nil {
		updates = append(updates, firestore.Update{Path: "description", Value: *u.Description})
	}
	if u.Meals != nil {
		updates = append(updates, firestore.Update{Path: "meals", Value: *u.Meals})
	}
	return append(updates, firestore.Update{Path: "updated_at", Value: updatedAt})
}

func (s *FirestoreStore) Delete(ctx context.Context, id string) (*mealplan.MealPlan, error) {
	ref := s.doc(id)
	var plan *mealplan.MealPlan
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return mapFirestoreError(err, "get", id)
		}
		plan, err = decodeSnapshot(snap)
		if err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to delete meal plan %s: %w", id, err)
	}
	return plan, nil
}

func (s *FirestoreStore) List(ctx context.Context, limit int) ([]*mealplan.MealPlan, error) {
	q := s.client.Collection(s.collection).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var plans []*mealplan.MealPlan
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list meal plans: %w", err)
		}
		p, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// Ping reads at most one document to prove the database is reachable.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	iter := s.client.Collection(s.collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore unreachable: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*mealplan.MealPlan, error) {
	var p mealplan.MealPlan
	if err := snap.DataTo(&p); err != nil {
		return nil, fmt.Errorf("failed to decode meal plan %s: %w", snap.Ref.ID, err)
	}
	return withDocumentID(&p, snap.Ref.ID), nil
}

// withDocumentID fills in the id of documents written without an id field.
func withDocumentID(p *mealplan.MealPlan, docID string) *mealplan.MealPlan {
	if p.ID == "" {
		p.ID = docID
	}
	return p
}

func mapFirestoreError(err error, op, id string) error {
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return fmt.Errorf("failed to %s meal plan %s: %w", op, id, err)
}
