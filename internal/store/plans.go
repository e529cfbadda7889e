package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ckgerrors "ckg/internal/errors"
)

// Plan states.
const (
	PlanStateProposed = "proposed"
	PlanStateApplied  = "applied"
	PlanStateAborted  = "aborted"
)

// PlanRecord is the persisted form of a split plan. The plan body is an
// opaque JSON document owned by the refactor package; Checksum pins the
// source content the plan was computed against.
type PlanRecord struct {
	ID        string
	Path      string
	Checksum  string
	State     string
	CreatedAt time.Time
	PlanJSON  []byte
}

// SavePlan persists a freshly proposed plan.
func (s *Store) SavePlan(ctx context.Context, rec *PlanRecord) error {
	state := rec.State
	if state == "" {
		state = PlanStateProposed
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO split_plans (id, path, checksum, state, created_at, plan_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Path, rec.Checksum, state, createdAt.Format(time.RFC3339), string(rec.PlanJSON))
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", rec.ID, err)
	}
	return nil
}

// GetPlan loads a plan by id.
func (s *Store) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	var rec PlanRecord
	var createdAt, planJSON string
	err := s.db.QueryRow(ctx, `
		SELECT id, path, checksum, state, created_at, plan_json
		FROM split_plans WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Path, &rec.Checksum, &rec.State, &createdAt, &planJSON)
	if err == sql.ErrNoRows {
		return nil, ckgerrors.New(ckgerrors.PlanNotFound, fmt.Sprintf("plan not found: %s", id), nil)
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.PlanJSON = []byte(planJSON)
	return &rec, nil
}

// SetPlanState transitions a plan to applied or aborted.
func (s *Store) SetPlanState(ctx context.Context, id, state string) error {
	res, err := s.db.Exec(ctx,
		`UPDATE split_plans SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ckgerrors.New(ckgerrors.PlanNotFound, fmt.Sprintf("plan not found: %s", id), nil)
	}
	return nil
}

// ListPlans returns plans, newest first, optionally filtered by path.
func (s *Store) ListPlans(ctx context.Context, path string) ([]PlanRecord, error) {
	q := `SELECT id, path, checksum, state, created_at, plan_json FROM split_plans`
	var args []interface{}
	if path != "" {
		q += ` WHERE path = ?`
		args = append(args, path)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlanRecord
	for rows.Next() {
		var rec PlanRecord
		var createdAt, planJSON string
		if err := rows.Scan(&rec.ID, &rec.Path, &rec.Checksum, &rec.State, &createdAt, &planJSON); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		rec.PlanJSON = []byte(planJSON)
		out = append(out, rec)
	}
	return out, rows.Err()
}
