package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/repository"

	"github.com/google/uuid"
)

type planRepository struct {
	db *DB
}

// NewPlanRepository creates a PlanRepository backed by db.
func NewPlanRepository(db *DB) repository.PlanRepository {
	return &planRepository{db: db}
}

const planColumns = `id, student_name, age, guardian_name, guardian_phone, phone_digits, plan_type, weekdays, start_time, created_at, updated_at`

func (r *planRepository) Create(ctx context.Context, plan *domain.Plan) error {
	weekdays, err := json.Marshal(plan.Weekdays)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	plan.ID = uuid.NewString()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	plan.PhoneDigits = domain.DigitsOnly(plan.GuardianPhone)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.rebind(`INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		plan.ID, plan.StudentName, plan.Age, plan.GuardianName, plan.GuardianPhone, plan.PhoneDigits,
		plan.PlanType, string(weekdays), plan.StartTime, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	if err := r.insertClasses(ctx, tx, plan.ID, plan.Classes); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *planRepository) insertClasses(ctx context.Context, tx *sql.Tx, planID string, classes []domain.ClassSession) error {
	stmt := r.db.rebind(`INSERT INTO plan_classes (plan_id, ordinal, completed, signature_state, signature_pending_id, retry_count)
		VALUES (?, ?, ?, ?, ?, ?)`)
	for _, cs := range classes {
		var pendingID sql.NullString
		if cs.SignaturePendingID != "" {
			pendingID = sql.NullString{String: cs.SignaturePendingID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, stmt, planID, cs.Ordinal, cs.Completed, string(cs.SignatureState), pendingID, cs.RetryCount); err != nil {
			return fmt.Errorf("insert class %d: %w", cs.Ordinal, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*domain.Plan, error) {
	var (
		p                    domain.Plan
		weekdays             string
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.StudentName, &p.Age, &p.GuardianName, &p.GuardianPhone, &p.PhoneDigits,
		&p.PlanType, &weekdays, &p.StartTime, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(weekdays), &p.Weekdays); err != nil {
		return nil, fmt.Errorf("decode weekdays of plan %s: %w", p.ID, err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (r *planRepository) loadClasses(ctx context.Context, p *domain.Plan) error {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`SELECT ordinal, completed, signature_state, signature_pending_id, retry_count
		FROM plan_classes WHERE plan_id = ? ORDER BY ordinal`), p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var classes []domain.ClassSession
	for rows.Next() {
		var (
			cs        domain.ClassSession
			state     string
			pendingID sql.NullString
		)
		if err := rows.Scan(&cs.Ordinal, &cs.Completed, &state, &pendingID, &cs.RetryCount); err != nil {
			return err
		}
		cs.SignatureState = domain.SignatureState(state)
		cs.SignaturePendingID = pendingID.String
		classes = append(classes, cs)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	p.Classes = domain.NormalizeClasses(classes, p.PlanType)
	return nil
}

func (r *planRepository) GetByID(ctx context.Context, id string) (*domain.Plan, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT `+planColumns+` FROM plans WHERE id = ?`), id)
	p, err := scanPlan(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadClasses(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *planRepository) Search(ctx context.Context, term string) (*domain.Plan, error) {
	needle := "%" + strings.ToLower(strings.TrimSpace(term)) + "%"
	digits := domain.DigitsOnly(term)
	row := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT `+planColumns+` FROM plans
		WHERE LOWER(student_name) LIKE ? OR (? <> '' AND phone_digits LIKE ?)
		ORDER BY created_at DESC, id DESC LIMIT 1`), needle, digits, "%"+digits+"%")
	p, err := scanPlan(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadClasses(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *planRepository) List(ctx context.Context) ([]domain.Plan, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	var plans []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		plans = append(plans, *p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}
	// classes are loaded after the cursor is closed; SQLite runs on a single connection
	for i := range plans {
		if err := r.loadClasses(ctx, &plans[i]); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func (r *planRepository) ReplaceClasses(ctx context.Context, id string, classes []domain.ClassSession) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.db.rebind(`UPDATE plans SET updated_at = ? WHERE id = ?`), formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return repository.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM plan_classes WHERE plan_id = ?`), id); err != nil {
		return err
	}
	if err := r.insertClasses(ctx, tx, id, classes); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *planRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM plan_classes WHERE plan_id = ?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM plans WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit()
}
