package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"spendwise/internal/ledger/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/sentinel"
	txcontext "spendwise/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store keeps sub-accounts in the buckets, positions, goals and
// spending_accounts tables. Apply should run inside the ledger's transaction.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) Available(ctx context.Context, user id.UserID) (int64, error) {
	var available int64
	err := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT available FROM spending_accounts WHERE user_id = $1`, uuid.UUID(user)).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get available: %w", err)
	}
	return available, nil
}

const bucketColumns = `name, balance, monthly_limit, monthly_spent, last_reset, active, created_at`

func scanBucket(row scanner) (*models.Bucket, error) {
	var b models.Bucket
	if err := row.Scan(&b.Name, &b.Balance, &b.MonthlyLimit, &b.MonthlySpent, &b.LastReset, &b.Active, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) Bucket(ctx context.Context, user id.UserID, name string) (*models.Bucket, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+bucketColumns+` FROM buckets WHERE user_id = $1 AND name = $2`, uuid.UUID(user), name)
	b, err := scanBucket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bucket: %w", err)
	}
	return b, nil
}

func (s *Store) ListBuckets(ctx context.Context, user id.UserID) ([]models.Bucket, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx,
		`SELECT `+bucketColumns+` FROM buckets WHERE user_id = $1 ORDER BY created_at, name`, uuid.UUID(user))
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()
	var out []models.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

const positionColumns = `id, adapter_id, principal, shares, yield_earned, last_valuation, last_valued_at, opened_at`

func scanPosition(row scanner) (*models.Position, error) {
	var (
		p              models.Position
		pid, adapterID uuid.UUID
	)
	if err := row.Scan(&pid, &adapterID, &p.Principal, &p.Shares, &p.YieldEarned, &p.LastValuation, &p.LastValuedAt, &p.OpenedAt); err != nil {
		return nil, err
	}
	p.ID = id.PositionID(pid)
	p.AdapterID = id.AdapterID(adapterID)
	return &p, nil
}

func (s *Store) getPosition(ctx context.Context, where string, args ...any) (*models.Position, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE `+where, args...)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

func (s *Store) Position(ctx context.Context, user id.UserID, positionID id.PositionID) (*models.Position, error) {
	return s.getPosition(ctx, `user_id = $1 AND id = $2`, uuid.UUID(user), uuid.UUID(positionID))
}

func (s *Store) PositionByAdapter(ctx context.Context, user id.UserID, adapterID id.AdapterID) (*models.Position, error) {
	return s.getPosition(ctx, `user_id = $1 AND adapter_id = $2`, uuid.UUID(user), uuid.UUID(adapterID))
}

func (s *Store) ListPositions(ctx context.Context, user id.UserID) ([]models.Position, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY opened_at, id`, uuid.UUID(user))
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()
	var out []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const goalColumns = `id, name, target_amount, current_amount, target_date, completed, completed_at, interest_earned, adapter_id, shares, created_at`

func scanGoal(row scanner) (*models.Goal, error) {
	var (
		g           models.Goal
		gid         uuid.UUID
		targetDate  sql.NullTime
		completedAt sql.NullTime
		adapterID   uuid.NullUUID
	)
	if err := row.Scan(&gid, &g.Name, &g.TargetAmount, &g.CurrentAmount, &targetDate, &g.Completed, &completedAt,
		&g.InterestEarned, &adapterID, &g.Shares, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.ID = id.GoalID(gid)
	if targetDate.Valid {
		t := targetDate.Time
		g.TargetDate = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		g.CompletedAt = &t
	}
	if adapterID.Valid {
		a := id.AdapterID(adapterID.UUID)
		g.AdapterID = &a
	}
	return &g, nil
}

func (s *Store) Goal(ctx context.Context, user id.UserID, goalID id.GoalID) (*models.Goal, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE user_id = $1 AND id = $2`, uuid.UUID(user), uuid.UUID(goalID))
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get goal: %w", err)
	}
	return g, nil
}

func (s *Store) ListGoals(ctx context.Context, user id.UserID) ([]models.Goal, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE user_id = $1 ORDER BY created_at, id`, uuid.UUID(user))
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()
	var out []models.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *Store) HasPositions(ctx context.Context, user id.UserID) (bool, error) {
	var exists bool
	err := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM positions WHERE user_id = $1)`, uuid.UUID(user)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check positions: %w", err)
	}
	return exists, nil
}

func (s *Store) PositionHolders(ctx context.Context) ([]id.UserID, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx,
		`SELECT DISTINCT user_id FROM positions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list position holders: %w", err)
	}
	defer rows.Close()
	var out []id.UserID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan position holder: %w", err)
		}
		out = append(out, id.UserID(u))
	}
	return out, rows.Err()
}

func (s *Store) Apply(ctx context.Context, user id.UserID, cs models.Changeset) error {
	exec := txcontext.Execer(ctx, s.db)
	uid := uuid.UUID(user)

	if cs.Available != nil {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO spending_accounts (user_id, available) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET available = EXCLUDED.available
		`, uid, *cs.Available); err != nil {
			return fmt.Errorf("save available: %w", err)
		}
	}

	for _, b := range cs.Buckets {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO buckets (user_id, name, balance, monthly_limit, monthly_spent, last_reset, active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, name) DO UPDATE SET
				balance = EXCLUDED.balance,
				monthly_limit = EXCLUDED.monthly_limit,
				monthly_spent = EXCLUDED.monthly_spent,
				last_reset = EXCLUDED.last_reset,
				active = EXCLUDED.active
		`, uid, b.Name, b.Balance, b.MonthlyLimit, b.MonthlySpent, b.LastReset, b.Active, b.CreatedAt); err != nil {
			return fmt.Errorf("save bucket %q: %w", b.Name, err)
		}
	}

	for _, p := range cs.Positions {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO positions (id, user_id, adapter_id, principal, shares, yield_earned, last_valuation, last_valued_at, opened_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				principal = EXCLUDED.principal,
				shares = EXCLUDED.shares,
				yield_earned = EXCLUDED.yield_earned,
				last_valuation = EXCLUDED.last_valuation,
				last_valued_at = EXCLUDED.last_valued_at
		`, uuid.UUID(p.ID), uid, uuid.UUID(p.AdapterID), p.Principal, p.Shares, p.YieldEarned, p.LastValuation, p.LastValuedAt, p.OpenedAt); err != nil {
			return fmt.Errorf("save position: %w", err)
		}
	}

	if len(cs.DeletedPositions) > 0 {
		ids := make([]string, len(cs.DeletedPositions))
		for i, pid := range cs.DeletedPositions {
			ids[i] = pid.String()
		}
		if _, err := exec.ExecContext(ctx,
			`DELETE FROM positions WHERE user_id = $1 AND id = ANY($2::uuid[])`, uid, pq.Array(ids)); err != nil {
			return fmt.Errorf("delete positions: %w", err)
		}
	}

	for _, g := range cs.Goals {
		var adapterID uuid.NullUUID
		if g.AdapterID != nil {
			adapterID = uuid.NullUUID{UUID: uuid.UUID(*g.AdapterID), Valid: true}
		}
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO goals (id, user_id, name, target_amount, current_amount, target_date, completed, completed_at,
				interest_earned, adapter_id, shares, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				current_amount = EXCLUDED.current_amount,
				completed = EXCLUDED.completed,
				completed_at = EXCLUDED.completed_at,
				interest_earned = EXCLUDED.interest_earned,
				shares = EXCLUDED.shares
		`, uuid.UUID(g.ID), uid, g.Name, g.TargetAmount, g.CurrentAmount, g.TargetDate, g.Completed, g.CompletedAt,
			g.InterestEarned, adapterID, g.Shares, g.CreatedAt); err != nil {
			return fmt.Errorf("save goal: %w", err)
		}
	}
	return nil
}
