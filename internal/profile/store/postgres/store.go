package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/sentinel"
	txcontext "spendwise/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	var (
		p     models.Profile
		types []string
		flags int64
	)
	err := txcontext.Execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT initialized, total_balance, last_activity, account_types, feature_flags, created_at
		FROM profiles WHERE user_id = $1
	`, uuid.UUID(userID)).Scan(&p.Initialized, &p.TotalBalance, &p.LastActivity, pq.Array(&types), &flags, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	set, err := models.ParseAccountTypes(types)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.UserID = userID
	p.AccountTypes = set
	p.FeatureFlags = uint64(flags)
	return &p, nil
}

func (s *Store) Save(ctx context.Context, p models.Profile) error {
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO profiles (user_id, initialized, total_balance, last_activity, account_types, feature_flags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			initialized = EXCLUDED.initialized,
			total_balance = EXCLUDED.total_balance,
			last_activity = EXCLUDED.last_activity,
			account_types = EXCLUDED.account_types,
			feature_flags = EXCLUDED.feature_flags
	`, uuid.UUID(p.UserID), p.Initialized, p.TotalBalance, p.LastActivity, pq.Array(p.AccountTypes.Strings()), int64(p.FeatureFlags), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
