package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"spendwise/internal/fee/models"
	pgplatform "spendwise/internal/platform/postgres"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/sentinel"
	txcontext "spendwise/pkg/platform/tx"

	"github.com/google/uuid"
)

// Store persists fee state. fee_config holds a single row keyed by id=1.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) LoadConfig(ctx context.Context) (*models.Config, error) {
	var cfg models.Config
	err := txcontext.Execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT spending_bps, investment_bps, savings_bps, protocol_share_bps, policy_id, updated_at
		FROM fee_config WHERE id = 1
	`).Scan(&cfg.SpendingFeeBPS, &cfg.InvestmentFeeBPS, &cfg.SavingsFeeBPS, &cfg.ProtocolShareBPS, &cfg.PolicyID, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load fee config: %w", err)
	}
	return &cfg, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg models.Config) error {
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO fee_config (id, spending_bps, investment_bps, savings_bps, protocol_share_bps, policy_id, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			spending_bps = EXCLUDED.spending_bps,
			investment_bps = EXCLUDED.investment_bps,
			savings_bps = EXCLUDED.savings_bps,
			protocol_share_bps = EXCLUDED.protocol_share_bps,
			policy_id = EXCLUDED.policy_id,
			updated_at = EXCLUDED.updated_at
	`, cfg.SpendingFeeBPS, cfg.InvestmentFeeBPS, cfg.SavingsFeeBPS, cfg.ProtocolShareBPS, cfg.PolicyID, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save fee config: %w", err)
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]models.PolicySpec, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT id, policy_type, tiers, discount_bps, created_at FROM fee_policies ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list fee policies: %w", err)
	}
	defer rows.Close()

	var out []models.PolicySpec
	for rows.Next() {
		var (
			spec  models.PolicySpec
			tiers []byte
		)
		if err := rows.Scan(&spec.ID, &spec.Type, &tiers, &spec.DiscountBPS, &spec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fee policy: %w", err)
		}
		if len(tiers) > 0 {
			if err := json.Unmarshal(tiers, &spec.Tiers); err != nil {
				return nil, fmt.Errorf("decode tiers for %q: %w", spec.ID, err)
			}
		}
		out = append(out, spec)
	}
	return out, rows.Err()
}

func (s *Store) SavePolicy(ctx context.Context, spec models.PolicySpec) error {
	tiers, err := json.Marshal(spec.Tiers)
	if err != nil {
		return fmt.Errorf("encode tiers: %w", err)
	}
	_, err = txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO fee_policies (id, policy_type, tiers, discount_bps, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, spec.ID, string(spec.Type), tiers, spec.DiscountBPS, spec.CreatedAt)
	if err != nil {
		if pgplatform.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save fee policy: %w", err)
	}
	return nil
}

func (s *Store) AddVolume(ctx context.Context, userID id.UserID, amount int64) error {
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO fee_volume (user_id, volume) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET volume = fee_volume.volume + EXCLUDED.volume
	`, uuid.UUID(userID), amount)
	if err != nil {
		return fmt.Errorf("add volume: %w", err)
	}
	return nil
}

func (s *Store) Volume(ctx context.Context, userID id.UserID) (int64, error) {
	var v int64
	err := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT volume FROM fee_volume WHERE user_id = $1`, uuid.UUID(userID)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load volume: %w", err)
	}
	return v, nil
}

func (s *Store) AddCollected(ctx context.Context, kind models.Kind, split models.Split) error {
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO fee_collected (kind, protocol, treasury) VALUES ($1, $2, $3)
		ON CONFLICT (kind) DO UPDATE SET
			protocol = fee_collected.protocol + EXCLUDED.protocol,
			treasury = fee_collected.treasury + EXCLUDED.treasury
	`, string(kind), split.Protocol, split.Treasury)
	if err != nil {
		return fmt.Errorf("add collected fee: %w", err)
	}
	return nil
}

func (s *Store) Collected(ctx context.Context) (models.Collected, error) {
	out := models.Collected{ByKind: make(map[models.Kind]int64)}
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `SELECT kind, protocol, treasury FROM fee_collected`)
	if err != nil {
		return out, fmt.Errorf("load collected fees: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind               string
			protocol, treasury int64
		)
		if err := rows.Scan(&kind, &protocol, &treasury); err != nil {
			return out, fmt.Errorf("scan collected fee: %w", err)
		}
		out.Protocol += protocol
		out.Treasury += treasury
		out.ByKind[models.Kind(kind)] = protocol + treasury
	}
	return out, rows.Err()
}
