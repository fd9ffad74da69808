package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spendwise/internal/adapter/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/sentinel"
	txcontext "spendwise/pkg/platform/tx"

	"github.com/google/uuid"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectDescriptor = `SELECT id, name, kind, contract_ref, active, registered_at, deactivated_at FROM adapters`

func (s *Store) Save(ctx context.Context, d models.Descriptor) error {
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO adapters (id, name, kind, contract_ref, active, registered_at, deactivated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			contract_ref = EXCLUDED.contract_ref,
			active = EXCLUDED.active,
			deactivated_at = EXCLUDED.deactivated_at
	`, uuid.UUID(d.ID), d.Name, string(d.Kind), d.ContractRef, d.Active, d.RegisteredAt, d.DeactivatedAt)
	if err != nil {
		return fmt.Errorf("save adapter: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, adapterID id.AdapterID) (*models.Descriptor, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx, selectDescriptor+` WHERE id = $1`, uuid.UUID(adapterID))
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get adapter: %w", err)
	}
	return d, nil
}

func (s *Store) List(ctx context.Context) ([]models.Descriptor, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, selectDescriptor+` ORDER BY registered_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list adapters: %w", err)
	}
	defer rows.Close()

	var out []models.Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adapter: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) SetActive(ctx context.Context, adapterID id.AdapterID, active bool, deactivatedAt *time.Time) error {
	res, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		UPDATE adapters SET active = $2, deactivated_at = $3 WHERE id = $1
	`, uuid.UUID(adapterID), active, deactivatedAt)
	if err != nil {
		return fmt.Errorf("set adapter active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set adapter active: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(row scanner) (*models.Descriptor, error) {
	var (
		d           models.Descriptor
		rawID       uuid.UUID
		kind        string
		deactivated sql.NullTime
	)
	if err := row.Scan(&rawID, &d.Name, &kind, &d.ContractRef, &d.Active, &d.RegisteredAt, &deactivated); err != nil {
		return nil, err
	}
	d.ID = id.AdapterID(rawID)
	d.Kind = models.Kind(kind)
	if deactivated.Valid {
		t := deactivated.Time
		d.DeactivatedAt = &t
	}
	return &d, nil
}
