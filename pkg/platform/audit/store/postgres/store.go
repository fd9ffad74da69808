package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	id "spendwise/pkg/domain"
	audit "spendwise/pkg/platform/audit"
	txcontext "spendwise/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store implements audit.Store using the transactional outbox pattern.
// Each event lands in ledger_events (queryable, ordered by seq) and in the
// outbox table, which the relay publishes to Kafka. Both inserts join the
// caller's transaction when one is in context.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Payload is the JSON structure written to the outbox and published to Kafka.
type Payload struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Timestamp   string `json:"timestamp"`
	Operation   string `json:"operation"`
	UserID      string `json:"user,omitempty"`
	AccountType string `json:"accountType,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Token       string `json:"token,omitempty"`
	FeeType     string `json:"feeType,omitempty"`
	OldValue    string `json:"oldValue,omitempty"`
	NewValue    string `json:"newValue,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
	ActorID     string `json:"actorId,omitempty"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID.IsNil() {
		event.ID = id.NewEventID()
	}
	if event.Category == "" {
		event.Category = audit.Operation(event.Operation).Category()
	}

	payload := Payload{
		ID:          event.ID.String(),
		Category:    string(event.Category),
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339Nano),
		Operation:   event.Operation,
		AccountType: event.AccountType,
		Identifier:  event.Identifier,
		Amount:      event.Amount,
		Token:       event.Token,
		FeeType:     event.FeeType,
		OldValue:    event.OldValue,
		NewValue:    event.NewValue,
		RequestID:   event.RequestID,
		ActorID:     event.ActorID,
	}
	var userID *uuid.UUID
	aggregateType, aggregateID := "config", event.ID.String()
	if !event.UserID.IsNil() {
		uid := uuid.UUID(event.UserID)
		userID = &uid
		payload.UserID = event.UserID.String()
		aggregateType, aggregateID = "user", event.UserID.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	exec := txcontext.Execer(ctx, s.db)
	_, err = exec.ExecContext(ctx, `
		INSERT INTO ledger_events (
			id, category, occurred_at, operation, user_id, account_type,
			identifier, amount, token, fee_type, old_value, new_value,
			request_id, actor_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		uuid.UUID(event.ID), string(event.Category), event.Timestamp, event.Operation, userID,
		event.AccountType, event.Identifier, event.Amount, event.Token, event.FeeType,
		event.OldValue, event.NewValue, event.RequestID, event.ActorID,
	)
	if err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), aggregateType, aggregateID, event.Operation, payloadBytes, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

const selectEvents = `
	SELECT id, category, occurred_at, operation, user_id, account_type,
		   identifier, amount, token, fee_type, old_value, new_value,
		   request_id, actor_id
	FROM ledger_events
`

// ListByUser returns a user's events in the order they were appended.
func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+` WHERE user_id = $1 ORDER BY seq ASC`, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+` ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			eventID  uuid.UUID
			category string
			userID   *uuid.UUID
		)
		if err := rows.Scan(
			&eventID, &category, &event.Timestamp, &event.Operation, &userID, &event.AccountType,
			&event.Identifier, &event.Amount, &event.Token, &event.FeeType, &event.OldValue,
			&event.NewValue, &event.RequestID, &event.ActorID,
		); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		event.ID = id.EventID(eventID)
		event.Category = audit.EventCategory(category)
		if userID != nil {
			event.UserID = id.UserID(*userID)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return events, nil
}

// OutboxEntry is an unpublished outbox row.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
}

// FetchUnpublished locks up to limit pending rows for the caller's
// transaction. Concurrent relays skip rows already locked.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, v := range ids {
		raw[i] = v.String()
	}
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx,
		`UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`, at, pq.Array(raw))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
