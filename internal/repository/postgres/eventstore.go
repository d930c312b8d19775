package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loom/internal/domain"
	"loom/internal/domain/models"
	"loom/internal/domain/repositories"
)

// EventStore implements the append-only event log on Postgres. Sequence
// assignment rides on BIGSERIAL: the number is allocated by the same INSERT
// that persists the row, so no sequence is ever handed out without a durable
// event behind it.
type EventStore struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewEventStore creates a Postgres-backed event store.
func NewEventStore(config *RepositoryConfig) repositories.EventStore {
	return &EventStore{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Append persists one envelope and returns its assigned sequence number.
// A colliding event id fails with domain.DuplicateEventError; the row count
// is unchanged, which is how retried writes are detected as no-ops.
func (s *EventStore) Append(ctx context.Context, env *models.Envelope) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (event_id, tree_id, ts, origin, actor_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, s.tables.Events)

	executor := GetExecutor(ctx, s.pool)
	err := executor.QueryRow(ctx, query,
		env.EventID,
		env.TreeID,
		env.Timestamp,
		env.Origin,
		env.ActorID,
		string(env.Type),
		[]byte(env.Payload),
	).Scan(&env.Seq)

	if err != nil {
		if IsPgDuplicateError(err) {
			return 0, &domain.DuplicateEventError{EventID: env.EventID}
		}
		return 0, fmt.Errorf("append event: %w", err)
	}

	return env.Seq, nil
}

// GetEvents returns all envelopes for a tree, ascending by sequence.
func (s *EventStore) GetEvents(ctx context.Context, treeID string) ([]models.Envelope, error) {
	query := fmt.Sprintf(`
		SELECT seq, event_id, tree_id, ts, origin, actor_id, event_type, payload
		FROM %s
		WHERE tree_id = $1
		ORDER BY seq ASC
	`, s.tables.Events)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, treeID)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	return scanEnvelopes(rows)
}

// GetEventsSince returns all envelopes across trees with seq strictly
// greater than the given sequence number, ascending.
func (s *EventStore) GetEventsSince(ctx context.Context, seq int64) ([]models.Envelope, error) {
	query := fmt.Sprintf(`
		SELECT seq, event_id, tree_id, ts, origin, actor_id, event_type, payload
		FROM %s
		WHERE seq > $1
		ORDER BY seq ASC
	`, s.tables.Events)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, seq)
	if err != nil {
		return nil, fmt.Errorf("get events since %d: %w", seq, err)
	}
	defer rows.Close()

	return scanEnvelopes(rows)
}

func scanEnvelopes(rows pgx.Rows) ([]models.Envelope, error) {
	var envelopes []models.Envelope
	for rows.Next() {
		var env models.Envelope
		var eventType string
		var payload []byte
		if err := rows.Scan(
			&env.Seq,
			&env.EventID,
			&env.TreeID,
			&env.Timestamp,
			&env.Origin,
			&env.ActorID,
			&eventType,
			&payload,
		); err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		env.Type = models.EventType(eventType)
		env.Payload = payload
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelopes: %w", err)
	}
	return envelopes, nil
}
