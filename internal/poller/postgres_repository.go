package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slotwatch/slotwatch/internal/appointment"
)

// PostgresRepository is a PostgreSQL implementation of HistoryRepository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL cycle history repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the poll_cycles table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS poll_cycles (
			id          UUID PRIMARY KEY,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			outcome     TEXT NOT NULL,
			policy      TEXT NOT NULL,
			slots       JSONB NOT NULL DEFAULT '[]',
			channel     TEXT NOT NULL DEFAULT '',
			message     TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS poll_cycles_started_at_idx ON poll_cycles (started_at DESC);
	`

	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create poll_cycles table: %w", err)
	}
	return nil
}

// slotRow is the JSON form of a slot in the slots column.
type slotRow struct {
	LocationID int       `json:"location_id"`
	Start      time.Time `json:"start"`
	Active     int       `json:"active"`
}

// Record inserts a cycle result.
func (r *PostgresRepository) Record(ctx context.Context, result *CycleResult) error {
	rows := make([]slotRow, 0, len(result.Slots))
	for _, s := range result.Slots {
		rows = append(rows, slotRow{LocationID: s.LocationID, Start: s.Start, Active: s.Active})
	}
	slots, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}

	query := `
		INSERT INTO poll_cycles (
			id, started_at, finished_at, outcome, policy, slots, channel, message, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.pool.Exec(ctx, query,
		result.ID,
		result.StartedAt,
		result.FinishedAt,
		string(result.Outcome),
		string(result.Policy),
		slots,
		result.Channel,
		result.Message,
		result.Error,
	)
	if err != nil {
		return fmt.Errorf("insert poll cycle: %w", err)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]*CycleResult, error) {
	if limit <= 0 {
		limit = DefaultHistorySize
	}

	query := `
		SELECT id, started_at, finished_at, outcome, policy, slots, channel, message, error
		FROM poll_cycles
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query poll cycles: %w", err)
	}
	defer rows.Close()

	var results []*CycleResult
	for rows.Next() {
		var (
			result  CycleResult
			outcome string
			policy  string
			slots   []byte
		)
		if err := rows.Scan(
			&result.ID,
			&result.StartedAt,
			&result.FinishedAt,
			&outcome,
			&policy,
			&slots,
			&result.Channel,
			&result.Message,
			&result.Error,
		); err != nil {
			return nil, fmt.Errorf("scan poll cycle: %w", err)
		}

		var decoded []slotRow
		if err := json.Unmarshal(slots, &decoded); err != nil {
			return nil, fmt.Errorf("decode slots for cycle %s: %w", result.ID, err)
		}
		for _, s := range decoded {
			result.Slots = append(result.Slots, appointment.Slot{LocationID: s.LocationID, Start: s.Start, Active: s.Active})
		}

		result.Outcome = Outcome(outcome)
		result.Policy = appointment.Policy(policy)
		results = append(results, &result)
	}

	return results, rows.Err()
}
