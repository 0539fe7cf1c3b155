package deadletter

import (
	"context"
	"database/sql"
	"fmt"

	"sampleflow/pkg/models"
)

// PostgresSink is the SQL alternative for deployments that already run
// Postgres and want dead letters inspectable next to their other tables.
type PostgresSink struct {
	db    *sql.DB
	table string
}

func NewPostgresSink(ctx context.Context, db *sql.DB, table string) (*PostgresSink, error) {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id               TEXT PRIMARY KEY,
			sample_id        TEXT NOT NULL,
			topic            TEXT NOT NULL,
			partition        INT NOT NULL,
			"offset"         BIGINT NOT NULL,
			payload          BYTEA,
			stage            TEXT NOT NULL,
			reason           TEXT NOT NULL,
			attempts         INT NOT NULL,
			first_seen       TIMESTAMPTZ,
			dead_lettered_at TIMESTAMPTZ NOT NULL
		)
	`, table)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure dead letter table: %w", err)
	}

	indexStmt := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_sample_id ON %s (sample_id)`,
		table, table,
	)
	if _, err := db.ExecContext(ctx, indexStmt); err != nil {
		return nil, fmt.Errorf("failed to ensure dead letter index: %w", err)
	}

	return &PostgresSink{db: db, table: table}, nil
}

func (s *PostgresSink) Append(ctx context.Context, rec models.DeadLetterRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
			(id, sample_id, topic, partition, "offset", payload, stage, reason, attempts, first_seen, dead_lettered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, s.table)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SampleID, rec.Topic, rec.Partition, rec.Offset,
		rec.Payload, rec.Stage, rec.Reason, rec.Attempts,
		rec.FirstSeen, rec.DeadLetteredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append dead letter: %w", err)
	}
	return nil
}

// Close is a no-op; the database handle is owned and closed by the caller.
func (s *PostgresSink) Close(_ context.Context) error {
	return nil
}
