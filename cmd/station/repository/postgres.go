package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/common/db"
)

// Schema creates the fallback table on a site Postgres database
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS assembly_fallback_record (
		record_id         VARCHAR(64) PRIMARY KEY,
		session_id        VARCHAR(64) NOT NULL,
		assembly_id       VARCHAR(128) NOT NULL,
		variant_id        VARCHAR(64) NOT NULL,
		work_order_id     VARCHAR(128) NOT NULL DEFAULT '',
		generated_barcode VARCHAR(255) NOT NULL,
		source            VARCHAR(16) NOT NULL,
		stage             VARCHAR(16) NOT NULL,
		is_rework         BOOLEAN NOT NULL DEFAULT FALSE,
		degraded          BOOLEAN NOT NULL DEFAULT FALSE,
		components        JSONB NOT NULL,
		completed_at      TIMESTAMPTZ NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		attempts          INTEGER NOT NULL DEFAULT 0,
		last_error        TEXT NOT NULL DEFAULT '',
		last_attempt_at   TIMESTAMPTZ,
		reconciled_at     TIMESTAMPTZ,
		server_barcode    VARCHAR(255) NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assembly_fallback_pending
		ON assembly_fallback_record (created_at)
		WHERE reconciled_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_assembly_fallback_session
		ON assembly_fallback_record (session_id)`,
}

const fallbackColumns = `record_id, session_id, assembly_id, variant_id, work_order_id,
	generated_barcode, source, stage, is_rework, degraded, components::text,
	completed_at, created_at, attempts, last_error, last_attempt_at,
	reconciled_at, server_barcode`

// PostgresFallbackRepository stores fallback records in the site database
type PostgresFallbackRepository struct {
	db *db.DB
}

// NewPostgresFallbackRepository creates a new Postgres fallback repository.
// The table is expected to exist; see Schema.
func NewPostgresFallbackRepository(database *db.DB) *PostgresFallbackRepository {
	return &PostgresFallbackRepository{db: database}
}

// Append inserts a record
func (r *PostgresFallbackRepository) Append(ctx context.Context, record models.AssemblyRecord) error {
	row, err := toRow(record, time.Now())
	if err != nil {
		return err
	}

	query := `
		INSERT INTO assembly_fallback_record (
			record_id, session_id, assembly_id, variant_id, work_order_id,
			generated_barcode, source, stage, is_rework, degraded, components,
			completed_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13)
	`

	_, err = r.db.Exec(
		ctx,
		query,
		row.RecordID,
		row.SessionID,
		row.AssemblyID,
		row.VariantID,
		row.WorkOrderID,
		row.GeneratedBarcode,
		row.Source,
		row.Stage,
		row.IsRework,
		row.Degraded,
		row.Components,
		row.CompletedAt,
		row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append fallback record: %w", err)
	}
	return nil
}

// Get retrieves a record by id
func (r *PostgresFallbackRepository) Get(ctx context.Context, recordID string) (*FallbackRecord, error) {
	query := `SELECT ` + fallbackColumns + ` FROM assembly_fallback_record WHERE record_id = $1`

	row, err := scanRow(r.db.QueryRow(ctx, query, recordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fallback record: %w", err)
	}

	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPending returns unreconciled records, oldest first
func (r *PostgresFallbackRepository) ListPending(ctx context.Context, limit int) ([]FallbackRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT ` + fallbackColumns + `
		FROM assembly_fallback_record
		WHERE reconciled_at IS NULL
		ORDER BY created_at ASC, record_id ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending fallback records: %w", err)
	}
	defer rows.Close()

	var out []FallbackRecord
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fallback record: %w", err)
		}
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fallback records: %w", err)
	}
	return out, nil
}

// MarkSubmitted records that the backend accepted the assembly while the
// work order update is still outstanding
func (r *PostgresFallbackRepository) MarkSubmitted(ctx context.Context, recordID, serverBarcode string) error {
	query := `
		UPDATE assembly_fallback_record
		SET stage = $2, server_barcode = $3
		WHERE record_id = $1 AND reconciled_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, recordID, string(models.StageProgress), serverBarcode)
	if err != nil {
		return fmt.Errorf("failed to mark fallback record submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkReconciled records that the backend accepted the record
func (r *PostgresFallbackRepository) MarkReconciled(ctx context.Context, recordID, serverBarcode string) error {
	query := `
		UPDATE assembly_fallback_record
		SET reconciled_at = now(), last_attempt_at = now(), server_barcode = $2,
			last_error = '', attempts = attempts + 1
		WHERE record_id = $1
	`

	tag, err := r.db.Exec(ctx, query, recordID, serverBarcode)
	if err != nil {
		return fmt.Errorf("failed to mark fallback record reconciled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkAttempt records a failed reconciliation attempt
func (r *PostgresFallbackRepository) MarkAttempt(ctx context.Context, recordID string, cause error) error {
	query := `
		UPDATE assembly_fallback_record
		SET last_attempt_at = now(), last_error = $2, attempts = attempts + 1
		WHERE record_id = $1
	`

	tag, err := r.db.Exec(ctx, query, recordID, errorText(cause))
	if err != nil {
		return fmt.Errorf("failed to record reconciliation attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func scanRow(row pgx.Row) (fallbackRow, error) {
	var r fallbackRow
	err := row.Scan(
		&r.RecordID,
		&r.SessionID,
		&r.AssemblyID,
		&r.VariantID,
		&r.WorkOrderID,
		&r.GeneratedBarcode,
		&r.Source,
		&r.Stage,
		&r.IsRework,
		&r.Degraded,
		&r.Components,
		&r.CompletedAt,
		&r.CreatedAt,
		&r.Attempts,
		&r.LastError,
		&r.LastAttemptAt,
		&r.ReconciledAt,
		&r.ServerBarcode,
	)
	return r, err
}
