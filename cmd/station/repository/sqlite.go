package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lyzr/assembly/cmd/station/models"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite opens (creating if needed) the station-local database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// sqlite allows one writer at a time
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// SQLiteFallbackRepository stores fallback records in a station-local
// SQLite database
type SQLiteFallbackRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLiteFallbackRepository migrates the fallback table and returns the
// repository
func NewSQLiteFallbackRepository(db *gorm.DB) (*SQLiteFallbackRepository, error) {
	if err := db.AutoMigrate(&fallbackRow{}); err != nil {
		return nil, fmt.Errorf("migrate fallback table: %w", err)
	}
	return &SQLiteFallbackRepository{db: db, now: time.Now}, nil
}

// Append inserts a record
func (r *SQLiteFallbackRepository) Append(ctx context.Context, record models.AssemblyRecord) error {
	row, err := toRow(record, r.now())
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append fallback record: %w", err)
	}
	return nil
}

// Get retrieves a record by id
func (r *SQLiteFallbackRepository) Get(ctx context.Context, recordID string) (*FallbackRecord, error) {
	var row fallbackRow
	err := r.db.WithContext(ctx).Where("record_id = ?", recordID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
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
func (r *SQLiteFallbackRepository) ListPending(ctx context.Context, limit int) ([]FallbackRecord, error) {
	q := r.db.WithContext(ctx).
		Where("reconciled_at IS NULL").
		Order("created_at ASC, record_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []fallbackRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending fallback records: %w", err)
	}

	out := make([]FallbackRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarkSubmitted records that the backend accepted the assembly while the
// work order update is still outstanding
func (r *SQLiteFallbackRepository) MarkSubmitted(ctx context.Context, recordID, serverBarcode string) error {
	res := r.db.WithContext(ctx).Model(&fallbackRow{}).
		Where("record_id = ? AND reconciled_at IS NULL", recordID).
		Updates(map[string]interface{}{
			"stage":          string(models.StageProgress),
			"server_barcode": serverBarcode,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark fallback record submitted: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkReconciled records that the backend accepted the record
func (r *SQLiteFallbackRepository) MarkReconciled(ctx context.Context, recordID, serverBarcode string) error {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).Model(&fallbackRow{}).
		Where("record_id = ?", recordID).
		Updates(map[string]interface{}{
			"reconciled_at":   now,
			"last_attempt_at": now,
			"server_barcode":  serverBarcode,
			"last_error":      "",
			"attempts":        gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark fallback record reconciled: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkAttempt records a failed reconciliation attempt
func (r *SQLiteFallbackRepository) MarkAttempt(ctx context.Context, recordID string, cause error) error {
	res := r.db.WithContext(ctx).Model(&fallbackRow{}).
		Where("record_id = ?", recordID).
		Updates(map[string]interface{}{
			"last_attempt_at": r.now().UTC(),
			"last_error":      errorText(cause),
			"attempts":        gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record reconciliation attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
