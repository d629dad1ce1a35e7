// Package repository stores assembly records that still need the backend.
//
// Records are appended when a completion falls back to a local barcode or
// when the work order update fails. The reconciler later resubmits them and
// marks them reconciled; rows are never deleted.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/assembly/cmd/station/models"
)

// ErrRecordNotFound is returned for an unknown record id
var ErrRecordNotFound = errors.New("fallback record not found")

// FallbackRecord is a stored record with its reconciliation state
type FallbackRecord struct {
	models.AssemblyRecord

	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	ReconciledAt  *time.Time `json:"reconciled_at,omitempty"`
	ServerBarcode string     `json:"server_barcode,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// FallbackRepository is the durable store of pending records
type FallbackRepository interface {
	Append(ctx context.Context, record models.AssemblyRecord) error
	Get(ctx context.Context, recordID string) (*FallbackRecord, error)
	ListPending(ctx context.Context, limit int) ([]FallbackRecord, error)
	MarkSubmitted(ctx context.Context, recordID, serverBarcode string) error
	MarkReconciled(ctx context.Context, recordID, serverBarcode string) error
	MarkAttempt(ctx context.Context, recordID string, cause error) error
}

// fallbackRow is the table layout shared by both backends
type fallbackRow struct {
	RecordID         string     `gorm:"column:record_id;primaryKey;type:varchar(64)"`
	SessionID        string     `gorm:"column:session_id;type:varchar(64);not null;index"`
	AssemblyID       string     `gorm:"column:assembly_id;type:varchar(128);not null"`
	VariantID        string     `gorm:"column:variant_id;type:varchar(64);not null"`
	WorkOrderID      string     `gorm:"column:work_order_id;type:varchar(128)"`
	GeneratedBarcode string     `gorm:"column:generated_barcode;type:varchar(255);not null"`
	Source           string     `gorm:"column:source;type:varchar(16);not null"`
	Stage            string     `gorm:"column:stage;type:varchar(16);not null"`
	IsRework         bool       `gorm:"column:is_rework;not null;default:false"`
	Degraded         bool       `gorm:"column:degraded;not null;default:false"`
	Components       string     `gorm:"column:components;type:text;not null"`
	CompletedAt      time.Time  `gorm:"column:completed_at;not null"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;index"`
	Attempts         int        `gorm:"column:attempts;not null;default:0"`
	LastError        string     `gorm:"column:last_error;type:text"`
	LastAttemptAt    *time.Time `gorm:"column:last_attempt_at"`
	ReconciledAt     *time.Time `gorm:"column:reconciled_at;index"`
	ServerBarcode    string     `gorm:"column:server_barcode;type:varchar(255)"`
}

func (fallbackRow) TableName() string {
	return "assembly_fallback_record"
}

func toRow(record models.AssemblyRecord, now time.Time) (fallbackRow, error) {
	if record.RecordID == "" {
		return fallbackRow{}, errors.New("fallback record has no id")
	}

	components, err := json.Marshal(record.Components)
	if err != nil {
		return fallbackRow{}, fmt.Errorf("failed to marshal components: %w", err)
	}

	return fallbackRow{
		RecordID:         record.RecordID,
		SessionID:        record.SessionID,
		AssemblyID:       record.AssemblyID,
		VariantID:        record.VariantID,
		WorkOrderID:      record.WorkOrderID,
		GeneratedBarcode: record.GeneratedBarcode,
		Source:           string(record.Source),
		Stage:            string(record.ReconcileStage),
		IsRework:         record.IsRework,
		Degraded:         record.Degraded,
		Components:       string(components),
		CompletedAt:      record.CompletedAt.UTC(),
		CreatedAt:        now.UTC(),
	}, nil
}

func (r fallbackRow) toRecord() (FallbackRecord, error) {
	var components []models.ScannedComponent
	if err := json.Unmarshal([]byte(r.Components), &components); err != nil {
		return FallbackRecord{}, fmt.Errorf("failed to unmarshal components of %s: %w", r.RecordID, err)
	}

	return FallbackRecord{
		AssemblyRecord: models.AssemblyRecord{
			RecordID:              r.RecordID,
			SessionID:             r.SessionID,
			AssemblyID:            r.AssemblyID,
			VariantID:             r.VariantID,
			WorkOrderID:           r.WorkOrderID,
			GeneratedBarcode:      r.GeneratedBarcode,
			CompletedAt:           r.CompletedAt,
			Components:            components,
			Source:                models.RecordSource(r.Source),
			PendingReconciliation: r.ReconciledAt == nil,
			ReconcileStage:        models.ReconcileStage(r.Stage),
			IsRework:              r.IsRework,
			Degraded:              r.Degraded,
		},
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		LastAttemptAt: r.LastAttemptAt,
		ReconciledAt:  r.ReconciledAt,
		ServerBarcode: r.ServerBarcode,
		CreatedAt:     r.CreatedAt,
	}, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
