package models

import (
	"time"

	"github.com/lyzr/assembly/common/clients"
)

// ComponentDefinition is one physical part of a variant
type ComponentDefinition struct {
	ID          string `json:"id"`
	ItemCode    string `json:"item_code"`
	DisplayName string `json:"display_name"`
	Sequence    int    `json:"sequence"`

	// nil until resolved from the inventory service; nil after hydration
	// means the component validates in degraded mode
	VerificationCode *string `json:"verification_code"`
}

// HasCode reports whether a verification code is known
func (d ComponentDefinition) HasCode() bool {
	return d.VerificationCode != nil
}

// Variant is a product configuration with an ordered component list
type Variant struct {
	ID         string                `json:"id"`
	Family     string                `json:"family"`
	Name       string                `json:"name"`
	Subtitle   string                `json:"subtitle,omitempty"`
	Components []ComponentDefinition `json:"components"`
}

// ScanEntry is the per-session state of one component
type ScanEntry struct {
	ComponentDefinition
	Scanned        bool      `json:"scanned"`
	ScannedBarcode string    `json:"scanned_barcode,omitempty"`
	ScannedAt      time.Time `json:"scanned_at,omitempty"`
}

// RecordSource tells who issued an assembly barcode
type RecordSource string

const (
	SourceServer RecordSource = "server"
	SourceLocal  RecordSource = "local"
)

// ReconcileStage names the backend call a pending record still needs
type ReconcileStage string

const (
	StageNone     ReconcileStage = ""
	StageSubmit   ReconcileStage = "submit"
	StageProgress ReconcileStage = "progress"
)

// ScannedComponent is one line of a completed assembly
type ScannedComponent struct {
	ComponentID    string `json:"component_id"`
	ItemCode       string `json:"item_code"`
	ScannedBarcode string `json:"scanned_barcode"`
	Sequence       int    `json:"sequence"`
}

// AssemblyRecord is produced when a unit is completed
type AssemblyRecord struct {
	RecordID              string             `json:"record_id"`
	SessionID             string             `json:"session_id"`
	AssemblyID            string             `json:"assembly_id"`
	VariantID             string             `json:"variant_id"`
	WorkOrderID           string             `json:"work_order_id,omitempty"`
	GeneratedBarcode      string             `json:"generated_barcode"`
	CompletedAt           time.Time          `json:"completed_at"`
	Components            []ScannedComponent `json:"components"`
	Source                RecordSource       `json:"source"`
	PendingReconciliation bool               `json:"pending_reconciliation"`
	ReconcileStage        ReconcileStage     `json:"reconcile_stage,omitempty"`
	IsRework              bool               `json:"is_rework"`
	Degraded              bool               `json:"degraded"`
}

// Scans converts the record's components to the backend wire type
func (r AssemblyRecord) Scans() []clients.ComponentScan {
	out := make([]clients.ComponentScan, len(r.Components))
	for i, c := range r.Components {
		out[i] = clients.ComponentScan{
			ComponentID:    c.ComponentID,
			ItemCode:       c.ItemCode,
			ScannedBarcode: c.ScannedBarcode,
			Sequence:       c.Sequence,
		}
	}
	return out
}

// Submission builds the backend submission for the record
func (r AssemblyRecord) Submission() clients.AssemblySubmission {
	sub := clients.AssemblySubmission{
		AssemblyID:  r.AssemblyID,
		VariantID:   r.VariantID,
		WorkOrderID: r.WorkOrderID,
		Components:  r.Scans(),
		CompletedAt: r.CompletedAt,
		IsRework:    r.IsRework,
	}
	if r.Source == SourceLocal {
		sub.LocalBarcode = r.GeneratedBarcode
	}
	return sub
}
