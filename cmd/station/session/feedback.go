package session

import "github.com/lyzr/assembly/cmd/station/models"

// FeedbackKind is the outcome of a scan
type FeedbackKind string

const (
	FeedbackSuccess                FeedbackKind = "success"
	FeedbackRejected               FeedbackKind = "rejected"
	FeedbackDuplicate              FeedbackKind = "duplicate"
	FeedbackNoOp                   FeedbackKind = "noop"
	FeedbackBusy                   FeedbackKind = "busy"
	FeedbackDegradedUnacknowledged FeedbackKind = "degraded_unacknowledged"
	FeedbackClosed                 FeedbackKind = "closed"
)

// Feedback is returned by HandleScan for the caller to render
type Feedback struct {
	Kind    FeedbackKind `json:"kind"`
	Barcode string       `json:"barcode"`
	Message string       `json:"message"`

	// Entry is the component the scan was judged against, as of after the scan
	Entry *models.ScanEntry `json:"entry,omitempty"`

	Remaining int   `json:"remaining"`
	State     State `json:"state"`

	// Degraded is set when the scan was accepted without a verification code
	Degraded bool `json:"degraded"`

	// Fault is set when the next component's code has an unsupported length
	// and no barcode can satisfy it until the variant is reconfigured
	Fault bool `json:"fault"`

	Error error `json:"-"`
}

// Accepted reports whether the scan was recorded
func (f Feedback) Accepted() bool {
	return f.Kind == FeedbackSuccess
}

// Blocking reports whether the scan hit a fault the operator cannot scan past
func (f Feedback) Blocking() bool {
	return models.IsBlocking(f.Error)
}

// Snapshot is a point-in-time copy of a session
type Snapshot struct {
	ID                   string             `json:"id"`
	AssemblyID           string             `json:"assembly_id"`
	WorkOrderID          string             `json:"work_order_id,omitempty"`
	VariantID            string             `json:"variant_id"`
	IsRework             bool               `json:"is_rework"`
	State                State              `json:"state"`
	Closed               bool               `json:"closed"`
	Degraded             bool               `json:"degraded"`
	DegradedAcknowledged bool               `json:"degraded_acknowledged"`
	Entries              []models.ScanEntry `json:"entries"`
	Next                 *models.ScanEntry  `json:"next,omitempty"`
	Scanned              int                `json:"scanned"`
	Total                int                `json:"total"`
}
