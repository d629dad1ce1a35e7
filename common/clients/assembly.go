package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrEmptyBarcode is returned when the backend accepts a submission but
// does not issue a barcode
var ErrEmptyBarcode = errors.New("backend returned an empty assembly barcode")

// ComponentScan is one scanned component as sent to the backend
type ComponentScan struct {
	ComponentID    string `json:"component_id"`
	ItemCode       string `json:"item_code"`
	ScannedBarcode string `json:"scanned_barcode"`
	Sequence       int    `json:"sequence"`
}

// AssemblySubmission is the body of a completed-assembly submission
type AssemblySubmission struct {
	AssemblyID   string          `json:"assembly_id"`
	VariantID    string          `json:"variant_id"`
	WorkOrderID  string          `json:"work_order_id,omitempty"`
	Components   []ComponentScan `json:"scanned_components"`
	CompletedAt  time.Time       `json:"completed_at"`
	CompletedBy  string          `json:"completed_by,omitempty"`
	IsRework     bool            `json:"is_rework"`
	LocalBarcode string          `json:"local_barcode,omitempty"`
}

// SubmitResult carries the canonical barcode issued by the backend
type SubmitResult struct {
	GeneratedBarcode string `json:"barcode_number"`
}

// WorkOrderProgress is the unit progress of a work order
type WorkOrderProgress struct {
	WorkOrderID       string `json:"work_order_id,omitempty"`
	CompletedQuantity int    `json:"completed_quantity"`
	Quantity          int    `json:"quantity"`
}

// Finished reports whether every required unit has been completed
func (p WorkOrderProgress) Finished() bool {
	return p.CompletedQuantity >= p.Quantity
}

// AssemblyClient talks to the assembly persistence backend
type AssemblyClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// NewAssemblyClient creates a new assembly persistence client
func NewAssemblyClient(baseURL string, timeout time.Duration, logger Logger) *AssemblyClient {
	return &AssemblyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    NewHTTPClient(&http.Client{Timeout: timeout}, logger),
		logger:  logger,
	}
}

// SubmitAssembly records a completed unit and returns the issued barcode
// POST /api/assembly-process/{id}/complete/
func (c *AssemblyClient) SubmitAssembly(ctx context.Context, sub AssemblySubmission) (SubmitResult, error) {
	if sub.CompletedBy == "" {
		sub.CompletedBy, _ = GetOperatorID(ctx)
	}

	endpoint := fmt.Sprintf("%s/api/assembly-process/%s/complete/", c.baseURL, url.PathEscape(sub.AssemblyID))

	var result SubmitResult
	if err := c.http.DoJSON(ctx, http.MethodPost, endpoint, sub, &result); err != nil {
		return SubmitResult{}, fmt.Errorf("failed to submit assembly %s: %w", sub.AssemblyID, err)
	}
	if result.GeneratedBarcode == "" {
		return SubmitResult{}, fmt.Errorf("assembly %s: %w", sub.AssemblyID, ErrEmptyBarcode)
	}

	c.logger.Info("assembly submitted",
		"assembly_id", sub.AssemblyID,
		"barcode", result.GeneratedBarcode)
	return result, nil
}

// UpdateWorkOrderProgress counts one completed unit against the work order
// POST /api/work-order/{id}/complete_assembly/
func (c *AssemblyClient) UpdateWorkOrderProgress(ctx context.Context, workOrderID, barcode string, components []ComponentScan) (WorkOrderProgress, error) {
	endpoint := fmt.Sprintf("%s/api/work-order/%s/complete_assembly/", c.baseURL, url.PathEscape(workOrderID))

	body := map[string]interface{}{
		"assembly_barcode":   barcode,
		"scanned_components": components,
	}
	if operatorID, ok := GetOperatorID(ctx); ok {
		body["completed_by"] = operatorID
	}

	var progress WorkOrderProgress
	if err := c.http.DoJSON(ctx, http.MethodPost, endpoint, body, &progress); err != nil {
		return WorkOrderProgress{}, fmt.Errorf("failed to update work order %s: %w", workOrderID, err)
	}
	progress.WorkOrderID = workOrderID

	c.logger.Info("work order progress updated",
		"work_order_id", workOrderID,
		"completed", progress.CompletedQuantity,
		"quantity", progress.Quantity)
	return progress, nil
}

// GetWorkOrder fetches the current progress of a work order
// GET /api/work-order/{id}/
func (c *AssemblyClient) GetWorkOrder(ctx context.Context, workOrderID string) (WorkOrderProgress, error) {
	endpoint := fmt.Sprintf("%s/api/work-order/%s/", c.baseURL, url.PathEscape(workOrderID))

	var progress WorkOrderProgress
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, nil, &progress); err != nil {
		return WorkOrderProgress{}, fmt.Errorf("failed to fetch work order %s: %w", workOrderID, err)
	}
	progress.WorkOrderID = workOrderID
	return progress, nil
}

// FlagRework moves an assembly into the rework queue
// POST /api/assembly-process/{id}/rework/
func (c *AssemblyClient) FlagRework(ctx context.Context, assemblyID, reason string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/assembly-process/%s/rework/", c.baseURL, url.PathEscape(assemblyID))

	body := map[string]interface{}{
		"reason":   reason,
		"quantity": 1,
	}
	if operatorID, ok := GetOperatorID(ctx); ok {
		body["released_by"] = operatorID
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := c.http.DoJSON(ctx, http.MethodPost, endpoint, body, &result); err != nil {
		return false, fmt.Errorf("failed to flag assembly %s for rework: %w", assemblyID, err)
	}

	c.logger.Info("assembly flagged for rework",
		"assembly_id", assemblyID,
		"success", result.Success)
	return result.Success, nil
}
