package registry

import (
	"context"
	"sort"

	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/cmd/station/validator"
	"golang.org/x/sync/errgroup"
)

// LookupService resolves an item code to its verification code
type LookupService interface {
	Lookup(ctx context.Context, itemCode string) (string, error)
}

// ComponentFault is a component whose code can never validate
type ComponentFault struct {
	ComponentID string `json:"component_id"`
	ItemCode    string `json:"item_code"`
	Code        string `json:"code"`
	Reason      string `json:"reason"`
}

// HydrationReport summarizes a Hydrate call for diagnostics
type HydrationReport struct {
	Resolved    int              `json:"resolved"`
	Failed      int              `json:"failed"`
	Static      int              `json:"static"`
	FailedItems []string         `json:"failed_items,omitempty"`
	Faults      []ComponentFault `json:"faults,omitempty"`
}

// Degraded reports whether any component validates permissively
func (r HydrationReport) Degraded() bool {
	return r.Failed > 0
}

// Blocking reports whether any component can never validate
func (r HydrationReport) Blocking() bool {
	return len(r.Faults) > 0
}

// Hydrate returns a copy of defs with verification codes resolved through
// lookup. Definitions that already carry a code are left alone. Each distinct
// item code is looked up once, at most concurrency lookups at a time. A failed
// lookup leaves the code nil.
func Hydrate(ctx context.Context, defs []models.ComponentDefinition, lookup LookupService, concurrency int, log Logger) ([]models.ComponentDefinition, HydrationReport) {
	out := CloneDefinitions(defs)
	var report HydrationReport

	pending := make(map[string][]int)
	for i, d := range out {
		if d.HasCode() {
			report.Static++
			continue
		}
		pending[d.ItemCode] = append(pending[d.ItemCode], i)
	}

	type result struct {
		code string
		err  error
	}

	itemCodes := make([]string, 0, len(pending))
	for itemCode := range pending {
		itemCodes = append(itemCodes, itemCode)
	}
	sort.Strings(itemCodes)
	results := make([]result, len(itemCodes))

	if len(itemCodes) > 0 {
		var g errgroup.Group
		if concurrency > 0 {
			g.SetLimit(concurrency)
		}
		for i, itemCode := range itemCodes {
			g.Go(func() error {
				code, err := lookup.Lookup(ctx, itemCode)
				results[i] = result{code: code, err: err}
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, itemCode := range itemCodes {
		res := results[i]
		for _, idx := range pending[itemCode] {
			if res.err != nil {
				report.Failed++
				continue
			}
			code := res.code
			out[idx].VerificationCode = &code
			report.Resolved++
		}
		if res.err != nil {
			report.FailedItems = append(report.FailedItems, itemCode)
			log.Warn("verification code lookup failed",
				"item_code", itemCode,
				"components", len(pending[itemCode]),
				"error", res.err)
		}
	}

	for _, d := range out {
		if !d.HasCode() {
			continue
		}
		if err := validator.CheckCode(*d.VerificationCode); err != nil {
			report.Faults = append(report.Faults, ComponentFault{
				ComponentID: d.ID,
				ItemCode:    d.ItemCode,
				Code:        *d.VerificationCode,
				Reason:      err.Error(),
			})
			log.Error("component can never validate",
				"component_id", d.ID,
				"item_code", d.ItemCode,
				"code", *d.VerificationCode)
		}
	}

	log.Info("verification codes hydrated",
		"resolved", report.Resolved,
		"failed", report.Failed,
		"static", report.Static,
		"faults", len(report.Faults))
	if report.Degraded() {
		log.Warn("degraded validation active, components without codes accept any barcode",
			"failed_items", report.FailedItems)
	}

	return out, report
}
