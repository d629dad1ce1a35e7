// Package navigation extracts the parameters a station is opened with from
// its navigation context: the page path and its query string.
package navigation

import (
	"fmt"
	"net/url"
)

// Params are the bootstrap parameters of a station
type Params struct {
	AssemblyID  string `json:"assembly_id"`
	WorkOrderID string `json:"work_order_id,omitempty"`
	VariantHint string `json:"variant_hint,omitempty"`
	Path        string `json:"path,omitempty"`
	IsRework    bool   `json:"is_rework"`

	// ReworkSource is "flag" or "rule" when IsRework is set
	ReworkSource string `json:"rework_source,omitempty"`
}

var (
	assemblyKeys = []string{"id", "assemblyId"}
	variantKeys  = []string{"variant", "rsmType", "ybsType", "itemCode"}
	reworkFlags  = []string{"isRework", "rework"}
)

// Parse parses a navigation URL such as
// /assembly/5RS011027?id=ASM-1&workOrderId=WO-9
func Parse(rawURL string, rule *ReworkRule) (Params, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Params{}, fmt.Errorf("invalid navigation url %q: %w", rawURL, err)
	}
	return ParseValues(u.Path, u.Query(), rule)
}

// ParseValues extracts Params from an already split path and query. A nil
// rule disables rule-based rework detection.
func ParseValues(path string, query url.Values, rule *ReworkRule) (Params, error) {
	p := Params{
		AssemblyID:  first(query, assemblyKeys),
		WorkOrderID: query.Get("workOrderId"),
		VariantHint: first(query, variantKeys),
		Path:        path,
	}

	for _, key := range reworkFlags {
		if query.Get(key) == "true" {
			p.IsRework = true
			p.ReworkSource = "flag"
			return p, nil
		}
	}

	if rule != nil {
		matched, err := rule.Match(p, query)
		if err != nil {
			return p, err
		}
		if matched {
			p.IsRework = true
			p.ReworkSource = "rule"
		}
	}
	return p, nil
}

func first(query url.Values, keys []string) string {
	for _, key := range keys {
		if v := query.Get(key); v != "" {
			return v
		}
	}
	return ""
}
