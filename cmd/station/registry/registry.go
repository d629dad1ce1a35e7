package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/lyzr/assembly/cmd/station/models"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

var (
	// ErrUnknownVariant is returned by Resolve for unregistered variants
	ErrUnknownVariant = models.NewError(models.KindConfigurationFault, "unknown variant", nil)

	// ErrInvalidVariant wraps structural problems in a variant definition
	ErrInvalidVariant = models.NewError(models.KindConfigurationFault, "invalid variant definition", nil)
)

// variantPattern matches product identifiers embedded in a navigation path
var variantPattern = regexp.MustCompile(`5(?:RS|YB)\d{6}`)

// Detection is the outcome of variant detection
type Detection struct {
	VariantID string `json:"variant_id"`
	Source    string `json:"source"` // "hint", "path" or "default"
	Fallback  bool   `json:"fallback"`
	Warning   string `json:"warning,omitempty"`
}

// Registry holds the variant definitions known to the station
type Registry struct {
	mu       sync.RWMutex
	variants map[string]models.Variant
	order    []string
	log      Logger
}

// New creates a registry with the given variants. Registration order is
// kept; the first variant is the default.
func New(log Logger, variants ...models.Variant) (*Registry, error) {
	r := &Registry{
		variants: make(map[string]models.Variant, len(variants)),
		log:      log,
	}
	for _, v := range variants {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default creates a registry with the built-in catalog
func Default(log Logger) *Registry {
	r, err := New(log, Catalog()...)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return r
}

// Register adds or replaces a variant after validating it
func (r *Registry) Register(v models.Variant) error {
	if err := validateVariant(v); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.variants[v.ID]; !exists {
		r.order = append(r.order, v.ID)
	}
	r.variants[v.ID] = cloneVariant(v)
	return nil
}

// Resolve returns the components of a variant ordered by sequence
func (r *Registry) Resolve(variantID string) ([]models.ComponentDefinition, error) {
	v, ok := r.Variant(variantID)
	if !ok {
		return nil, fmt.Errorf("%q: %w", variantID, ErrUnknownVariant)
	}

	defs := v.Components
	sort.Slice(defs, func(i, j int) bool { return defs[i].Sequence < defs[j].Sequence })
	return defs, nil
}

// Variant returns a copy of a registered variant
func (r *Registry) Variant(variantID string) (models.Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.variants[variantID]
	if !ok {
		return models.Variant{}, false
	}
	return cloneVariant(v), true
}

// Variants lists registered variants in registration order
func (r *Registry) Variants() []models.Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Variant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneVariant(r.variants[id]))
	}
	return out
}

// DefaultID returns the fallback variant, empty for an empty registry
func (r *Registry) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// Detect picks the variant for a new unit from an explicit hint or an
// identifier found in path. When neither names a registered variant the
// default is returned with Fallback set and a warning for the operator.
func (r *Registry) Detect(hint, path string) Detection {
	if hint != "" {
		if _, ok := r.Variant(hint); ok {
			return Detection{VariantID: hint, Source: "hint"}
		}
	}

	for _, candidate := range variantPattern.FindAllString(path, -1) {
		if _, ok := r.Variant(candidate); ok {
			return Detection{VariantID: candidate, Source: "path"}
		}
	}

	d := Detection{VariantID: r.DefaultID(), Source: "default", Fallback: true}
	if hint != "" {
		d.Warning = fmt.Sprintf("unknown variant %q, using default %s", hint, d.VariantID)
	} else {
		d.Warning = fmt.Sprintf("no variant in navigation context, using default %s", d.VariantID)
	}

	r.log.Warn("variant detection fell back to default",
		"hint", hint,
		"path", path,
		"variant_id", d.VariantID)
	return d
}

// Reconfigure applies an RFC 6902 JSON Patch to a variant definition. The
// patched variant is validated before it replaces the old one and its id
// cannot change.
func (r *Registry) Reconfigure(variantID string, patch []byte) (models.Variant, error) {
	current, ok := r.Variant(variantID)
	if !ok {
		return models.Variant{}, fmt.Errorf("%q: %w", variantID, ErrUnknownVariant)
	}

	ops, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return models.Variant{}, fmt.Errorf("failed to decode patch: %w", err)
	}

	doc, err := json.Marshal(current)
	if err != nil {
		return models.Variant{}, fmt.Errorf("failed to marshal variant %s: %w", variantID, err)
	}

	patched, err := ops.Apply(doc)
	if err != nil {
		return models.Variant{}, fmt.Errorf("failed to apply patch to %s: %w", variantID, err)
	}

	var next models.Variant
	if err := json.Unmarshal(patched, &next); err != nil {
		return models.Variant{}, fmt.Errorf("patched variant %s is malformed: %w", variantID, err)
	}
	if next.ID != variantID {
		return models.Variant{}, fmt.Errorf("patch may not change variant id %s to %s: %w", variantID, next.ID, ErrInvalidVariant)
	}

	if err := r.Register(next); err != nil {
		return models.Variant{}, err
	}

	r.log.Info("variant reconfigured",
		"variant_id", variantID,
		"operations", len(ops),
		"components", len(next.Components))
	return cloneVariant(next), nil
}

func validateVariant(v models.Variant) error {
	if v.ID == "" {
		return fmt.Errorf("empty variant id: %w", ErrInvalidVariant)
	}
	if len(v.Components) == 0 {
		return fmt.Errorf("variant %s has no components: %w", v.ID, ErrInvalidVariant)
	}

	seqs := make(map[int]string, len(v.Components))
	ids := make(map[string]struct{}, len(v.Components))
	for _, c := range v.Components {
		if c.ID == "" || c.ItemCode == "" {
			return fmt.Errorf("variant %s has a component without id or item code: %w", v.ID, ErrInvalidVariant)
		}
		if c.Sequence < 1 {
			return fmt.Errorf("variant %s component %s has sequence %d: %w", v.ID, c.ID, c.Sequence, ErrInvalidVariant)
		}
		if other, dup := seqs[c.Sequence]; dup {
			return fmt.Errorf("variant %s components %s and %s share sequence %d: %w", v.ID, other, c.ID, c.Sequence, ErrInvalidVariant)
		}
		if _, dup := ids[c.ID]; dup {
			return fmt.Errorf("variant %s has duplicate component %s: %w", v.ID, c.ID, ErrInvalidVariant)
		}
		seqs[c.Sequence] = c.ID
		ids[c.ID] = struct{}{}
	}
	return nil
}

func cloneVariant(v models.Variant) models.Variant {
	out := v
	out.Components = CloneDefinitions(v.Components)
	return out
}

// CloneDefinitions deep-copies definitions, including verification codes
func CloneDefinitions(defs []models.ComponentDefinition) []models.ComponentDefinition {
	out := make([]models.ComponentDefinition, len(defs))
	for i, d := range defs {
		out[i] = d
		if d.VerificationCode != nil {
			code := *d.VerificationCode
			out[i].VerificationCode = &code
		}
	}
	return out
}
