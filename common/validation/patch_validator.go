package validation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxOperations caps the size of one variant patch
const MaxOperations = 50

// PatchValidator checks JSON Patch documents against a variant definition
// before they are applied
type PatchValidator struct{}

// NewPatchValidator creates a new patch validator
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{}
}

// Validate decodes a raw patch document and validates its operations
func (v *PatchValidator) Validate(patch []byte) error {
	var operations []map[string]interface{}
	if err := json.Unmarshal(patch, &operations); err != nil {
		return fmt.Errorf("patch must be a JSON array of operations: %w", err)
	}
	return v.ValidateOperations(operations)
}

// ValidateOperations validates all patch operations
func (v *PatchValidator) ValidateOperations(operations []map[string]interface{}) error {
	if len(operations) == 0 {
		return fmt.Errorf("patch validation failed: no operations")
	}
	if len(operations) > MaxOperations {
		return fmt.Errorf("patch validation failed: at most %d operations per patch (got %d)", MaxOperations, len(operations))
	}

	for i, op := range operations {
		if err := v.validateOperation(op, i); err != nil {
			return err
		}
	}
	return nil
}

// validateOperation validates a single operation
func (v *PatchValidator) validateOperation(op map[string]interface{}, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}

	path, ok := op["path"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}
	if path == "/id" || path == "/family" {
		return fmt.Errorf("operation %d: %s is immutable", index, path)
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("operation %d: path %q must start with /", index, path)
	}

	switch opType {
	case "add", "replace":
		value, ok := op["value"]
		if !ok {
			return fmt.Errorf("operation %d: 'value' required for %s operation", index, opType)
		}
		if path == "/components/-" {
			return v.validateComponentValue(value, index)
		}
		if strings.HasSuffix(path, "/verification_code") && value != nil {
			if _, ok := value.(string); !ok {
				return fmt.Errorf("operation %d: verification_code must be a string or null, got %T", index, value)
			}
		}

	case "remove", "test":
		return nil

	default:
		return fmt.Errorf("operation %d: unsupported operation type: %s", index, opType)
	}

	return nil
}

// validateComponentValue validates a component appended to a variant
func (v *PatchValidator) validateComponentValue(value interface{}, opIndex int) error {
	component, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("operation %d: component value must be an object, got %T", opIndex, value)
	}

	for _, field := range []string{"id", "item_code"} {
		if s, ok := component[field].(string); !ok || s == "" {
			return fmt.Errorf("operation %d: component must have a non-empty '%s' field (string)", opIndex, field)
		}
	}

	if _, ok := component["sequence"].(float64); !ok {
		return fmt.Errorf("operation %d: component must have a numeric 'sequence' field", opIndex)
	}

	return nil
}
