package contract

import (
	"errors"
	"sort"
)

// KeyClass is the tagged classification of one payload key.
type KeyClass string

const (
	// ClassAccepted marks a known key whose value matches the declared type.
	ClassAccepted KeyClass = "accepted"
	// ClassUnknown marks a key absent from the contract. Unknown keys are
	// accepted (additive drift) and reported, never rejected.
	ClassUnknown KeyClass = "unknown"
	// ClassMismatch marks a known key carrying the wrong value type.
	ClassMismatch KeyClass = "mismatch"
)

// KeyResult is the classification of one metric key.
type KeyResult struct {
	Key   string
	Class KeyClass
	Want  FieldType
	Got   FieldType
}

// Result is the validation outcome for one point's metrics map.
type Result struct {
	Keys []KeyResult
}

// UnknownKeys returns the sorted list of unknown keys.
func (r Result) UnknownKeys() []string {
	return r.keysByClass(ClassUnknown)
}

// MismatchedKeys returns the sorted list of type-mismatched keys.
func (r Result) MismatchedKeys() []string {
	return r.keysByClass(ClassMismatch)
}

// HasMismatch reports whether any known key carried the wrong type.
func (r Result) HasMismatch() bool {
	for _, key := range r.Keys {
		if key.Class == ClassMismatch {
			return true
		}
	}
	return false
}

func (r Result) keysByClass(class KeyClass) []string {
	var keys []string
	for _, key := range r.Keys {
		if key.Class == class {
			keys = append(keys, key.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Registry validates metric payloads against the active contract version.
type Registry struct {
	schema Schema
	hash   string
}

// NewRegistry constructs a registry for one schema version.
func NewRegistry(schema Schema) (*Registry, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Registry{schema: schema, hash: schema.Hash()}, nil
}

// Version returns the active contract version.
func (r *Registry) Version() int {
	if r == nil {
		return 0
	}
	return r.schema.Version
}

// Hash returns the canonical hash of the active contract.
func (r *Registry) Hash() string {
	if r == nil {
		return ""
	}
	return r.hash
}

// Validate classifies every key of a metrics map against the contract.
// Classification is a pure function of (schema, payload): values decoded
// from JSON carry float64, string or bool and map onto the declared types.
func (r *Registry) Validate(metrics map[string]any) (Result, error) {
	if r == nil {
		return Result{}, errors.New("contract: nil registry")
	}
	if len(metrics) == 0 {
		return Result{}, errors.New("contract: empty metrics")
	}

	keys := make([]string, 0, len(metrics))
	for key := range metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := Result{Keys: make([]KeyResult, 0, len(keys))}
	for _, key := range keys {
		spec, known := r.schema.Fields[key]
		got := typeOf(metrics[key])
		if !known {
			result.Keys = append(result.Keys, KeyResult{Key: key, Class: ClassUnknown, Got: got})
			continue
		}
		if got != spec.Type {
			result.Keys = append(result.Keys, KeyResult{Key: key, Class: ClassMismatch, Want: spec.Type, Got: got})
			continue
		}
		result.Keys = append(result.Keys, KeyResult{Key: key, Class: ClassAccepted, Want: spec.Type, Got: got})
	}
	return result, nil
}

func typeOf(value any) FieldType {
	switch value.(type) {
	case float64, float32, int, int32, int64:
		return TypeNumber
	case string:
		return TypeString
	case bool:
		return TypeBool
	default:
		return ""
	}
}
