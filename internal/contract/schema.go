package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FieldType classifies a metric value type.
type FieldType string

const (
	TypeNumber FieldType = "number"
	TypeString FieldType = "string"
	TypeBool   FieldType = "bool"
)

// Valid reports whether the field type is known.
func (t FieldType) Valid() bool {
	switch t {
	case TypeNumber, TypeString, TypeBool:
		return true
	default:
		return false
	}
}

// FieldSpec describes one metric key in the contract.
type FieldSpec struct {
	Type FieldType `yaml:"type" json:"type"`
	Unit string    `yaml:"unit" json:"unit"`
}

// Schema is one version of the metric contract.
type Schema struct {
	Version int                  `yaml:"version" json:"version"`
	Fields  map[string]FieldSpec `yaml:"fields" json:"fields"`
}

// Validate checks schema invariants.
func (s Schema) Validate() error {
	if s.Version <= 0 {
		return errors.New("contract: schema version must be positive")
	}
	if len(s.Fields) == 0 {
		return errors.New("contract: schema has no fields")
	}
	for key, spec := range s.Fields {
		if key == "" {
			return errors.New("contract: empty metric key")
		}
		if !spec.Type.Valid() {
			return fmt.Errorf("contract: field %s has invalid type %q", key, spec.Type)
		}
	}
	return nil
}

// Hash returns the canonical SHA-256 of the schema. The digest is stable
// across map iteration order so it can identify the contract on batch records.
func (s Schema) Hash() string {
	keys := make([]string, 0, len(s.Fields))
	for key := range s.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "v%d\n", s.Version)
	for _, key := range keys {
		spec := s.Fields[key]
		fmt.Fprintf(&b, "%s|%s|%s\n", key, spec.Type, spec.Unit)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
