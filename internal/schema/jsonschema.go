package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/permit-intake/constants"
)

// BuildJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// Declared keys are required; undeclared keys are allowed so drift can pass through.
// The permit column is restricted to the canonical enum (or empty).
func BuildJSONSchema(s *Schema) map[string]any {
	props := map[string]any{}
	for _, f := range s.ScalarFields {
		props[f] = map[string]any{"type": "string"}
	}
	for _, t := range s.Tables {
		props[t.Name] = tableProp(t)
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
		"properties":           props,
		"required":             s.Keys(),
	}
}

func tableProp(t TableSpec) map[string]any {
	cols := map[string]any{}
	for _, c := range t.Columns {
		cols[c] = map[string]any{"type": "string"}
	}
	if t.Name == TableFlightSectors {
		enum := append(constants.PermitTypeStrings(), "")
		cols[ColPermitType] = map[string]any{"type": "string", "enum": enum}
	}
	return map[string]any{
		"type":     "object",
		"required": []string{"fieldType", "items"},
		"properties": map[string]any{
			"fieldType": map[string]any{"const": FieldTypeTable},
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"properties":           cols,
					"additionalProperties": map[string]any{"type": "string"},
				},
			},
		},
	}
}

// Validator validates documents against one compiled schema revision.
type Validator struct {
	version Version
	schema  *jsonschema.Schema
}

var (
	validatorsMu sync.Mutex
	validators   = map[Version]*Validator{}
)

// ValidatorFor compiles (once) and returns the validator for v.
func ValidatorFor(v Version) (*Validator, error) {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()
	if val, ok := validators[v]; ok {
		return val, nil
	}
	s, err := Lookup(v)
	if err != nil {
		return nil, err
	}
	compiled, err := compile(BuildJSONSchema(s))
	if err != nil {
		return nil, err
	}
	val := &Validator{version: v, schema: compiled}
	validators[v] = val
	return val, nil
}

func compile(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// Validate checks d against the compiled schema.
func (v *Validator) Validate(d *Document) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return v.ValidateJSON(b)
}

// ValidateJSON checks serialized data against the compiled schema.
func (v *Validator) ValidateJSON(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema v%s: %w", v.version, err)
	}
	return nil
}
