// Package schema declares action parameter schemas and validates agent
// supplied parameters against them before anything else runs.
//
// The schema dialect is the object/properties/required subset of JSON Schema
// that the agent transport understands. Validation is done with a hand-rolled
// walk rather than a full JSON Schema engine because a failure must enumerate
// every violated rule in one response, so the agent can fix all of them in a
// single retry.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Property describes one named parameter.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Schema is a parameter schema. A nil *Schema means the action takes no
// validated parameters; whatever the agent sends is passed through.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Object builds an object schema from properties and a required list.
func Object(props map[string]Property, required ...string) *Schema {
	return &Schema{Type: "object", Properties: props, Required: required}
}

// JSON renders the schema for the transport. Nil schemas render as nil.
func (s *Schema) JSON() json.RawMessage {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return raw
}

// ValidationError carries every violated rule of one validation pass.
// Schema violations are always retryable.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid parameters: " + strings.Join(e.Violations, "; ")
}

// Validate checks raw parameters against the schema. It returns nil when the
// parameters conform, and a *ValidationError listing all violations when
// they do not. A nil schema accepts anything, including absent parameters.
func (s *Schema) Validate(raw json.RawMessage) *ValidationError {
	if s == nil {
		return nil
	}

	var violations []string

	if len(raw) == 0 {
		for _, req := range sorted(s.Required) {
			violations = append(violations, fmt.Sprintf("missing required field %q", req))
		}
		if len(violations) > 0 {
			return &ValidationError{Violations: violations}
		}
		return nil
	}

	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return &ValidationError{Violations: []string{"parameters are not a JSON object"}}
	}

	for _, req := range sorted(s.Required) {
		if _, ok := params[req]; !ok {
			violations = append(violations, fmt.Sprintf("missing required field %q", req))
		}
	}

	for _, name := range sortedKeys(params) {
		value := params[name]
		prop, ok := s.Properties[name]
		if !ok {
			violations = append(violations, fmt.Sprintf("unknown field %q", name))
			continue
		}
		violations = append(violations, checkValue(name, value, prop)...)
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func checkValue(name string, value any, prop Property) []string {
	var violations []string

	if !typeMatches(prop.Type, value) {
		violations = append(violations,
			fmt.Sprintf("field %q must be of type %s", name, prop.Type))
		return violations
	}

	if len(prop.Enum) > 0 {
		str, _ := value.(string)
		found := false
		for _, allowed := range prop.Enum {
			if str == allowed {
				found = true
				break
			}
		}
		if !found {
			violations = append(violations,
				fmt.Sprintf("field %q must be one of [%s]", name, strings.Join(prop.Enum, ", ")))
		}
	}

	if prop.Type == "array" && prop.Items != nil {
		items, _ := value.([]any)
		for i, item := range items {
			violations = append(violations,
				checkValue(fmt.Sprintf("%s[%d]", name, i), item, *prop.Items)...)
		}
	}

	return violations
}

// typeMatches checks a decoded JSON value against a schema type name.
// JSON numbers decode as float64; "integer" additionally requires a whole
// value.
func typeMatches(typ string, value any) bool {
	if value == nil {
		return false
	}
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
