package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileSchema() *Schema {
	return Object(map[string]Property{
		"path":  {Type: "string"},
		"line":  {Type: "integer"},
		"match": {Type: "string", Enum: []string{"first", "all"}},
		"files": {Type: "array", Items: &Property{Type: "string"}},
	}, "path")
}

func TestValidateOK(t *testing.T) {
	err := fileSchema().Validate(json.RawMessage(`{"path":"a.go","line":3,"match":"all"}`))
	assert.Nil(t, err)
}

func TestValidateNilSchemaAcceptsAnything(t *testing.T) {
	var s *Schema
	assert.Nil(t, s.Validate(nil))
	assert.Nil(t, s.Validate(json.RawMessage(`{"whatever":true}`)))
	assert.Nil(t, s.Validate(json.RawMessage(`"not even an object"`)))
}

func TestValidateEnumeratesAllViolations(t *testing.T) {
	err := fileSchema().Validate(json.RawMessage(`{"line":"three","match":"none","bogus":1}`))
	require.NotNil(t, err)

	// Missing required, wrong type, bad enum value, and unknown field must
	// all be reported in a single pass.
	assert.Len(t, err.Violations, 4)
	assert.Contains(t, err.Error(), `missing required field "path"`)
	assert.Contains(t, err.Error(), `field "line" must be of type integer`)
	assert.Contains(t, err.Error(), `field "match" must be one of [first, all]`)
	assert.Contains(t, err.Error(), `unknown field "bogus"`)
}

func TestValidateEmptyInputChecksRequired(t *testing.T) {
	err := fileSchema().Validate(nil)
	require.NotNil(t, err)
	assert.Equal(t, []string{`missing required field "path"`}, err.Violations)

	// No required fields means empty input passes.
	free := Object(map[string]Property{"note": {Type: "string"}})
	assert.Nil(t, free.Validate(nil))
}

func TestValidateNonObject(t *testing.T) {
	err := fileSchema().Validate(json.RawMessage(`[1,2,3]`))
	require.NotNil(t, err)
	assert.Equal(t, []string{"parameters are not a JSON object"}, err.Violations)
}

func TestValidateIntegerRejectsFraction(t *testing.T) {
	err := fileSchema().Validate(json.RawMessage(`{"path":"a","line":1.5}`))
	require.NotNil(t, err)
	assert.Contains(t, err.Violations[0], `"line" must be of type integer`)
}

func TestValidateArrayItems(t *testing.T) {
	err := fileSchema().Validate(json.RawMessage(`{"path":"a","files":["ok",2]}`))
	require.NotNil(t, err)
	assert.Len(t, err.Violations, 1)
	assert.Contains(t, err.Violations[0], `"files[1]" must be of type string`)
}

func TestJSONRendering(t *testing.T) {
	raw := fileSchema().JSON()
	require.NotNil(t, raw)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "object", decoded["type"])

	var nilSchema *Schema
	assert.Nil(t, nilSchema.JSON())
}
