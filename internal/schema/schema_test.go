package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want func(t *testing.T, s *Schema)
	}{
		{
			name: "object with required and optional fields",
			raw: `{
				"type": "object",
				"properties": {
					"pattern": {"type": "string", "description": "glob pattern"},
					"limit":   {"type": "integer"}
				},
				"required": ["pattern"]
			}`,
			want: func(t *testing.T, s *Schema) {
				require.Equal(t, KindObject, s.Kind)
				assert.True(t, s.Fields["pattern"].Required)
				assert.False(t, s.Fields["limit"].Required)
				assert.Equal(t, KindString, s.Fields["pattern"].Schema.Kind)
				assert.Equal(t, KindInteger, s.Fields["limit"].Schema.Kind)
			},
		},
		{
			name: "absent required makes every field optional",
			raw: `{
				"type": "object",
				"properties": {
					"a": {"type": "string"},
					"b": {"type": "boolean"}
				}
			}`,
			want: func(t *testing.T, s *Schema) {
				require.Equal(t, KindObject, s.Kind)
				assert.Empty(t, s.RequiredFields())
			},
		},
		{
			name: "nested arrays",
			raw: `{
				"type": "array",
				"items": {"type": "array", "items": {"type": "number"}}
			}`,
			want: func(t *testing.T, s *Schema) {
				require.Equal(t, KindArray, s.Kind)
				require.Equal(t, KindArray, s.Items.Kind)
				assert.Equal(t, KindNumber, s.Items.Items.Kind)
			},
		},
		{
			name: "definitions ref resolves",
			raw: `{
				"type": "object",
				"properties": {
					"location": {"$ref": "#/definitions/point"}
				},
				"definitions": {
					"point": {
						"type": "object",
						"properties": {
							"x": {"type": "number"},
							"y": {"type": "number"}
						},
						"required": ["x", "y"]
					}
				}
			}`,
			want: func(t *testing.T, s *Schema) {
				point := s.Fields["location"].Schema
				require.Equal(t, KindObject, point.Kind)
				assert.Equal(t, []string{"x", "y"}, point.RequiredFields())
			},
		},
		{
			name: "unresolved ref accepts anything",
			raw:  `{"$ref": "#/definitions/missing"}`,
			want: func(t *testing.T, s *Schema) {
				assert.Equal(t, KindAny, s.Kind)
			},
		},
		{
			name: "unknown type accepts anything",
			raw:  `{"type": "duration"}`,
			want: func(t *testing.T, s *Schema) {
				assert.Equal(t, KindAny, s.Kind)
			},
		},
		{
			name: "malformed document accepts anything",
			raw:  `{"type": ["not", "a", "string"`,
			want: func(t *testing.T, s *Schema) {
				assert.Equal(t, KindAny, s.Kind)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want(t, FromJSON([]byte(tt.raw)))
		})
	}
}

func TestRoundTripPreservesStructure(t *testing.T) {
	raw := `{
		"type": "object",
		"properties": {
			"name":  {"type": "string"},
			"count": {"type": "integer"},
			"tags":  {"type": "array", "items": {"type": "string"}}
		},
		"required": ["name"]
	}`

	first := FromJSON([]byte(raw))
	second := FromJSON(MarshalJSONSchema(first))

	assert.Equal(t, first.Kind, second.Kind)
	assert.Equal(t, first.RequiredFields(), second.RequiredFields())
	require.Len(t, second.Fields, len(first.Fields))
	for name, field := range first.Fields {
		assert.Equal(t, field.Schema.Kind, second.Fields[name].Schema.Kind, name)
		assert.Equal(t, field.Required, second.Fields[name].Required, name)
	}
	assert.Equal(t, KindString, second.Fields["tags"].Schema.Items.Kind)
}

func TestValidate(t *testing.T) {
	s := FromJSON([]byte(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string"},
			"limit":   {"type": "integer"},
			"ratio":   {"type": "number"}
		},
		"required": ["pattern"]
	}`))

	decode := func(raw string) map[string]any {
		var v map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &v))
		return v
	}

	assert.NoError(t, s.Validate(decode(`{"pattern": "*.go"}`)))
	assert.NoError(t, s.Validate(decode(`{"pattern": "*.go", "limit": 5}`)))
	assert.NoError(t, s.Validate(decode(`{"pattern": "*.go", "unknown": true}`)), "unknown fields pass")

	assert.Error(t, s.Validate(decode(`{"limit": 5}`)), "missing required field")
	assert.Error(t, s.Validate(decode(`{"pattern": 7}`)), "wrong type")
	assert.Error(t, s.Validate(decode(`{"pattern": "*.go", "limit": 2.5}`)), "integer must be whole")
	assert.NoError(t, s.Validate(decode(`{"pattern": "*.go", "limit": 2}`)), "whole JSON number is an integer")
	assert.NoError(t, s.Validate(decode(`{"pattern": "*.go", "ratio": 2.5}`)))
}

func TestAnyAcceptsEverything(t *testing.T) {
	s := Any()
	assert.NoError(t, s.Validate("text"))
	assert.NoError(t, s.Validate(42.0))
	assert.NoError(t, s.Validate(map[string]any{"nested": []any{1.0, "x"}}))
	assert.NoError(t, s.Validate(nil))
}
