package schema

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// jsonNode is the subset of JSON Schema the converter understands. Anything
// outside it falls through to accept-anything.
type jsonNode struct {
	Type        string               `json:"type,omitempty"`
	Description string               `json:"description,omitempty"`
	Properties  map[string]*jsonNode `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Items       *jsonNode            `json:"items,omitempty"`
	Ref         string               `json:"$ref,omitempty"`
	Definitions map[string]*jsonNode `json:"definitions,omitempty"`
}

const definitionsRefPrefix = "#/definitions/"

// FromJSON converts a raw JSON Schema document into a validator schema. It
// never fails: malformed JSON or unrecognized shapes degrade to the
// permissive accept-anything schema.
func FromJSON(raw []byte) *Schema {
	if len(raw) == 0 {
		return Any()
	}

	var node jsonNode
	if err := json.Unmarshal(raw, &node); err != nil {
		slog.Warn("unparseable tool parameter schema, accepting anything", "error", err)
		return Any()
	}

	return fromNode(&node, node.Definitions, 0)
}

const maxSchemaDepth = 32

func fromNode(node *jsonNode, defs map[string]*jsonNode, depth int) *Schema {
	if node == nil || depth > maxSchemaDepth {
		return Any()
	}

	// $ref resolves against the sibling definitions map before the type
	// switch; unresolved refs accept anything rather than erroring.
	if node.Ref != "" {
		if strings.HasPrefix(node.Ref, definitionsRefPrefix) {
			name := strings.TrimPrefix(node.Ref, definitionsRefPrefix)
			if resolved, ok := defs[name]; ok {
				return fromNode(resolved, defs, depth+1)
			}
		}
		slog.Debug("unresolved schema reference, accepting anything", "ref", node.Ref)
		return Any()
	}

	switch node.Type {
	case "string":
		return &Schema{Kind: KindString, Description: node.Description}
	case "number":
		return &Schema{Kind: KindNumber, Description: node.Description}
	case "integer":
		return &Schema{Kind: KindInteger, Description: node.Description}
	case "boolean":
		return &Schema{Kind: KindBoolean, Description: node.Description}
	case "array":
		s := &Schema{Kind: KindArray, Description: node.Description}
		if node.Items != nil {
			s.Items = fromNode(node.Items, defs, depth+1)
		} else {
			s.Items = Any()
		}
		return s
	case "object":
		// A field is required iff listed in "required". An absent
		// "required" array makes every field optional; downstream tool
		// callers depend on this lenient reading.
		required := make(map[string]bool, len(node.Required))
		for _, name := range node.Required {
			required[name] = true
		}

		fields := make(map[string]Field, len(node.Properties))
		for name, prop := range node.Properties {
			fields[name] = Field{
				Schema:   fromNode(prop, defs, depth+1),
				Required: required[name],
			}
		}

		return &Schema{Kind: KindObject, Description: node.Description, Fields: fields}
	default:
		// Unknown or missing type.
		if node.Description == "" {
			return Any()
		}
		return &Schema{Kind: KindAny, Description: node.Description}
	}
}

// ToJSONSchema converts a validator schema back to JSON Schema. The result
// is structurally equivalent to the schema FromJSON consumed (same type tree
// and required set), not byte-identical to it.
func ToJSONSchema(s *Schema) *jsonschema.Schema {
	if s == nil {
		return &jsonschema.Schema{}
	}

	out := &jsonschema.Schema{Description: s.Description}

	switch s.Kind {
	case KindString, KindNumber, KindInteger, KindBoolean:
		out.Type = s.Kind.String()
	case KindArray:
		out.Type = "array"
		if s.Items != nil && s.Items.Kind != KindAny {
			out.Items = ToJSONSchema(s.Items)
		}
	case KindObject:
		out.Type = "object"
		out.Properties = make(map[string]*jsonschema.Schema, len(s.Fields))
		var required []string
		for name, field := range s.Fields {
			out.Properties[name] = ToJSONSchema(field.Schema)
			if field.Required {
				required = append(required, name)
			}
		}
		sort.Strings(required)
		out.Required = required
	case KindAny:
		// No type constraint: accept anything.
	}

	return out
}

// MarshalJSONSchema renders a validator schema as a raw JSON Schema
// document, ready to embed in a vendor request.
func MarshalJSONSchema(s *Schema) json.RawMessage {
	data, err := json.Marshal(ToJSONSchema(s))
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
