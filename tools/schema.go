package tools

import (
	"fmt"

	"github.com/extendhq/extend-mcp-server-go/internal/validation"
	"github.com/extendhq/extend-mcp-server-go/mcp"
	"github.com/invopop/jsonschema"
)

// reflectInputSchema reflects the args struct A into the simplified MCP tool
// input schema. Unknown properties are always rejected. An args struct that
// reflects to an invalid schema is a programming error and panics.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(A))

	out := mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	if s == nil || s.Type != "object" {
		return out
	}
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			out.Properties[el.Key] = toProperty(el.Value)
		}
	}
	if len(s.Required) > 0 {
		out.Required = append(out.Required, s.Required...)
	}
	if err := validation.ToolInputSchema(&out); err != nil {
		panic(fmt.Sprintf("tools: input schema for %T: %v", *new(A), err))
	}
	return out
}

func toProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Format:      s.Format,
		Default:     s.Default,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}
