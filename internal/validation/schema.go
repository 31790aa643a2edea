// Package validation checks tool input schemas before they are advertised.
package validation

import (
	"fmt"

	"github.com/extendhq/extend-mcp-server-go/mcp"
)

// ToolInputSchema validates and normalizes a tool input schema in-place.
// It de-duplicates Required preserving first-occurrence order.
func ToolInputSchema(s *mcp.ToolInputSchema) error {
	if s == nil {
		return fmt.Errorf("nil schema")
	}
	if s.Type != "object" {
		return fmt.Errorf("input schema type must be object")
	}
	seen := map[string]struct{}{}
	var req []string
	for _, name := range s.Required {
		if _, ok := s.Properties[name]; !ok {
			return fmt.Errorf("required property missing: %s", name)
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			req = append(req, name)
		}
	}
	s.Required = req
	for name, p := range s.Properties {
		if err := property(name, p); err != nil {
			return err
		}
	}
	return nil
}

func property(name string, p mcp.SchemaProperty) error {
	if p.Type == "" {
		return fmt.Errorf("property %s missing type", name)
	}
	if len(p.Enum) > 1 {
		uniq := map[any]struct{}{}
		for _, v := range p.Enum {
			uniq[v] = struct{}{}
		}
		if len(uniq) != len(p.Enum) {
			return fmt.Errorf("duplicate enum values for property %s", name)
		}
	}
	if p.Type == "array" && p.Items != nil {
		if err := property(name+"[]", *p.Items); err != nil {
			return err
		}
	}
	for child, cp := range p.Properties {
		if err := property(name+"."+child, cp); err != nil {
			return err
		}
	}
	return nil
}
