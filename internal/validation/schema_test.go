package validation

import (
	"strings"
	"testing"

	"github.com/extendhq/extend-mcp-server-go/mcp"
)

func TestToolInputSchema(t *testing.T) {
	tests := []struct {
		name    string
		schema  mcp.ToolInputSchema
		wantErr string
	}{
		{
			name: "ok",
			schema: mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{
				"id":     {Type: "string"},
				"status": {Type: "string", Enum: []any{"ACTIVE", "CLOSED"}},
			}, Required: []string{"id"}},
		},
		{name: "empty object", schema: mcp.ToolInputSchema{Type: "object"}},
		{name: "not object", schema: mcp.ToolInputSchema{Type: "string"}, wantErr: "must be object"},
		{
			name:    "required missing",
			schema:  mcp.ToolInputSchema{Type: "object", Required: []string{"id"}},
			wantErr: "required property missing: id",
		},
		{
			name:    "untyped property",
			schema:  mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{"id": {}}},
			wantErr: "property id missing type",
		},
		{
			name: "duplicate enum",
			schema: mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{
				"dir": {Type: "string", Enum: []any{"ASC", "ASC"}},
			}},
			wantErr: "duplicate enum",
		},
		{
			name: "untyped array item",
			schema: mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{
				"ids": {Type: "array", Items: &mcp.SchemaProperty{}},
			}},
			wantErr: "property ids[] missing type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ToolInputSchema(&tt.schema)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestToolInputSchemaDedupesRequired(t *testing.T) {
	s := mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{
		"a": {Type: "string"}, "b": {Type: "integer"},
	}, Required: []string{"b", "a", "b"}}
	if err := ToolInputSchema(&s); err != nil {
		t.Fatal(err)
	}
	if strings.Join(s.Required, ",") != "b,a" {
		t.Errorf("required = %v", s.Required)
	}
}

func TestNilSchema(t *testing.T) {
	if err := ToolInputSchema(nil); err == nil {
		t.Fatal("expected error")
	}
}
