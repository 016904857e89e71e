// Package schema holds the canonical tool parameter schema and its translation
// into the function-calling formats of each LLM provider.
package schema

import (
	"fmt"
)

const itemsSuffix = "[]"

// Type is a canonical field type
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"

	// Keyword types that providers cannot express natively
	TypeUnion   Type = "union"
	TypeLiteral Type = "literal"
)

// Field describes one named parameter
type Field struct {
	Name        string
	Type        Type
	Description string
	Required    bool
	Enum        []string

	// Items is the element schema of an array field
	Items *Field

	// Properties are the nested fields of an object field, in declaration order
	Properties []*Field
}

// Parameters is the top-level parameter object of a tool
type Parameters struct {
	Properties []*Field
}

// RequiredNames returns the names of required fields in declaration order
func RequiredNames(fields []*Field) []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Lookup returns the top-level field with the given name
func (p *Parameters) Lookup(name string) (*Field, bool) {
	for _, f := range p.Properties {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Error reports a schema that cannot be translated for a provider.
// It is a configuration bug and must not be retried.
type Error struct {
	Tool   string
	Path   string
	Reason string
}

func (e *Error) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("schema error at %q: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("schema error in tool %q at %q: %s", e.Tool, e.Path, e.Reason)
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	if name == itemsSuffix {
		return parent + itemsSuffix
	}
	return parent + "." + name
}
