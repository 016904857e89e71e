package schema

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// Reflect derives canonical parameters from a typed argument record.
// Required fields are the ones tagged `jsonschema:"required"`.
func Reflect(v any) (*Parameters, error) {
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  true,
	}
	return FromJSONSchema(r.Reflect(v))
}

// FromJSONSchema converts a reflected JSON schema object into canonical parameters
func FromJSONSchema(s *jsonschema.Schema) (*Parameters, error) {
	if s == nil {
		return nil, &Error{Reason: "nil schema"}
	}
	if s.Type != "" && s.Type != string(TypeObject) {
		return nil, &Error{Reason: fmt.Sprintf("top-level parameters must be an object, got %q", s.Type)}
	}
	return &Parameters{Properties: fieldsFrom(s)}, nil
}

func fieldsFrom(s *jsonschema.Schema) []*Field {
	if s.Properties == nil {
		return nil
	}

	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	var fields []*Field
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		f := fieldFrom(pair.Key, pair.Value)
		f.Required = required[pair.Key]
		fields = append(fields, f)
	}
	return fields
}

func fieldFrom(name string, s *jsonschema.Schema) *Field {
	f := &Field{Name: name}
	if s == nil {
		return f
	}
	f.Description = s.Description

	switch {
	case s.Const != nil:
		f.Type = TypeLiteral
	case len(s.AnyOf) > 0 || len(s.OneOf) > 0:
		f.Type = TypeUnion
	default:
		f.Type = Type(s.Type)
	}

	for _, e := range s.Enum {
		f.Enum = append(f.Enum, fmt.Sprint(e))
	}

	switch f.Type {
	case TypeObject:
		f.Properties = fieldsFrom(s)
	case TypeArray:
		if s.Items != nil {
			f.Items = fieldFrom(itemsSuffix, s.Items)
		}
	}
	return f
}
