package schema

import (
	"fmt"

	"google.golang.org/genai"
)

// Format selects a provider wire format
type Format int

const (
	// FormatOpenAI is the JSON-Schema shape used by OpenAI-compatible and Ollama tools
	FormatOpenAI Format = iota
	// FormatGemini is the typed genai.Schema used by Gemini function declarations
	FormatGemini
)

func (f Format) String() string {
	switch f {
	case FormatOpenAI:
		return "openai"
	case FormatGemini:
		return "gemini"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Translate converts tool parameters into the given provider format.
// FormatOpenAI yields map[string]any, FormatGemini yields *genai.Schema.
func Translate(tool string, params *Parameters, format Format) (any, error) {
	switch format {
	case FormatOpenAI:
		return ToOpenAI(tool, params)
	case FormatGemini:
		return ToGemini(tool, params)
	default:
		return nil, &Error{Tool: tool, Reason: "unsupported target format " + format.String()}
	}
}

// ToOpenAI emits {type:"object", properties, required} recursively
func ToOpenAI(tool string, params *Parameters) (map[string]any, error) {
	if params == nil {
		params = &Parameters{}
	}
	props, err := openAIProperties(tool, "", params.Properties)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":       string(TypeObject),
		"properties": props,
		"required":   RequiredNames(params.Properties),
	}, nil
}

func openAIProperties(tool, parent string, fields []*Field) (map[string]any, error) {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		s, err := openAIField(tool, joinPath(parent, f.Name), f)
		if err != nil {
			return nil, err
		}
		props[f.Name] = s
	}
	return props, nil
}

func openAIField(tool, path string, f *Field) (map[string]any, error) {
	if f == nil || f.Type == "" {
		return nil, &Error{Tool: tool, Path: path, Reason: "field type is not specified"}
	}

	out := map[string]any{}
	if f.Description != "" {
		out["description"] = f.Description
	}

	out["type"] = WireType(f.Type)
	switch f.Type {
	case TypeObject:
		props, err := openAIProperties(tool, path, f.Properties)
		if err != nil {
			return nil, err
		}
		out["properties"] = props
		out["required"] = RequiredNames(f.Properties)
	case TypeArray:
		if f.Items == nil {
			return nil, &Error{Tool: tool, Path: path, Reason: "array field has no item schema"}
		}
		items, err := openAIField(tool, joinPath(path, itemsSuffix), f.Items)
		if err != nil {
			return nil, err
		}
		out["items"] = items
	}

	if len(f.Enum) > 0 {
		out["enum"] = append([]string(nil), f.Enum...)
	}
	return out, nil
}

// WireType is the JSON-Schema type name used for t. Keyword types providers
// cannot express become string.
func WireType(t Type) string {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		return string(t)
	default:
		return string(TypeString)
	}
}

// ToGemini emits a typed OBJECT schema for a Gemini function declaration
func ToGemini(tool string, params *Parameters) (*genai.Schema, error) {
	if params == nil {
		params = &Parameters{}
	}
	props, err := geminiProperties(tool, "", params.Properties)
	if err != nil {
		return nil, err
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   RequiredNames(params.Properties),
	}, nil
}

func geminiProperties(tool, parent string, fields []*Field) (map[string]*genai.Schema, error) {
	props := make(map[string]*genai.Schema, len(fields))
	for _, f := range fields {
		s, err := geminiField(tool, joinPath(parent, f.Name), f)
		if err != nil {
			return nil, err
		}
		props[f.Name] = s
	}
	return props, nil
}

func geminiField(tool, path string, f *Field) (*genai.Schema, error) {
	if f == nil || f.Type == "" {
		return nil, &Error{Tool: tool, Path: path, Reason: "field type is not specified"}
	}

	out := &genai.Schema{Description: f.Description}
	switch f.Type {
	case TypeString:
		out.Type = genai.TypeString
		if len(f.Enum) > 0 {
			out.Format = "enum"
			out.Enum = append([]string(nil), f.Enum...)
		}
	case TypeNumber, TypeInteger:
		out.Type = genai.TypeNumber
	case TypeBoolean:
		out.Type = genai.TypeBoolean
	case TypeObject:
		props, err := geminiProperties(tool, path, f.Properties)
		if err != nil {
			return nil, err
		}
		out.Type = genai.TypeObject
		out.Properties = props
		out.Required = RequiredNames(f.Properties)
	case TypeArray:
		if f.Items == nil {
			return nil, &Error{Tool: tool, Path: path, Reason: "array field has no item schema"}
		}
		items, err := geminiField(tool, joinPath(path, itemsSuffix), f.Items)
		if err != nil {
			return nil, err
		}
		out.Type = genai.TypeArray
		out.Items = items
	default:
		// union, literal and anything else Gemini cannot type
		out.Type = genai.TypeString
	}
	return out, nil
}
