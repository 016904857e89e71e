package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/qninhdt/wyvern-ai/internal/schema"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError rejects a call whose arguments do not fit the tool's record
type ValidationError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid arguments for %s: %s: %v", e.Tool, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Typed builds a Definition whose parameters are reflected from T and whose
// arguments are decoded into T and validated before fn runs.
func Typed[T any](name, description string, fn func(ctx context.Context, args T) (Result, error)) (*Definition, error) {
	var zero T
	params, err := schema.Reflect(&zero)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	return &Definition{
		Name:        name,
		Description: description,
		Parameters:  params,
		Execute: func(ctx context.Context, raw map[string]any) (Result, error) {
			args, err := Decode[T](name, raw)
			if err != nil {
				return Result{}, err
			}
			return fn(ctx, args)
		},
	}, nil
}

// MustTyped is Typed for statically declared tools
func MustTyped[T any](name, description string, fn func(ctx context.Context, args T) (Result, error)) *Definition {
	def, err := Typed(name, description, fn)
	if err != nil {
		panic(err)
	}
	return def
}

// Decode converts raw model arguments into the typed record T and validates it
func Decode[T any](tool string, raw map[string]any) (T, error) {
	var args T

	body, err := json.Marshal(raw)
	if err != nil {
		return args, &ValidationError{Tool: tool, Reason: "arguments are not serializable", Err: err}
	}
	if err := json.Unmarshal(body, &args); err != nil {
		return args, &ValidationError{Tool: tool, Reason: "arguments do not match the parameter shape", Err: err}
	}
	if err := validate.Struct(args); err != nil {
		return args, &ValidationError{Tool: tool, Reason: "arguments failed validation", Err: err}
	}
	return args, nil
}

// ValidateRecord checks a record against its validate tags
func ValidateRecord(tool string, record any) error {
	if err := validate.Struct(record); err != nil {
		return &ValidationError{Tool: tool, Reason: "record failed validation", Err: err}
	}
	return nil
}
