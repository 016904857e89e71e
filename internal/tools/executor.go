package tools

import (
	"context"
)

// CallResult pairs a resolved call with its outcome
type CallResult struct {
	Call   FunctionCall
	Result Result
	Err    error
}

// ExecuteCalls runs every call whose name resolves in the registry.
// Calls naming unknown tools are skipped without error or side effect.
func (r *Registry) ExecuteCalls(ctx context.Context, calls []FunctionCall) []CallResult {
	results := make([]CallResult, 0, len(calls))
	for _, call := range calls {
		def, ok := r.Get(call.Name)
		if !ok {
			continue
		}

		args := call.Args
		if args == nil {
			args = map[string]any{}
		}

		res, err := def.Execute(ctx, args)
		results = append(results, CallResult{Call: call, Result: res, Err: err})
	}
	return results
}

// VisibleText collects the text of user-visible results in call order
func VisibleText(results []CallResult) []string {
	var lines []string
	for _, r := range results {
		if r.Err == nil && r.Result.Visible && r.Result.Text != "" {
			lines = append(lines, r.Result.Text)
		}
	}
	return lines
}
