package agents

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/qninhdt/wyvern-ai/internal/schema"
)

// ErrorType classifies a provider failure
type ErrorType int8

const (
	// ErrorTypeTransport is a network or unclassified HTTP failure
	ErrorTypeTransport ErrorType = iota
	// ErrorTypeTimeout is a call that exceeded its deadline
	ErrorTypeTimeout
	// ErrorTypeModelUnavailable is a model that is not installed or not served
	ErrorTypeModelUnavailable
	ErrorTypeRateLimit
	ErrorTypeAuth
	ErrorTypeServiceUnavailable
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransport:
		return "transport"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeModelUnavailable:
		return "model_unavailable"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// Error is a classified provider failure
type Error struct {
	Type       ErrorType
	Provider   Kind
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Model != "" {
		return fmt.Sprintf("%s error (%s, model %s): %s", e.Provider, e.Type, e.Model, msg)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Provider, e.Type, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorTypeOf returns the classification of err, if it is a provider error
func ErrorTypeOf(err error) (ErrorType, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Type, true
	}
	return 0, false
}

// statusType maps an HTTP status code onto an error type
func statusType(code int) ErrorType {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusPaymentRequired:
		return ErrorTypeAuth
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusNotFound:
		return ErrorTypeModelUnavailable
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case code >= 500:
		return ErrorTypeServiceUnavailable
	default:
		return ErrorTypeTransport
	}
}

// classify wraps err as a provider error. Deadline and network errors are
// recognized before falling back to the status code.
func classify(kind Kind, model string, status int, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	e := &Error{Provider: kind, Model: model, StatusCode: status, Err: err, Type: ErrorTypeTransport}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Type = ErrorTypeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Type = ErrorTypeTimeout
	case status != 0:
		e.Type = statusType(status)
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
			e.Type = ErrorTypeTimeout
		case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
			e.Type = ErrorTypeModelUnavailable
		case strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"):
			e.Type = ErrorTypeRateLimit
		}
	}
	return e
}

// UserMessage renders a user-safe message for a failed turn
func UserMessage(err error) string {
	var serr *schema.Error
	if errors.As(err, &serr) {
		return "The dungeon master is misconfigured and cannot use its tools right now. Please contact the server operator."
	}

	var perr *Error
	if !errors.As(err, &perr) {
		return "Sorry, something went wrong while generating a response. Please try again."
	}

	local := perr.Provider == KindOllama
	switch perr.Type {
	case ErrorTypeRateLimit:
		return "The AI service is receiving too many requests right now. Please wait a moment and try again."
	case ErrorTypeAuth:
		return "The AI service rejected the request credentials. Please check the API key configuration."
	case ErrorTypeServiceUnavailable:
		return "The AI service is temporarily unavailable. Please try again shortly."
	case ErrorTypeTimeout:
		if local {
			return "The local model took too long to respond. It may be overloaded or too slow, so try a smaller model."
		}
		return "The AI model took too long to respond. Please try again."
	case ErrorTypeModelUnavailable:
		if local {
			return fmt.Sprintf("Model %s is not installed. Run `ollama pull %s` and try again.", perr.Model, perr.Model)
		}
		return fmt.Sprintf("Model %s is not available right now. Please choose another model.", perr.Model)
	default:
		if local {
			return "Cannot connect to the local Ollama service. Is it running?"
		}
		return "Could not reach the AI service. Please try again."
	}
}

// HTTPStatus maps a failed turn onto a response status code
func HTTPStatus(err error) int {
	var serr *schema.Error
	if errors.As(err, &serr) {
		return http.StatusInternalServerError
	}

	t, ok := ErrorTypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch t {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeServiceUnavailable, ErrorTypeModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
