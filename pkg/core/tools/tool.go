// Package tools defines the closed set of assistant tools, their parameter
// schemas, and the registry that validates and executes calls.
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

var (
	// ErrUnknownTool is returned for a call naming no registered tool.
	ErrUnknownTool = errors.New("tools: unknown tool")
	// ErrInvalidArguments is returned when a call fails schema validation.
	ErrInvalidArguments = errors.New("tools: invalid arguments")
)

// Tool is one executable assistant capability.
type Tool interface {
	Name() string
	Definition() types.Tool
	Configured() bool
	Execute(ctx context.Context, call Call) (*Result, error)
}

// Call is a validated invocation. Args already carries schema defaults.
type Call struct {
	SessionID string
	Args      Args
}

// Result is the outcome of a successful call. Metadata carries bindable
// values for later calls, such as latest_email_id.
type Result struct {
	Message  string         `json:"message"`
	Data     any            `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UserError is a failure whose message is safe to show to the user as is.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// Failf returns a UserError.
func Failf(format string, args ...any) error {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// Args is a call's argument object.
type Args map[string]any

// String returns a trimmed string argument, or "" when absent.
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Int returns an integer argument, or def when absent or not integral.
func (a Args) Int(key string, def int) int {
	if n, ok := asInt(a[key]); ok {
		return n
	}
	return def
}

// Bool returns a boolean argument, or def when absent.
func (a Args) Bool(key string, def bool) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}
