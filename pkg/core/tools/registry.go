package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Registry is the closed set of tools available to the pipeline.
type Registry struct {
	byName map[string]Tool
}

// NewRegistry indexes tools by name. Nil tools are skipped.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		r.byName[t.Name()] = t
	}
	return r
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[name]
	return ok
}

// Definitions returns the schema of every configured tool, sorted by name.
func (r *Registry) Definitions() []types.Tool {
	var out []types.Tool
	for _, name := range r.Names() {
		if t := r.byName[name]; t.Configured() {
			out = append(out, t.Definition())
		}
	}
	return out
}

// Validate checks a call against the tool's schema and returns the
// arguments with defaults applied.
func (r *Registry) Validate(call types.ToolCall) (Tool, Args, error) {
	if r == nil {
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownTool, call.Name)
	}
	t, ok := r.byName[strings.TrimSpace(call.Name)]
	if !ok {
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownTool, call.Name)
	}
	args, err := validateArgs(t.Definition().InputSchema, call.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", t.Name(), err)
	}
	return t, args, nil
}

// Execute validates and runs call on behalf of sessionID.
func (r *Registry) Execute(ctx context.Context, sessionID string, call types.ToolCall) (*Result, error) {
	t, args, err := r.Validate(call)
	if err != nil {
		return nil, err
	}
	if !t.Configured() {
		return nil, Failf("%s は現在利用できません", t.Name())
	}
	return t.Execute(ctx, Call{SessionID: sessionID, Args: args})
}

func validateArgs(schema *types.JSONSchema, input map[string]any) (Args, error) {
	args := make(map[string]any, len(input))
	for k, v := range input {
		// A null argument is the same as an omitted one.
		if v != nil {
			args[k] = v
		}
	}
	if schema == nil {
		return args, nil
	}

	resolved, err := convertSchema(*schema).Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	if err := resolved.Validate(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	for _, name := range schema.Required {
		if args[name] == "" {
			return nil, fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, name)
		}
	}
	if err := resolved.ApplyDefaults(&args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return args, nil
}

// convertSchema translates a tool parameter schema into a jsonschema-go
// schema. A closed object becomes additionalProperties: false.
func convertSchema(s types.JSONSchema) *jsonschema.Schema {
	out := &jsonschema.Schema{
		Type:        s.Type,
		Description: s.Description,
		Required:    s.Required,
	}
	if s.Type == "any" {
		out.Type = ""
	}
	for _, v := range s.Enum {
		out.Enum = append(out.Enum, v)
	}
	if s.Default != nil {
		if raw, err := json.Marshal(s.Default); err == nil {
			out.Default = raw
		}
	}
	if s.Items != nil {
		out.Items = convertSchema(*s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*jsonschema.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = convertSchema(p)
		}
	}
	if s.AdditionalProperties != nil && !*s.AdditionalProperties {
		out.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	}
	return out
}
