package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// ToolCallMarker prefixes a tool call a model writes into its text.
const ToolCallMarker = "TOOL_CALL:"

type textToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// ParseTextToolCalls extracts `TOOL_CALL: {"name":...,"parameters":{...}}`
// occurrences from model text and returns the calls together with the text
// that remains once they are removed. Malformed occurrences are dropped.
func ParseTextToolCalls(text string) ([]types.ToolCall, string) {
	var (
		calls []types.ToolCall
		rest  strings.Builder
	)
	for {
		i := strings.Index(text, ToolCallMarker)
		if i < 0 {
			rest.WriteString(text)
			break
		}
		rest.WriteString(text[:i])
		text = text[i+len(ToolCallMarker):]

		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		var tc textToolCall
		if err := dec.Decode(&tc); err != nil {
			continue
		}
		text = text[dec.InputOffset():]
		if strings.TrimSpace(tc.Name) == "" {
			continue
		}
		if tc.Parameters == nil {
			tc.Parameters = map[string]any{}
		}
		calls = append(calls, types.ToolCall{Name: strings.TrimSpace(tc.Name), Input: normalizeNumbers(tc.Parameters)})
	}
	return calls, cleanText(rest.String())
}

// normalizeNumbers turns json.Number values into float64 the way a plain
// json.Unmarshal would, keeping integral values exact.
func normalizeNumbers(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		return normalizeNumbers(x)
	case []any:
		for i := range x {
			x[i] = normalizeValue(x[i])
		}
		return x
	}
	return v
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			out = append(out, strings.TrimRight(line, " \t"))
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
