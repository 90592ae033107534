// Package tools defines the executor interface every gateway tool
// implements, plus the built-in tool set.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Schema is the JSON Schema object advertised as a tool's inputSchema.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	InputSchema Schema `json:"input_schema"`
}

// RawSchema returns the input schema as JSON.
func (d Definition) RawSchema() json.RawMessage {
	s := d.InputSchema
	if s.Type == "" {
		s.Type = "object"
	}
	if s.Properties == nil {
		s.Properties = map[string]Property{}
	}
	b, _ := json.Marshal(s)
	return b
}

type Content struct {
	Type     string `json:"type" enum:"text,image"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type Response struct {
	Content []Content `json:"content"`
	IsError bool      `json:"is_error"`
}

// Text returns the first text content, or "" when there is none.
func (r Response) Text() string {
	for _, c := range r.Content {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}

// Call carries the arguments and the identity of the calling profile.
type Call struct {
	Args        map[string]any
	ProfileID   string
	ProfileName string
}

// Tool is implemented by every executor registered with the gateway.
// Execute returns a failed Response for expected tool-level failures and
// an error for anything unexpected; the gateway converts both into a
// failed result.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, call Call) (Response, error)
}

func TextResult(text string) Response {
	return Response{Content: []Content{{Type: "text", Text: text}}}
}

func ErrorResult(format string, args ...any) Response {
	return Response{Content: []Content{{Type: "text", Text: fmt.Sprintf(format, args...)}}, IsError: true}
}

// JSONResult renders v as indented JSON text.
func JSONResult(v any) Response {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult("encode result: %v", err)
	}
	return TextResult(string(b))
}

// ArgError reports an invalid or missing argument.
type ArgError struct {
	Name   string
	Reason string
}

func (e ArgError) Error() string { return fmt.Sprintf("argument %q %s", e.Name, e.Reason) }

func String(args map[string]any, name string) (string, bool) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func RequireString(args map[string]any, name string) (string, error) {
	s, ok := String(args, name)
	if !ok || strings.TrimSpace(s) == "" {
		return "", ArgError{Name: name, Reason: "is required"}
	}
	return s, nil
}

// Number accepts JSON numbers and numeric strings.
func Number(args map[string]any, name string) (float64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, ArgError{Name: name, Reason: "is required"}
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%g", &f); err != nil {
			return 0, ArgError{Name: name, Reason: "must be a number"}
		}
		return f, nil
	default:
		return 0, ArgError{Name: name, Reason: "must be a number"}
	}
}

// Int returns an optional integer argument.
func Int(args map[string]any, name string) (int, bool, error) {
	if _, ok := args[name]; !ok || args[name] == nil {
		return 0, false, nil
	}
	f, err := Number(args, name)
	if err != nil {
		return 0, true, err
	}
	if f != math.Trunc(f) {
		return 0, true, ArgError{Name: name, Reason: "must be an integer"}
	}
	return int(f), true, nil
}

func Bool(args map[string]any, name string) bool {
	switch v := args[name].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// StringList accepts a JSON array of strings. It returns nil when absent.
func StringList(args map[string]any, name string) ([]string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	switch items := v.(type) {
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, ArgError{Name: name, Reason: "must be an array of strings"}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, ArgError{Name: name, Reason: "must be an array of strings"}
	}
}
