// Package llm defines the provider-neutral boundary between the agent and a
// hosted language model, with drivers for Gemini, OpenAI-compatible and
// Anthropic endpoints.
package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Role identifies the author of a Content.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ToolCall is a model request to run one tool.
type ToolCall struct {
	// ID correlates the call with its result; some providers leave it
	// empty.
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers one ToolCall with either a JSON payload or an error.
type ToolResult struct {
	CallID  string
	Name    string
	Payload json.RawMessage
	Err     string
}

// IsError reports whether the tool failed.
func (r ToolResult) IsError() bool {
	return r.Err != ""
}

// Output renders the result as the text handed back to the model.
func (r ToolResult) Output() string {
	if r.IsError() {
		b, _ := json.Marshal(map[string]string{"error": r.Err})
		return string(b)
	}
	if len(r.Payload) == 0 {
		return "{}"
	}
	return string(r.Payload)
}

// Part is one element of a Content: text, a tool call or a tool result.
type Part struct {
	Text   string
	Call   *ToolCall
	Result *ToolResult
}

// Content is one message of the model dialogue.
type Content struct {
	Role  Role
	Parts []Part

	// native carries the provider's own encoding of a model turn so that
	// it can be replayed verbatim in the next round.
	native any
}

// Text concatenates the text parts.
func (c *Content) Text() string {
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// ToolCalls returns the tool-call parts in order.
func (c *Content) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range c.Parts {
		if p.Call != nil {
			calls = append(calls, *p.Call)
		}
	}
	return calls
}

// NewTextContent builds a single-part text Content.
func NewTextContent(role Role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// NewResultContent wraps tool results in a user Content.
func NewResultContent(results []ToolResult) Content {
	parts := make([]Part, len(results))
	for i := range results {
		parts[i] = Part{Result: &results[i]}
	}
	return Content{Role: RoleUser, Parts: parts}
}

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Param describes one tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
}

// ToolDeclaration advertises a tool to the model.
type ToolDeclaration struct {
	Name        string
	Description string
	Params      []Param
}

// JSONSchema renders the declaration's parameters as a JSON Schema object.
func (d ToolDeclaration) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Params))
	required := make([]string, 0)

	for _, p := range d.Params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Request is one model round.
type Request struct {
	System    string
	Contents  []Content
	Tools     []ToolDeclaration
	MaxTokens int
}

// Candidate is one alternative reply. Content is nil when the provider
// returned a candidate without a message.
type Candidate struct {
	Content *Content
}

// Response is the model's answer to a Request.
type Response struct {
	Candidates []Candidate
}

// Model is a hosted language model.
type Model interface {
	// Name is the model identifier reported in error messages.
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
}
