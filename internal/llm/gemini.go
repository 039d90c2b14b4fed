package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GeminiModel talks to the Gemini API through the genai SDK.
type GeminiModel struct {
	client    *genai.Client
	modelName string
	maxTokens int
}

// NewGeminiModel creates a Gemini driver. baseURL may be empty.
func NewGeminiModel(
	ctx context.Context, apiKey, modelName, baseURL string, maxTokens int,
) (*GeminiModel, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &GeminiModel{
		client:    client,
		modelName: modelName,
		maxTokens: maxTokens,
	}, nil
}

// Name returns the model identifier.
func (g *GeminiModel) Name() string {
	return g.modelName
}

// Generate runs one GenerateContent round.
func (g *GeminiModel) Generate(
	ctx context.Context, req *Request,
) (*Response, error) {
	contents := make([]*genai.Content, 0, len(req.Contents))
	for _, c := range req.Contents {
		contents = append(contents, toGeminiContent(c))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if n := firstPositive(req.MaxTokens, g.maxTokens); n > 0 {
		cfg.MaxOutputTokens = int32(n)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, d := range req.Tools {
			decls = append(decls, toGeminiDeclaration(d))
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	out := &Response{}
	for _, cand := range res.Candidates {
		if cand == nil || cand.Content == nil {
			out.Candidates = append(out.Candidates, Candidate{})
			continue
		}
		content := fromGeminiContent(cand.Content)
		out.Candidates = append(out.Candidates, Candidate{Content: &content})
	}
	return out, nil
}

func toGeminiContent(c Content) *genai.Content {
	role := genai.RoleUser
	if c.Role == RoleModel {
		role = genai.RoleModel
	}

	parts := make([]*genai.Part, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch {
		case p.Call != nil:
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   p.Call.ID,
				Name: p.Call.Name,
				Args: p.Call.Args,
			}})
		case p.Result != nil:
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       p.Result.CallID,
				Name:     p.Result.Name,
				Response: geminiResponse(*p.Result),
			}})
		default:
			parts = append(parts, &genai.Part{Text: p.Text})
		}
	}

	return &genai.Content{Role: string(role), Parts: parts}
}

// geminiResponse wraps a tool result in the object shape Gemini requires.
func geminiResponse(r ToolResult) map[string]any {
	if r.IsError() {
		return map[string]any{"error": r.Err}
	}
	var payload any
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return map[string]any{"output": string(r.Payload)}
	}
	return map[string]any{"output": payload}
}

func fromGeminiContent(c *genai.Content) Content {
	out := Content{Role: RoleModel}
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		switch {
		case p.FunctionCall != nil:
			out.Parts = append(out.Parts, Part{Call: &ToolCall{
				ID:   p.FunctionCall.ID,
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			}})
		case p.Text != "" && !p.Thought:
			out.Parts = append(out.Parts, Part{Text: p.Text})
		}
	}
	return out
}

func toGeminiDeclaration(d ToolDeclaration) *genai.FunctionDeclaration {
	props := make(map[string]*genai.Schema, len(d.Params))
	var required []string

	for _, p := range d.Params {
		props[p.Name] = &genai.Schema{
			Type:        geminiType(p.Type),
			Description: p.Description,
			Enum:        p.Enum,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return &genai.FunctionDeclaration{
		Name:        d.Name,
		Description: d.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   required,
		},
	}
}

func geminiType(t ParamType) genai.Type {
	switch t {
	case TypeInteger:
		return genai.TypeInteger
	case TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
