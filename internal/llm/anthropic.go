package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 1024
)

// AnthropicModel calls the Claude Messages API directly.
type AnthropicModel struct {
	apiKey    string
	modelName string
	maxTokens int
	url       string
	client    *http.Client
}

// NewAnthropicModel creates an Anthropic driver. baseURL replaces the
// messages endpoint when set; a nil httpClient selects http.DefaultClient.
func NewAnthropicModel(
	apiKey, modelName, baseURL string, maxTokens int, httpClient *http.Client,
) *AnthropicModel {
	url := anthropicURL
	if baseURL != "" {
		url = strings.TrimRight(baseURL, "/") + "/v1/messages"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &AnthropicModel{
		apiKey:    apiKey,
		modelName: modelName,
		maxTokens: maxTokens,
		url:       url,
		client:    httpClient,
	}
}

// Name returns the model identifier.
func (a *AnthropicModel) Name() string {
	return a.modelName
}

// Generate makes a single request to the Messages API.
func (a *AnthropicModel) Generate(
	ctx context.Context, req *Request,
) (*Response, error) {
	reqBody := apiRequest{
		Model:     a.modelName,
		MaxTokens: firstPositive(req.MaxTokens, a.maxTokens),
		System:    req.System,
		Messages:  make([]apiMessage, 0, len(req.Contents)),
	}
	for _, c := range req.Contents {
		reqBody.Messages = append(reqBody.Messages, toAnthropicMessage(c))
	}
	for _, d := range req.Tools {
		schema, err := json.Marshal(d.JSONSchema())
		if err != nil {
			return nil, fmt.Errorf("encoding schema for %s: %w", d.Name, err)
		}
		reqBody.Tools = append(reqBody.Tools, apiTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		})
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, a.url, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if result.Content == nil {
		return &Response{Candidates: []Candidate{{}}}, nil
	}

	content := Content{Role: RoleModel}
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				content.Parts = append(content.Parts, Part{Text: block.Text})
			}
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]any{}
				}
			}
			content.Parts = append(content.Parts, Part{Call: &ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			}})
		}
	}

	return &Response{Candidates: []Candidate{{Content: &content}}}, nil
}

func toAnthropicMessage(c Content) apiMessage {
	role := "user"
	if c.Role == RoleModel {
		role = "assistant"
	}

	blocks := make([]apiContentBlock, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch {
		case p.Call != nil:
			input, err := json.Marshal(p.Call.Args)
			if err != nil || p.Call.Args == nil {
				input = []byte("{}")
			}
			blocks = append(blocks, apiContentBlock{
				Type:  "tool_use",
				ID:    p.Call.ID,
				Name:  p.Call.Name,
				Input: input,
			})
		case p.Result != nil:
			blocks = append(blocks, apiContentBlock{
				Type:      "tool_result",
				ToolUseID: p.Result.CallID,
				Content:   p.Result.Output(),
				IsError:   p.Result.IsError(),
			})
		default:
			blocks = append(blocks, apiContentBlock{Type: "text", Text: p.Text})
		}
	}

	return apiMessage{Role: role, Content: blocks}
}

// --- Claude API types ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
	Tools     []apiTool    `json:"tools,omitempty"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type apiTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}
