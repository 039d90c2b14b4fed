package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIModel talks to any OpenAI-compatible chat completions endpoint.
type OpenAIModel struct {
	client    openai.Client
	modelName string
	maxTokens int
}

// NewOpenAIModel creates an OpenAI driver. baseURL may be empty; a nil
// httpClient selects the SDK default.
func NewOpenAIModel(
	apiKey, modelName, baseURL string, maxTokens int, httpClient *http.Client,
) *OpenAIModel {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &OpenAIModel{
		client:    openai.NewClient(opts...),
		modelName: modelName,
		maxTokens: maxTokens,
	}
}

// Name returns the model identifier.
func (o *OpenAIModel) Name() string {
	return o.modelName
}

// Generate runs one chat completion round.
func (o *OpenAIModel) Generate(
	ctx context.Context, req *Request,
) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Contents)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, c := range req.Contents {
		messages = append(messages, toOpenAIMessages(c)...)
	}

	params := openai.ChatCompletionNewParams{
		Model:    o.modelName,
		Messages: messages,
	}
	if n := firstPositive(req.MaxTokens, o.maxTokens); n > 0 {
		params.MaxCompletionTokens = openai.Int(int64(n))
	}
	for _, d := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(
			openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.JSONSchema()),
			},
		))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}

	out := &Response{}
	for _, choice := range resp.Choices {
		msg := choice.Message
		content := Content{Role: RoleModel, native: msg.ToParam()}
		if msg.Content != "" {
			content.Parts = append(content.Parts, Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			args := map[string]any{}
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = map[string]any{}
				}
			}
			content.Parts = append(content.Parts, Part{Call: &ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: args,
			}})
		}
		out.Candidates = append(out.Candidates, Candidate{Content: &content})
	}
	return out, nil
}

// toOpenAIMessages flattens one Content. Tool results become one tool
// message each.
func toOpenAIMessages(c Content) []openai.ChatCompletionMessageParamUnion {
	if native, ok := c.native.(openai.ChatCompletionMessageParamUnion); ok {
		return []openai.ChatCompletionMessageParamUnion{native}
	}

	var out []openai.ChatCompletionMessageParamUnion
	for _, p := range c.Parts {
		if p.Result != nil {
			out = append(out, openai.ToolMessage(p.Result.Output(), p.Result.CallID))
		}
	}
	if len(out) > 0 {
		return out
	}

	if c.Role == RoleModel {
		return []openai.ChatCompletionMessageParamUnion{openai.AssistantMessage(c.Text())}
	}
	return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(c.Text())}
}
