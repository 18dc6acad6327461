package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	flowerrors "github.com/randalmurphal/medconsult/pkg/flowgraph/errors"
)

// defaultAnthropicMaxTokens is required by the Messages API.
const defaultAnthropicMaxTokens = 2048

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    ModelConfig
}

// NewAnthropic creates an Anthropic client.
// SDK-level retries are disabled; retries are composed with WithRetry.
func NewAnthropic(cfg ModelConfig, popts ...ProviderOption) (*Anthropic, error) {
	o := buildProviderOptions(popts)
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if o.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(o.httpClient))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

// Complete implements Client.
func (c *Anthropic) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	req = applyDefaults(req, c.cfg)
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}

	// The Messages API takes system text separately from the turns.
	var system []string
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		params.Messages = append(params.Messages, toAnthropicMessage(m))
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, toAnthropicTool(t))
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, newGatewayError("complete", req.Model, translateAnthropicError(err))
	}

	out := &CompletionResponse{
		Model:        string(resp.Model),
		FinishReason: string(resp.StopReason),
		Duration:     time.Since(start),
		Usage: TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}

	var text []string
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}
	out.Content = strings.Join(text, "")
	return out, nil
}

func toAnthropicMessage(m Message) anthropic.MessageParam {
	switch m.Role {
	case RoleAssistant:
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			var input any = map[string]any{}
			if len(tc.Arguments) > 0 {
				input = tc.Arguments
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		return anthropic.NewAssistantMessage(blocks...)
	case RoleTool:
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
	default:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content))
	}
}

func toAnthropicTool(t Tool) anthropic.ToolUnionParam {
	var schema struct {
		Properties any      `json:"properties"`
		Required   []string `json:"required"`
	}
	if len(t.Parameters) > 0 {
		// A malformed schema degrades to a tool without parameters.
		_ = json.Unmarshal(t.Parameters, &schema)
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		},
	}
}

func translateAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", &flowerrors.HTTPError{
			StatusCode: apiErr.StatusCode,
			Message:    http.StatusText(apiErr.StatusCode),
		}, err)
	}
	return err
}
