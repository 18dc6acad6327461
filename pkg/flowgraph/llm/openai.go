package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	flowerrors "github.com/randalmurphal/medconsult/pkg/flowgraph/errors"
)

// DefaultOpenAIBaseURL is used when ModelConfig.BaseURL is empty.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, vLLM, llama.cpp server).
type OpenAI struct {
	client *azopenai.Client
	cfg    ModelConfig
}

// ProviderOption configures a provider client.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	httpClient *http.Client
}

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(o *providerOptions) {
		o.httpClient = c
	}
}

func buildProviderOptions(opts []ProviderOption) providerOptions {
	var o providerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewOpenAI creates an OpenAI-compatible client.
// SDK-level retries are disabled; retries are composed with WithRetry.
func NewOpenAI(cfg ModelConfig, opts ...ProviderOption) (*OpenAI, error) {
	client, err := NewAzOpenAIClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &OpenAI{client: client, cfg: cfg}, nil
}

// NewAzOpenAIClient builds the underlying SDK client for an
// OpenAI-compatible endpoint. The speech collaborators share it.
func NewAzOpenAIClient(cfg ModelConfig, opts ...ProviderOption) (*azopenai.Client, error) {
	o := buildProviderOptions(opts)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Local servers ignore the key but the credential must be non-empty.
		apiKey = "EMPTY"
	}

	clientOpts := &azopenai.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries: -1,
				TryTimeout: cfg.Timeout,
			},
		},
	}
	if o.httpClient != nil {
		clientOpts.Transport = o.httpClient
	}

	client, err := azopenai.NewClientForOpenAI(strings.TrimRight(baseURL, "/"), azcore.NewKeyCredential(apiKey), clientOpts)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return client, nil
}

// Complete implements Client.
func (c *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	req = applyDefaults(req, c.cfg)
	start := time.Now()

	opts := azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(req.Model),
		Messages:       toAzMessages(req.SystemPrompt, req.Messages),
	}
	if req.MaxTokens > 0 {
		opts.MaxTokens = to.Ptr(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts.Temperature = to.Ptr(float32(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		opts.Tools = toAzTools(req.Tools)
	}

	resp, err := c.client.GetChatCompletions(ctx, opts, nil)
	if err != nil {
		return nil, newGatewayError("complete", req.Model, translateAzError(err))
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, newGatewayError("complete", req.Model, errors.New("no choices in response"))
	}

	choice := resp.Choices[0]
	out := &CompletionResponse{
		Model:    req.Model,
		Duration: time.Since(start),
	}
	if resp.Model != nil {
		out.Model = *resp.Model
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	if choice.FinishReason != nil {
		out.FinishReason = string(*choice.FinishReason)
	}
	for _, tc := range choice.Message.ToolCalls {
		fn, ok := tc.(*azopenai.ChatCompletionsFunctionToolCall)
		if !ok || fn.Function == nil {
			continue
		}
		call := ToolCall{ID: deref(fn.ID), Name: deref(fn.Function.Name)}
		if args := deref(fn.Function.Arguments); args != "" {
			call.Arguments = []byte(args)
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	if resp.Usage != nil {
		out.Usage = TokenUsage{
			InputTokens:  int(deref(resp.Usage.PromptTokens)),
			OutputTokens: int(deref(resp.Usage.CompletionTokens)),
			TotalTokens:  int(deref(resp.Usage.TotalTokens)),
		}
	}
	return out, nil
}

func toAzMessages(system string, msgs []Message) []azopenai.ChatRequestMessageClassification {
	out := make([]azopenai.ChatRequestMessageClassification, 0, len(msgs)+1)
	if system != "" {
		out = append(out, &azopenai.ChatRequestSystemMessage{
			Content: azopenai.NewChatRequestSystemMessageContent(system),
		})
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, &azopenai.ChatRequestSystemMessage{
				Content: azopenai.NewChatRequestSystemMessageContent(m.Content),
			})
		case RoleAssistant:
			msg := &azopenai.ChatRequestAssistantMessage{}
			if m.Content != "" {
				msg.Content = azopenai.NewChatRequestAssistantMessageContent(m.Content)
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, &azopenai.ChatCompletionsFunctionToolCall{
					ID:   to.Ptr(tc.ID),
					Type: to.Ptr("function"),
					Function: &azopenai.FunctionCall{
						Name:      to.Ptr(tc.Name),
						Arguments: to.Ptr(string(tc.Arguments)),
					},
				})
			}
			out = append(out, msg)
		case RoleTool:
			out = append(out, &azopenai.ChatRequestToolMessage{
				Content:    azopenai.NewChatRequestToolMessageContent(m.Content),
				ToolCallID: to.Ptr(m.ToolCallID),
			})
		default:
			out = append(out, &azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(m.Content),
			})
		}
	}
	return out
}

func toAzTools(tools []Tool) []azopenai.ChatCompletionsToolDefinitionClassification {
	out := make([]azopenai.ChatCompletionsToolDefinitionClassification, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = []byte(`{"type":"object","properties":{}}`)
		}
		out = append(out, &azopenai.ChatCompletionsFunctionToolDefinition{
			Type: to.Ptr("function"),
			Function: &azopenai.ChatCompletionsFunctionToolDefinitionFunction{
				Name:        to.Ptr(t.Name),
				Description: to.Ptr(t.Description),
				Parameters:  params,
			},
		})
	}
	return out
}

// translateAzError maps azcore response errors onto HTTPError so they
// categorize without knowledge of the SDK.
func translateAzError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Errorf("%w: %w", &flowerrors.HTTPError{
			StatusCode: respErr.StatusCode,
			Message:    respErr.ErrorCode,
		}, err)
	}
	return err
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
