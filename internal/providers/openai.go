package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/thinksuit/thinksuit/internal/backoff"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// OpenAIProvider adapts the uniform request envelope to the OpenAI chat
// completions API.
type OpenAIProvider struct {
	client      *openai.Client
	maxAttempts int
	policy      backoff.Policy
}

// NewOpenAIProvider creates an OpenAI adapter.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client:      openai.NewClient(apiKey),
		maxAttempts: 3,
		policy:      backoff.DefaultPolicy(),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// CallLLM issues a non-streaming completion, retrying transient failures.
func (p *OpenAIProvider) CallLLM(ctx context.Context, req *Request) (*Result, error) {
	caps := LookupCapabilities(req.Model)

	request := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  convertOpenAIMessages(req),
		MaxTokens: clampMaxTokens(req.MaxTokens, caps),
	}
	if req.Temperature != nil && caps.SupportsTemperature {
		request.Temperature = float32(*req.Temperature)
	}
	if len(req.Stop) > 0 {
		request.Stop = req.Stop
	}
	if req.ResponseFormat == "json" {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if len(req.ToolSchemas) > 0 && caps.SupportsToolCalls {
		request.Tools = convertOpenAITools(req.ToolSchemas)
	}

	var resp openai.ChatCompletionResponse
	call := func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, request)
		if callErr != nil {
			return p.wrapError(callErr, req.Model)
		}
		return nil
	}
	if err := backoff.Retry(ctx, p.policy, p.maxAttempts, IsRetryable, call); err != nil {
		if ctx.Err() != nil {
			return nil, models.WrapError(models.CodeAbort, ctx.Err(), "openai call aborted")
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, wrapProviderError("openai", req.Model, 0, "", fmt.Errorf("empty choices in response"))
	}
	return normalizeOpenAIResponse(&resp), nil
}

func convertOpenAIMessages(req *Request) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	if req.SystemInstructions != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstructions,
		})
	}
	for _, msg := range req.Thread {
		out := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		result = append(result, out)
	}
	return result
}

func convertOpenAITools(schemas []ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(schemas))
	for i, ts := range schemas {
		var params map[string]any
		if err := json.Unmarshal(ts.InputSchema, &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

func normalizeOpenAIResponse(resp *openai.ChatCompletionResponse) *Result {
	choice := resp.Choices[0]
	result := &Result{
		Output: choice.Message.Content,
		Model:  resp.Model,
		Usage: Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
		},
		Raw: resp,
	}
	for _, call := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID: call.ID,
			Function: models.FunctionCall{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	switch choice.FinishReason {
	case openai.FinishReasonStop:
		result.FinishReason = FinishComplete
	case openai.FinishReasonLength:
		result.FinishReason = FinishMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		result.FinishReason = FinishToolUse
	case openai.FinishReasonContentFilter:
		result.FinishReason = FinishSafety
	default:
		result.FinishReason = FinishOther
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return wrapProviderError("openai", model, apiErr.HTTPStatusCode, code, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return wrapProviderError("openai", model, reqErr.HTTPStatusCode, "", err)
	}
	return wrapProviderError("openai", model, 0, "", err)
}
