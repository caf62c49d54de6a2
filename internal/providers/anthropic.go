package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/thinksuit/thinksuit/internal/backoff"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// AnthropicProvider adapts the uniform request envelope to the Anthropic
// Messages API.
type AnthropicProvider struct {
	client      anthropic.Client
	maxAttempts int
	policy      backoff.Policy
}

// NewAnthropicProvider creates an Anthropic adapter.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxAttempts: 3,
		policy:      backoff.DefaultPolicy(),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// CallLLM issues a non-streaming completion, retrying transient failures.
func (p *AnthropicProvider) CallLLM(ctx context.Context, req *Request) (*Result, error) {
	caps := LookupCapabilities(req.Model)

	messages, err := convertAnthropicMessages(req.Thread)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(clampMaxTokens(req.MaxTokens, caps)),
	}
	if req.SystemInstructions != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.SystemInstructions}}
	}
	if req.Temperature != nil && caps.SupportsTemperature {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	if len(req.ToolSchemas) > 0 && caps.SupportsToolCalls {
		tools, err := convertAnthropicTools(req.ToolSchemas)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	var msg *anthropic.Message
	call := func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		if callErr != nil {
			return p.wrapError(callErr, req.Model)
		}
		return nil
	}
	if err := backoff.Retry(ctx, p.policy, p.maxAttempts, IsRetryable, call); err != nil {
		if ctx.Err() != nil {
			return nil, models.WrapError(models.CodeAbort, ctx.Err(), "anthropic call aborted")
		}
		return nil, err
	}

	return normalizeAnthropicResponse(msg), nil
}

func convertAnthropicMessages(thread models.Thread) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range thread {
		// System turns ride in params.System, never in the message array.
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("tool call %s: invalid arguments: %w", call.ID, err)
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Function.Name))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(schemas []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, ts := range schemas {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(ts.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", ts.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, ts.Name)
		if tool.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", ts.Name)
		}
		tool.OfTool.Description = anthropic.String(ts.Description)
		result = append(result, tool)
	}
	return result, nil
}

func normalizeAnthropicResponse(msg *anthropic.Message) *Result {
	result := &Result{
		Model: string(msg.Model),
		Usage: Usage{
			Prompt:     int(msg.Usage.InputTokens),
			Completion: int(msg.Usage.OutputTokens),
		},
		Raw: msg,
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Output += b.Text
		case anthropic.ToolUseBlock:
			result.ToolCalls = append(result.ToolCalls, models.ToolCall{
				ID: b.ID,
				Function: models.FunctionCall{
					Name:      b.Name,
					Arguments: string(b.Input),
				},
			})
		}
	}
	switch msg.StopReason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		result.FinishReason = FinishComplete
	case anthropic.StopReasonMaxTokens:
		result.FinishReason = FinishMaxTokens
	case anthropic.StopReasonToolUse:
		result.FinishReason = FinishToolUse
	case anthropic.StopReasonRefusal:
		result.FinishReason = FinishSafety
	default:
		result.FinishReason = FinishOther
	}
	return result
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		code := ""
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				code = payload.Error.Type
			}
		}
		return wrapProviderError("anthropic", model, apiErr.StatusCode, code, err)
	}
	return wrapProviderError("anthropic", model, 0, "", err)
}
