package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/thinksuit/thinksuit/internal/backoff"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// GoogleProvider adapts the uniform request envelope to Gemini models via
// the Vertex AI backend.
type GoogleProvider struct {
	client      *genai.Client
	maxAttempts int
	policy      backoff.Policy
}

// GoogleConfig carries the Vertex AI project settings.
type GoogleConfig struct {
	ProjectID string
	Location  string
}

// NewGoogleProvider creates a Vertex AI adapter.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		Project:  cfg.ProjectID,
		Location: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("vertexai: create client: %w", err)
	}
	return &GoogleProvider{
		client:      client,
		maxAttempts: 3,
		policy:      backoff.DefaultPolicy(),
	}, nil
}

func (p *GoogleProvider) Name() string { return "vertexAi" }

// CallLLM issues a non-streaming generation, retrying transient failures.
func (p *GoogleProvider) CallLLM(ctx context.Context, req *Request) (*Result, error) {
	caps := LookupCapabilities(req.Model)

	contents, err := convertGeminiContents(req.Thread)
	if err != nil {
		return nil, fmt.Errorf("vertexai: convert messages: %w", err)
	}

	config := &genai.GenerateContentConfig{}
	if req.SystemInstructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstructions}},
		}
	}
	maxTokens := clampMaxTokens(req.MaxTokens, caps)
	if maxTokens > math.MaxInt32 {
		maxTokens = math.MaxInt32
	}
	config.MaxOutputTokens = int32(maxTokens) // #nosec G115 -- bounded above
	if req.Temperature != nil && caps.SupportsTemperature {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if len(req.Stop) > 0 {
		config.StopSequences = req.Stop
	}
	if len(req.ToolSchemas) > 0 && caps.SupportsToolCalls {
		config.Tools = convertGeminiTools(req.ToolSchemas)
	}

	var resp *genai.GenerateContentResponse
	call := func() error {
		var callErr error
		resp, callErr = p.client.Models.GenerateContent(ctx, req.Model, contents, config)
		if callErr != nil {
			return p.wrapError(callErr, req.Model)
		}
		return nil
	}
	if err := backoff.Retry(ctx, p.policy, p.maxAttempts, IsRetryable, call); err != nil {
		if ctx.Err() != nil {
			return nil, models.WrapError(models.CodeAbort, ctx.Err(), "vertexai call aborted")
		}
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, wrapProviderError("vertexAi", req.Model, 0, "", fmt.Errorf("empty candidates in response"))
	}
	return normalizeGeminiResponse(resp, req.Model), nil
}

func convertGeminiContents(thread models.Thread) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range thread {
		if msg.Role == models.RoleSystem {
			continue
		}
		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			// User input and tool responses both arrive from the user side.
			content.Role = genai.RoleUser
		}

		if msg.Role == models.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     msg.Name,
					Response: response,
				},
			})
		} else {
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					return nil, fmt.Errorf("tool call %s: invalid arguments: %w", call.ID, err)
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: call.Function.Name,
						Args: args,
					},
				})
			}
		}
		if len(content.Parts) == 0 {
			continue
		}
		result = append(result, content)
	}
	return result, nil
}

func convertGeminiTools(schemas []ToolSchema) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, ts := range schemas {
		var schemaMap map[string]any
		if err := json.Unmarshal(ts.InputSchema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        ts.Name,
			Description: ts.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON Schema map to Gemini's Schema type.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

func normalizeGeminiResponse(resp *genai.GenerateContentResponse, model string) *Result {
	candidate := resp.Candidates[0]
	result := &Result{Model: model, Raw: resp}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			Prompt:     int(resp.UsageMetadata.PromptTokenCount),
			Completion: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	callIndex := 0
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				result.Output += part.Text
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				callIndex++
				result.ToolCalls = append(result.ToolCalls, models.ToolCall{
					ID: fmt.Sprintf("call_%d", callIndex),
					Function: models.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			}
		}
	}
	switch {
	case len(result.ToolCalls) > 0:
		result.FinishReason = FinishToolUse
	case candidate.FinishReason == genai.FinishReasonStop:
		result.FinishReason = FinishComplete
	case candidate.FinishReason == genai.FinishReasonMaxTokens:
		result.FinishReason = FinishMaxTokens
	case candidate.FinishReason == genai.FinishReasonSafety ||
		candidate.FinishReason == genai.FinishReasonProhibitedContent:
		result.FinishReason = FinishSafety
	default:
		result.FinishReason = FinishOther
	}
	return result
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return wrapProviderError("vertexAi", model, apiErr.Code, apiErr.Status, err)
	}
	return wrapProviderError("vertexAi", model, 0, "", err)
}
