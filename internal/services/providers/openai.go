package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/openai/openai-go/v2"
	openaiOption "github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openaiClient speaks the OpenAI chat completions wire format. It also
// serves any OpenAI-compatible vendor through a base URL override.
type openaiClient struct {
	client *openai.Client
	code   string
}

func newOpenAIClient(cfg ClientConfig) *openaiClient {
	opts := []openaiOption.RequestOption{
		openaiOption.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openaiOption.WithBaseURL(cfg.BaseURL))
	}
	if cfg.TimeoutMs > 0 {
		opts = append(opts, openaiOption.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		}))
	}

	client := openai.NewClient(opts...)
	return &openaiClient{client: &client, code: CodeOpenAI}
}

func (c *openaiClient) Complete(ctx context.Context, req *models.CompletionRequest, requestID string) (*models.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}

	fiberlog.Debugf("[%s] openai completion request, model: %s", requestID, model)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apierr *openai.Error
		status := 0
		if errors.As(err, &apierr) {
			status = apierr.StatusCode
		}
		return nil, ClassifyVendorError(c.code, status, err)
	}
	if len(resp.Choices) == 0 {
		return nil, models.NewRejectedError(c.code, "vendor returned no choices")
	}

	choice := resp.Choices[0]
	return &models.CompletionResponse{
		ID:           resp.ID,
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		CreatedAt:    time.Unix(resp.Created, 0).UTC(),
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Validate lists models, the cheapest authenticated endpoint.
func (c *openaiClient) Validate(ctx context.Context) error {
	_, err := c.client.Models.List(ctx)
	if err != nil {
		var apierr *openai.Error
		status := 0
		if errors.As(err, &apierr) {
			status = apierr.StatusCode
		}
		return ClassifyVendorError(c.code, status, err)
	}
	return nil
}

func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
