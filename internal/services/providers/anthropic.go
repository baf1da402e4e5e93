package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicOption "github.com/anthropics/anthropic-sdk-go/option"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 1024
)

type anthropicClient struct {
	client *anthropic.Client
	code   string
}

func newAnthropicClient(cfg ClientConfig) *anthropicClient {
	opts := []anthropicOption.RequestOption{
		anthropicOption.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicOption.WithBaseURL(cfg.BaseURL))
	}
	if cfg.TimeoutMs > 0 {
		opts = append(opts, anthropicOption.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		}))
	}

	client := anthropic.NewClient(opts...)
	return &anthropicClient{client: &client, code: CodeAnthropic}
}

func (c *anthropicClient) Complete(ctx context.Context, req *models.CompletionRequest, requestID string) (*models.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system, messages := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}

	fiberlog.Debugf("[%s] anthropic completion request, model: %s", requestID, model)

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apierr *anthropic.Error
		status := 0
		if errors.As(err, &apierr) {
			status = apierr.StatusCode
		}
		return nil, ClassifyVendorError(c.code, status, err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &models.CompletionResponse{
		ID:           message.ID,
		Content:      content.String(),
		Model:        string(message.Model),
		FinishReason: string(message.StopReason),
		CreatedAt:    time.Now().UTC(),
		Usage: models.Usage{
			PromptTokens:     message.Usage.InputTokens,
			CompletionTokens: message.Usage.OutputTokens,
			TotalTokens:      message.Usage.InputTokens + message.Usage.OutputTokens,
		},
	}, nil
}

// Validate issues a one-token message, the smallest authenticated call the
// API offers.
func (c *anthropicClient) Validate(ctx context.Context) error {
	_, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     defaultAnthropicModel,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		var apierr *anthropic.Error
		status := 0
		if errors.As(err, &apierr) {
			status = apierr.StatusCode
		}
		return ClassifyVendorError(c.code, status, err)
	}
	return nil
}

// toAnthropicMessages splits system turns out of the conversation; the
// Messages API takes them as a separate field.
func toAnthropicMessages(messages []models.Message) (string, []anthropic.MessageParam) {
	var system strings.Builder
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system.String(), out
}
