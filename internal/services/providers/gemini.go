package providers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// geminiClient builds the genai client lazily because its constructor takes
// a context; the first call wins and the result is reused.
type geminiClient struct {
	cfg  ClientConfig
	code string

	once    sync.Once
	client  *genai.Client
	initErr error
}

func newGeminiClient(cfg ClientConfig) *geminiClient {
	return &geminiClient{cfg: cfg, code: CodeGemini}
}

func (c *geminiClient) ensure(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		c.client, c.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if c.initErr != nil {
		return nil, models.NewInternalError("failed to create gemini client", c.initErr)
	}
	return c.client, nil
}

func (c *geminiClient) Complete(ctx context.Context, req *models.CompletionRequest, requestID string) (*models.CompletionResponse, error) {
	client, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = defaultGeminiModel
	}

	config := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.TopP != nil {
		p := float32(*req.TopP)
		config.TopP = &p
	}

	contents, system := toGeminiContents(req.Messages)
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	fiberlog.Debugf("[%s] gemini completion request, model: %s", requestID, model)

	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, ClassifyVendorError(c.code, 0, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, models.NewRejectedError(c.code, "vendor returned no candidates")
	}

	candidate := resp.Candidates[0]
	var content strings.Builder
	for _, part := range candidate.Content.Parts {
		content.WriteString(part.Text)
	}

	usage := models.Usage{}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int64(resp.UsageMetadata.TotalTokenCount)
	}

	return &models.CompletionResponse{
		ID:           resp.ResponseID,
		Content:      content.String(),
		Model:        model,
		FinishReason: string(candidate.FinishReason),
		CreatedAt:    time.Now().UTC(),
		Usage:        usage,
	}, nil
}

// Validate counts tokens on a trivial prompt; authenticated but free.
func (c *geminiClient) Validate(ctx context.Context) error {
	client, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: "ping"}}},
	}
	if _, err := client.Models.CountTokens(ctx, defaultGeminiModel, contents, nil); err != nil {
		return ClassifyVendorError(c.code, 0, err)
	}
	return nil
}

// toGeminiContents maps conversation turns onto genai roles. System turns
// are concatenated into the system instruction.
func toGeminiContents(messages []models.Message) ([]*genai.Content, string) {
	var system strings.Builder
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		case "assistant":
			out = append(out, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			out = append(out, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return out, system.String()
}
