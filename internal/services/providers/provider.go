package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/corelink-ai/provider-gateway/internal/models"
)

// Vendor codes the factory understands. Any other code with a base URL
// override is treated as an OpenAI-compatible endpoint.
const (
	CodeOpenAI    = "openai"
	CodeAnthropic = "anthropic"
	CodeGemini    = "gemini"
)

// ClientConfig binds a vendor client to one decrypted secret. The secret
// lives only in memory for the duration of the client; it is never logged.
type ClientConfig struct {
	APIKey    string
	BaseURL   string
	TimeoutMs int
}

// Client is one vendor binding. Complete performs a single call attempt;
// retries happen above it. Validate performs a cheap probe with the bound
// secret so administrators can test a credential without spending quota on
// a real completion.
type Client interface {
	Complete(ctx context.Context, req *models.CompletionRequest, requestID string) (*models.CompletionResponse, error)
	Validate(ctx context.Context) error
}

// NewClient builds the vendor client for a provider code. Unknown codes
// fall back to the OpenAI wire format when a base URL override is present,
// which covers the long tail of OpenAI-compatible vendors.
func NewClient(providerCode string, cfg ClientConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, models.NewValidationError("credential secret is empty", nil)
	}

	switch strings.ToLower(providerCode) {
	case CodeOpenAI:
		return newOpenAIClient(cfg), nil
	case CodeAnthropic:
		return newAnthropicClient(cfg), nil
	case CodeGemini:
		return newGeminiClient(cfg), nil
	default:
		if cfg.BaseURL != "" {
			return newOpenAIClient(cfg), nil
		}
		return nil, models.NewValidationError(fmt.Sprintf("unsupported provider %q", providerCode), nil)
	}
}

// ClassifyVendorError folds a raw SDK error into the gateway taxonomy using
// the HTTP status when the SDK exposes one, otherwise the message text.
func ClassifyVendorError(providerCode string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if gwErr, ok := err.(*models.GatewayError); ok {
		return gwErr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case statusCode == 401 || statusCode == 403:
		return models.NewAuthenticationError(providerCode, err)
	case statusCode == 429:
		if containsAny(lower, "quota", "insufficient", "billing", "balance") {
			return models.NewQuotaExhaustedError(providerCode, err)
		}
		return models.NewRateLimitedError(providerCode, err)
	case statusCode >= 500:
		return models.NewTransientError(providerCode, err)
	case statusCode == 400 || statusCode == 404 || statusCode == 422:
		return models.NewRejectedError(providerCode, msg)
	case statusCode != 0:
		return models.NewInternalError(fmt.Sprintf("%s call failed with status %d", providerCode, statusCode), err)
	}

	// No status available, fall back to message patterns.
	switch {
	case containsAny(lower, "invalid api key", "invalid x-api-key", "incorrect api key", "unauthorized", "authentication"):
		return models.NewAuthenticationError(providerCode, err)
	case containsAny(lower, "insufficient balance", "insufficient_quota", "quota exceeded", "exceeded your current quota", "billing"):
		return models.NewQuotaExhaustedError(providerCode, err)
	case containsAny(lower, "rate limit", "too many requests", "429"):
		return models.NewRateLimitedError(providerCode, err)
	case containsAny(lower, "connection refused", "timeout", "deadline exceeded", "connection reset", "eof"):
		return models.NewTransientError(providerCode, err)
	default:
		return models.NewInternalError(fmt.Sprintf("%s call failed", providerCode), err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
