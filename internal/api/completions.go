package api

import (
	"github.com/corelink-ai/provider-gateway/internal/config"
	"github.com/corelink-ai/provider-gateway/internal/models"
	"github.com/corelink-ai/provider-gateway/internal/services/gateway"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// completionBody is the wire shape of a completion request. The provider code
// rides inside the body; the X-Provider header wins when both are set.
type completionBody struct {
	models.CompletionRequest
	Provider string `json:"provider,omitempty"`
}

// CompletionHandler handles completion requests end-to-end: it resolves the
// provider and caller identity from the request and hands the call to the
// gateway orchestrator.
type CompletionHandler struct {
	cfg     *config.Config
	gateway *gateway.Service
}

// NewCompletionHandler wires up dependencies and initializes the completion handler.
func NewCompletionHandler(cfg *config.Config, gw *gateway.Service) *CompletionHandler {
	return &CompletionHandler{
		cfg:     cfg,
		gateway: gw,
	}
}

// Completion handles the completion HTTP request.
func (h *CompletionHandler) Completion(c *fiber.Ctx) error {
	reqID := requestID(c)
	fiberlog.Infof("[%s] starting completion request", reqID)

	var body completionBody
	if err := c.BodyParser(&body); err != nil {
		return handleBadRequest(c, "invalid request body", reqID)
	}

	providerCode := c.Get("X-Provider")
	if providerCode == "" {
		providerCode = body.Provider
	}
	if providerCode == "" {
		return handleBadRequest(c, "provider is required (body field or X-Provider header)", reqID)
	}

	callerID := c.Get("X-Caller-ID")
	if callerID == "" {
		callerID = "anonymous"
	}

	resp, err := h.gateway.Complete(c.UserContext(), providerCode, callerID, &body.CompletionRequest, reqID)
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	c.Set("X-Request-ID", reqID)
	return c.JSON(resp)
}

// ListProviders returns the public provider catalog.
func (h *CompletionHandler) ListProviders(c *fiber.Ctx) error {
	reqID := requestID(c)

	summaries, err := h.gateway.ListAvailable(c.UserContext())
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	return c.JSON(fiber.Map{"providers": summaries})
}

// requestID returns the caller-supplied request ID or mints a fresh one.
func requestID(c *fiber.Ctx) string {
	if id := c.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
