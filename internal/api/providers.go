package api

import (
	"github.com/corelink-ai/provider-gateway/internal/models"
	"github.com/corelink-ai/provider-gateway/internal/services/credential"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// ProviderHandler is the admin surface for provider rows.
type ProviderHandler struct {
	store *credential.Store
}

func NewProviderHandler(store *credential.Store) *ProviderHandler {
	return &ProviderHandler{store: store}
}

func (h *ProviderHandler) RegisterRoutes(app *fiber.App, prefix string) {
	group := app.Group(prefix)
	group.Post("/", h.Create)
	group.Get("/", h.List)
}

type providerCreateRequest struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	BaseURL  string `json:"base_url,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
}

func (h *ProviderHandler) Create(c *fiber.Ctx) error {
	reqID := requestID(c)

	var req providerCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return handleBadRequest(c, "invalid request body", reqID)
	}
	if req.Code == "" || req.Name == "" {
		return handleBadRequest(c, "code and name are required", reqID)
	}

	provider := &models.Provider{
		Code:     req.Code,
		Name:     req.Name,
		BaseURL:  req.BaseURL,
		IsActive: true,
	}
	if req.IsActive != nil {
		provider.IsActive = *req.IsActive
	}

	if err := h.store.CreateProvider(c.UserContext(), provider); err != nil {
		return handleGatewayError(c, err, reqID)
	}

	fiberlog.Infof("[%s] created provider %s", reqID, provider.Code)
	return c.Status(fiber.StatusCreated).JSON(provider)
}

func (h *ProviderHandler) List(c *fiber.Ctx) error {
	reqID := requestID(c)

	providers, err := h.store.ListProviders(c.UserContext())
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	return c.JSON(fiber.Map{"data": providers, "total": len(providers)})
}
