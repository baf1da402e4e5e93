package api

import (
	"github.com/corelink-ai/provider-gateway/internal/models"
	"github.com/corelink-ai/provider-gateway/internal/services/credential"
	"github.com/corelink-ai/provider-gateway/internal/services/keygroup"
	"github.com/corelink-ai/provider-gateway/internal/services/secrets"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// KeyGroupHandler is the admin surface for key groups. Secrets are encrypted
// here on the way in and never leave in responses.
type KeyGroupHandler struct {
	store     *keygroup.Store
	credStore *credential.Store
	codec     *secrets.Codec
}

func NewKeyGroupHandler(store *keygroup.Store, credStore *credential.Store, codec *secrets.Codec) *KeyGroupHandler {
	return &KeyGroupHandler{
		store:     store,
		credStore: credStore,
		codec:     codec,
	}
}

func (h *KeyGroupHandler) RegisterRoutes(app *fiber.App, prefix string) {
	group := app.Group(prefix)
	group.Post("/", h.Create)
	group.Get("/", h.List)
	group.Get("/:id", h.Get)
	group.Post("/:id/entries", h.AddEntry)
	group.Delete("/:id/entries/:position", h.RemoveEntry)
	group.Delete("/:id", h.Delete)
}

func (h *KeyGroupHandler) Create(c *fiber.Ctx) error {
	reqID := requestID(c)

	var req models.KeyGroupCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return handleBadRequest(c, "invalid request body", reqID)
	}
	if req.ProviderCode == "" || req.Name == "" {
		return handleBadRequest(c, "provider_code and name are required", reqID)
	}
	if len(req.Secrets) == 0 {
		return handleBadRequest(c, "at least one secret is required", reqID)
	}

	provider, err := h.credStore.GetProviderByCode(c.UserContext(), req.ProviderCode)
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	entries := make([]models.KeyGroupEntry, 0, len(req.Secrets))
	for _, secret := range req.Secrets {
		encrypted, err := h.codec.Encrypt(secret)
		if err != nil {
			return handleGatewayError(c, models.NewInternalError("failed to encrypt secret", err), reqID)
		}
		entries = append(entries, models.KeyGroupEntry{EncryptedSecret: encrypted})
	}

	group := &models.KeyGroup{
		ProviderID: provider.ID,
		Name:       req.Name,
		Strategy:   req.Strategy,
		IsActive:   true,
		Entries:    entries,
	}

	if err := h.store.Create(c.UserContext(), group); err != nil {
		return handleGatewayError(c, err, reqID)
	}

	fiberlog.Infof("[%s] created key group %d (%d entries) for provider %s", reqID, group.ID, len(group.Entries), provider.Code)
	return c.Status(fiber.StatusCreated).JSON(group)
}

func (h *KeyGroupHandler) List(c *fiber.Ctx) error {
	reqID := requestID(c)

	groups, err := h.store.List(c.UserContext())
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	return c.JSON(fiber.Map{"data": groups, "total": len(groups)})
}

func (h *KeyGroupHandler) Get(c *fiber.Ctx) error {
	reqID := requestID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return handleBadRequest(c, "invalid key group id", reqID)
	}

	group, err := h.store.GetByID(c.UserContext(), uint(id))
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	return c.JSON(group)
}

type addEntryRequest struct {
	Secret string `json:"secret"`
}

func (h *KeyGroupHandler) AddEntry(c *fiber.Ctx) error {
	reqID := requestID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return handleBadRequest(c, "invalid key group id", reqID)
	}

	var req addEntryRequest
	if err := c.BodyParser(&req); err != nil {
		return handleBadRequest(c, "invalid request body", reqID)
	}
	if req.Secret == "" {
		return handleBadRequest(c, "secret is required", reqID)
	}

	encrypted, err := h.codec.Encrypt(req.Secret)
	if err != nil {
		return handleGatewayError(c, models.NewInternalError("failed to encrypt secret", err), reqID)
	}

	entry, err := h.store.AddEntry(c.UserContext(), uint(id), encrypted)
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (h *KeyGroupHandler) RemoveEntry(c *fiber.Ctx) error {
	reqID := requestID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return handleBadRequest(c, "invalid key group id", reqID)
	}

	position, err := c.ParamsInt("position")
	if err != nil || position < 0 {
		return handleBadRequest(c, "invalid entry position", reqID)
	}

	if err := h.store.RemoveEntry(c.UserContext(), uint(id), position); err != nil {
		return handleGatewayError(c, err, reqID)
	}

	return c.JSON(fiber.Map{"status": "removed", "id": id, "position": position})
}

func (h *KeyGroupHandler) Delete(c *fiber.Ctx) error {
	reqID := requestID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return handleBadRequest(c, "invalid key group id", reqID)
	}

	if err := h.store.Delete(c.UserContext(), uint(id)); err != nil {
		return handleGatewayError(c, err, reqID)
	}

	return c.JSON(fiber.Map{"status": "deleted", "id": id})
}
