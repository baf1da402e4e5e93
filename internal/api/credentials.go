package api

import (
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"
	"github.com/corelink-ai/provider-gateway/internal/services/credential"
	"github.com/corelink-ai/provider-gateway/internal/services/gateway"
	"github.com/corelink-ai/provider-gateway/internal/services/secrets"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// CredentialHandler is the admin surface for credential records. Plaintext
// secrets exist only inside the create/update handlers for the duration of
// the encrypt call; responses never carry secret material.
type CredentialHandler struct {
	store   *credential.Store
	codec   *secrets.Codec
	gateway *gateway.Service
	amnesty models.AmnestyPolicy
}

func NewCredentialHandler(store *credential.Store, codec *secrets.Codec, gw *gateway.Service, amnesty models.AmnestyPolicy) *CredentialHandler {
	return &CredentialHandler{
		store:   store,
		codec:   codec,
		gateway: gw,
		amnesty: amnesty,
	}
}

// RegisterRoutes mounts the credential admin endpoints under the given prefix.
func (h *CredentialHandler) RegisterRoutes(app *fiber.App, prefix string) {
	group := app.Group(prefix)
	group.Post("/", h.Create)
	group.Get("/", h.List)
	group.Get("/:id", h.Get)
	group.Patch("/:id", h.Update)
	group.Post("/:id/disable", h.Disable)
	group.Post("/:id/reset-counters", h.ResetCounters)
	group.Post("/:id/test", h.Test)
	group.Delete("/:id", h.Delete)
}

func (h *CredentialHandler) Create(c *fiber.Ctx) error {
	reqID := requestID(c)

	var req models.CredentialCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return handleBadRequest(c, "invalid request body", reqID)
	}
	if req.ProviderCode == "" || req.Name == "" || req.Secret == "" {
		return handleBadRequest(c, "provider_code, name and secret are required", reqID)
	}

	provider, err := h.store.GetProviderByCode(c.UserContext(), req.ProviderCode)
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	encrypted, err := h.codec.Encrypt(req.Secret)
	if err != nil {
		return handleGatewayError(c, models.NewInternalError("failed to encrypt secret", err), reqID)
	}

	cred := &models.Credential{
		ProviderID:      provider.ID,
		Name:            req.Name,
		EncryptedSecret: encrypted,
		BaseURLOverride: req.BaseURLOverride,
		Priority:        req.Priority,
		IsActive:        true,
		Health:          models.HealthNormal,
		RateLimitRPM:    req.RateLimitRPM,
		RateLimitTPM:    req.RateLimitTPM,
		RateLimitRPD:    req.RateLimitRPD,
	}

	if err := h.store.Create(c.UserContext(), cred); err != nil {
		return handleGatewayError(c, err, reqID)
	}

	fiberlog.Infof("[%s] created credential %d for provider %s", reqID, cred.ID, provider.Code)
	return c.Status(fiber.StatusCreated).JSON(cred)
}

func (h *CredentialHandler) List(c *fiber.Ctx) error {
	reqID := requestID(c)

	creds, err := h.store.List(c.UserContext())
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	return c.JSON(fiber.Map{"data": creds, "total": len(creds)})
}

func (h *CredentialHandler) Get(c *fiber.Ctx) error {
	reqID := requestID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return handleBadRequest(c, "invalid credential id", reqID)
	}

	cred, err := h.store.GetByID(c.UserContext(), uint(id))
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	return c.JSON(cred)
}

// Update applies a partial edit. A changed secret is re-encrypted and the
// cached vendor client for this credential is evicted.
func (h *CredentialHandler) Update(c *fiber.Ctx) error {
	reqID := requestID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return handleBadRequest(c, "invalid credential id", reqID)
	}

	var req models.CredentialUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return handleBadRequest(c, "invalid request body", reqID)
	}

	cred, err := h.store.GetByID(c.UserContext(), uint(id))
	if err != nil {
		return handleGatewayError(c, err, reqID)
	}

	if req.Name != nil {
		cred.Name = *req.Name
	}
	if req.Secret != nil {
		encrypted, err := h.codec.Encrypt(*req.Secret)
		if err != nil {
			return handleGatewayError(c, models.NewInternalError("failed to encrypt secret", err), reqID)
		}
		cred.EncryptedSecret = encrypted
		// A new secret clears an auth flag left by the old one.
		cred.Health = models.HealthNormal
	}
	if req.BaseURLOverride != nil {
		cred.BaseURLOverride = *req.BaseURLOverride
	}
	if req.Priority != nil {
		cred.Priority = *req.Priority
	}
	if req.IsActive != nil {
		cred.IsActive = *req.IsActive
	}
	if req.RateLimitRPM != nil {
		cred.RateLimitRPM = *req.RateLimitRPM
	}
	if req.RateLimitTPM != nil {
		cred.RateLimitTPM = *req.RateLimitTPM
	}
	if req.RateLimitRPD != nil {
		cred.RateLimitRPD = *req.RateLimitRPD
	}

	if err := h.store.Save(c.UserContext(), cred); err != nil {
		return handleGatewayError(c, err, reqID)
	}

	h.gateway.InvalidateCredential(cred.ID)

	fiberlog.Infof("[%s] updated credential %d", reqID, cred.ID)
	return c.JSON(cred)
}

func (h *CredentialHandler) Disable(c *fiber.Ctx) error {
	reqID := requestID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return handleBadRequest(c, "invalid credential id", reqID)
	}

	if err := h.store.Disable(c.UserContext(), uint(id)); err != nil {
		return handleGatewayError(c, err, reqID)
	}

	h.gateway.InvalidateCredential(uint(id))
	return c.JSON(fiber.Map{"status": "disabled", "id": id})
}

// ResetCounters forces the daily reset immediately instead of waiting for
// the rollover.
func (h *CredentialHandler) ResetCounters(c *fiber.Ctx) error {
	reqID := requestID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return handleBadRequest(c, "invalid credential id", reqID)
	}

	if _, err := h.store.GetByID(c.UserContext(), uint(id)); err != nil {
		return handleGatewayError(c, err, reqID)
	}

	if err := h.store.ResetDaily(c.UserContext(), uint(id), time.Now().UTC(), h.amnesty); err != nil {
		return handleGatewayError(c, err, reqID)
	}

	return c.JSON(fiber.Map{"status": "reset", "id": id})
}

// Test decrypts the credential and fires a cheap probe at the vendor.
func (h *CredentialHandler) Test(c *fiber.Ctx) error {
	reqID := requestID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return handleBadRequest(c, "invalid credential id", reqID)
	}

	if err := h.gateway.TestCredential(c.UserContext(), uint(id)); err != nil {
		gwErr := models.SanitizeError(err)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"ok":    false,
			"error": fiber.Map{"kind": gwErr.Kind, "message": gwErr.Message},
		})
	}

	return c.JSON(fiber.Map{"ok": true})
}

func (h *CredentialHandler) Delete(c *fiber.Ctx) error {
	reqID := requestID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return handleBadRequest(c, "invalid credential id", reqID)
	}

	if err := h.store.Delete(c.UserContext(), uint(id)); err != nil {
		return handleGatewayError(c, err, reqID)
	}

	h.gateway.InvalidateCredential(uint(id))
	return c.JSON(fiber.Map{"status": "deleted", "id": id})
}
