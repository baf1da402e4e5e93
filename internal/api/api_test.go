package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/corelink-ai/provider-gateway/internal/config"
	"github.com/corelink-ai/provider-gateway/internal/models"
	"github.com/corelink-ai/provider-gateway/internal/services/credential"
	"github.com/corelink-ai/provider-gateway/internal/services/gateway"
	"github.com/corelink-ai/provider-gateway/internal/services/keygroup"
	"github.com/corelink-ai/provider-gateway/internal/services/secrets"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	app       *fiber.App
	credStore *credential.Store
	codec     *secrets.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	credStore := credential.NewStore(db)
	require.NoError(t, credStore.AutoMigrate())
	groupStore := keygroup.NewStore(db)
	require.NoError(t, groupStore.AutoMigrate())

	key, err := secrets.GenerateKey(32)
	require.NoError(t, err)
	codec, err := secrets.NewCodecFromBase64(key)
	require.NoError(t, err)

	cfg := &config.Config{Retry: models.RetryConfig{MaxRetries: 1}}

	gw := gateway.New(gateway.Options{
		Config:     cfg,
		CredStore:  credStore,
		Selector:   credential.NewSelector(credStore, cfg.Credentials),
		Accountant: credential.NewAccountant(credStore),
		GroupStore: groupStore,
		Rotator:    keygroup.NewRotator(groupStore),
		Codec:      codec,
	})

	app := fiber.New()

	completionHandler := NewCompletionHandler(cfg, gw)
	app.Post("/v1/chat/completions", completionHandler.Completion)
	app.Get("/v1/providers", completionHandler.ListProviders)

	NewProviderHandler(credStore).RegisterRoutes(app, "/admin/providers")
	NewCredentialHandler(credStore, codec, gw, models.AmnestyAll).RegisterRoutes(app, "/admin/credentials")
	NewKeyGroupHandler(groupStore, credStore, codec).RegisterRoutes(app, "/admin/key-groups")

	return &fixture{app: app, credStore: credStore, codec: codec}
}

func (f *fixture) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCompletionRequiresProvider(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, http.MethodPost, "/v1/chat/completions", fiber.Map{
		"messages": []fiber.Map{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Contains(t, errObj["message"], "provider is required")
}

func TestCompletionUnknownProviderReturns400(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, http.MethodPost, "/v1/chat/completions", fiber.Map{
		"provider": "nonexistent",
		"messages": []fiber.Map{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["request_id"])
}

func TestCompletionNoCredentialReturns503(t *testing.T) {
	f := newFixture(t)
	seedProvider(t, f, "openai")

	resp := f.request(t, http.MethodPost, "/v1/chat/completions", fiber.Map{
		"provider": "openai",
		"messages": []fiber.Map{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, string(models.ErrorKindNoCredential), errObj["kind"])
}

func TestCredentialCreateEncryptsSecret(t *testing.T) {
	f := newFixture(t)
	seedProvider(t, f, "openai")

	resp := f.request(t, http.MethodPost, "/admin/credentials/", models.CredentialCreateRequest{
		ProviderCode: "openai",
		Name:         "primary",
		Secret:       "sk-test-123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.EqualValues(t, 1, body["id"])
	// The secret never appears in the response, encrypted or not.
	_, hasSecret := body["secret"]
	assert.False(t, hasSecret)

	cred, err := f.credStore.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEqual(t, "sk-test-123", cred.EncryptedSecret)

	plain, err := f.codec.Decrypt(cred.EncryptedSecret)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", plain)
}

func TestCredentialUpdatePartial(t *testing.T) {
	f := newFixture(t)
	seedProvider(t, f, "openai")

	resp := f.request(t, http.MethodPost, "/admin/credentials/", models.CredentialCreateRequest{
		ProviderCode: "openai", Name: "primary", Secret: "sk-old", Priority: 5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	name := "renamed"
	resp = f.request(t, http.MethodPatch, "/admin/credentials/1", models.CredentialUpdateRequest{Name: &name})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	cred, err := f.credStore.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", cred.Name)
	assert.Equal(t, 5, cred.Priority)

	plain, err := f.codec.Decrypt(cred.EncryptedSecret)
	require.NoError(t, err)
	assert.Equal(t, "sk-old", plain)
}

func TestCredentialUpdateSecretClearsAuthFlag(t *testing.T) {
	f := newFixture(t)
	seedProvider(t, f, "openai")

	resp := f.request(t, http.MethodPost, "/admin/credentials/", models.CredentialCreateRequest{
		ProviderCode: "openai", Name: "primary", Secret: "sk-old",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	require.NoError(t, f.credStore.SetHealth(context.Background(), 1, models.HealthError))

	secret := "sk-new"
	resp = f.request(t, http.MethodPatch, "/admin/credentials/1", models.CredentialUpdateRequest{Secret: &secret})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	cred, err := f.credStore.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.HealthNormal, cred.Health)
}

func TestCredentialGetUnknownReturns404(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, http.MethodGet, "/admin/credentials/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCredentialDisable(t *testing.T) {
	f := newFixture(t)
	seedProvider(t, f, "openai")

	resp := f.request(t, http.MethodPost, "/admin/credentials/", models.CredentialCreateRequest{
		ProviderCode: "openai", Name: "primary", Secret: "sk-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.request(t, http.MethodPost, "/admin/credentials/1/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	cred, err := f.credStore.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, cred.IsActive)
}

func TestKeyGroupCreateAndRemoveEntry(t *testing.T) {
	f := newFixture(t)
	seedProvider(t, f, "openai")

	resp := f.request(t, http.MethodPost, "/admin/key-groups/", models.KeyGroupCreateRequest{
		ProviderCode: "openai",
		Name:         "pool",
		Strategy:     models.RotationSequential,
		Secrets:      []string{"sk-a", "sk-b"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["entries"], 2)

	resp = f.request(t, http.MethodDelete, "/admin/key-groups/1/entries/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// The last entry cannot go.
	resp = f.request(t, http.MethodDelete, "/admin/key-groups/1/entries/0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestKeyGroupCreateRejectsEmptySecrets(t *testing.T) {
	f := newFixture(t)
	seedProvider(t, f, "openai")

	resp := f.request(t, http.MethodPost, "/admin/key-groups/", models.KeyGroupCreateRequest{
		ProviderCode: "openai",
		Name:         "pool",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestProviderAdminCreateAndPublicListing(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, http.MethodPost, "/admin/providers/", fiber.Map{
		"code": "anthropic", "name": "Anthropic",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.request(t, http.MethodGet, "/v1/providers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	providers := body["providers"].([]any)
	require.Len(t, providers, 1)
	first := providers[0].(map[string]any)
	assert.Equal(t, "anthropic", first["code"])
	assert.EqualValues(t, 0, first["active_credential_count"])
}

func TestRequireAdminMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use("/admin", RequireAdmin("secret-token"))
	app.Get("/admin/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusForbidden},
		{"valid token", "Bearer secret-token", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			_ = resp.Body.Close()
		})
	}
}

func TestRequireAdminDisabledWithoutToken(t *testing.T) {
	app := fiber.New()
	app.Use("/admin", RequireAdmin(""))
	app.Get("/admin/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
}

func seedProvider(t *testing.T, f *fixture, code string) {
	t.Helper()
	require.NoError(t, f.credStore.CreateProvider(context.Background(), &models.Provider{
		Code: code, Name: strings.ToUpper(code), IsActive: true,
	}))
}
