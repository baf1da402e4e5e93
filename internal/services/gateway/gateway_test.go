package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/config"
	"github.com/corelink-ai/provider-gateway/internal/models"
	"github.com/corelink-ai/provider-gateway/internal/services/credential"
	"github.com/corelink-ai/provider-gateway/internal/services/keygroup"
	"github.com/corelink-ai/provider-gateway/internal/services/providers"
	"github.com/corelink-ai/provider-gateway/internal/services/secrets"
	"github.com/corelink-ai/provider-gateway/internal/services/usagelog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    int
	response *models.CompletionResponse
	err      error
	apiKey   string
}

func (c *fakeClient) Complete(_ context.Context, _ *models.CompletionRequest, _ string) (*models.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.response, nil
}

func (c *fakeClient) Validate(_ context.Context) error {
	return c.err
}

type fixture struct {
	service   *Service
	credStore *credential.Store
	groups    *keygroup.Store
	codec     *secrets.Codec
	client    *fakeClient
	sink      *captureSink
	worker    *usagelog.Worker
}

type captureSink struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

func (s *captureSink) Write(_ context.Context, record *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *captureSink) last() *models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return nil
	}
	return s.records[len(s.records)-1]
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

	cfg := &config.Config{
		Retry: models.RetryConfig{MaxRetries: 2, BaseDelayMs: 1, MaxDelayMs: 2},
		Credentials: models.CredentialsConfig{
			Amnesty: models.AmnestyAll,
		},
	}

	sink := &captureSink{}
	worker := usagelog.NewWorker(sink, 1, 16)
	t.Cleanup(worker.Stop)

	client := &fakeClient{
		response: &models.CompletionResponse{
			ID:           "cmpl-1",
			Content:      "hello",
			Model:        "test-model",
			FinishReason: "stop",
			CreatedAt:    time.Now().UTC(),
			Usage:        models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}

	service := New(Options{
		Config:     cfg,
		CredStore:  credStore,
		Selector:   credential.NewSelector(credStore, cfg.Credentials),
		Accountant: credential.NewAccountant(credStore),
		GroupStore: groupStore,
		Rotator:    keygroup.NewRotator(groupStore),
		Codec:      codec,
		Usage:      worker,
	})
	service.newClient = func(_ string, clientCfg providers.ClientConfig) (providers.Client, error) {
		client.apiKey = clientCfg.APIKey
		return client, nil
	}

	return &fixture{
		service:   service,
		credStore: credStore,
		groups:    groupStore,
		codec:     codec,
		client:    client,
		sink:      sink,
		worker:    worker,
	}
}

func (f *fixture) seedProvider(t *testing.T, code string) *models.Provider {
	t.Helper()
	provider := &models.Provider{Code: code, Name: strings.ToUpper(code), IsActive: true}
	require.NoError(t, f.credStore.CreateProvider(context.Background(), provider))
	return provider
}

func (f *fixture) seedCredential(t *testing.T, providerID uint, name, plainSecret string) *models.Credential {
	t.Helper()
	encrypted, err := f.codec.Encrypt(plainSecret)
	require.NoError(t, err)

	now := models.UTCDay(time.Now())
	cred := &models.Credential{
		ProviderID:      providerID,
		Name:            name,
		EncryptedSecret: encrypted,
		IsActive:        true,
		Health:          models.HealthNormal,
		CountersDate:    &now,
	}
	require.NoError(t, f.credStore.Create(context.Background(), cred))
	return cred
}

func TestCompleteSuccessFlow(t *testing.T) {
	f := newFixture(t)
	provider := f.seedProvider(t, "openai")
	cred := f.seedCredential(t, provider.ID, "primary", "sk-test-123")

	resp, err := f.service.Complete(context.Background(), "openai", "caller-1", &models.CompletionRequest{
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)
	assert.Equal(t, "sk-test-123", f.client.apiKey, "the client is bound to the decrypted secret")

	stored, err := f.credStore.GetByID(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.RequestsToday)
	assert.Equal(t, int64(15), stored.TokensToday)
	assert.NotNil(t, stored.LastUsedAt)
}

func TestCompleteAuthFailureMarksCredential(t *testing.T) {
	f := newFixture(t)
	provider := f.seedProvider(t, "openai")
	cred := f.seedCredential(t, provider.ID, "bad", "sk-revoked")

	f.client.err = models.NewAuthenticationError("openai", nil)

	_, err := f.service.Complete(context.Background(), "openai", "", &models.CompletionRequest{
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	}, "req-1")
	require.Error(t, err)

	var gwErr *models.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, models.ErrorKindAuthentication, gwErr.Kind)
	assert.Equal(t, 1, f.client.calls, "authentication failures are not retried")

	stored, getErr := f.credStore.GetByID(context.Background(), cred.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.HealthError, stored.Health)
	assert.Equal(t, int64(1), stored.ErrorsToday)
}

func TestCompleteDecryptionFailureIsNotAuthFailure(t *testing.T) {
	f := newFixture(t)
	provider := f.seedProvider(t, "openai")

	now := models.UTCDay(time.Now())
	cred := &models.Credential{
		ProviderID:      provider.ID,
		Name:            "corrupt",
		EncryptedSecret: "not-real-ciphertext",
		IsActive:        true,
		Health:          models.HealthNormal,
		CountersDate:    &now,
	}
	require.NoError(t, f.credStore.Create(context.Background(), cred))

	_, err := f.service.Complete(context.Background(), "openai", "", &models.CompletionRequest{
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	}, "req-1")
	require.Error(t, err)

	var gwErr *models.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, models.ErrorKindDecryption, gwErr.Kind)
	assert.Equal(t, 0, f.client.calls, "the vendor is never called with a corrupted record")

	stored, getErr := f.credStore.GetByID(context.Background(), cred.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.HealthNormal, stored.Health, "a local decryption fault says nothing about the key's standing")
}

func TestCompleteUnknownProvider(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Complete(context.Background(), "nonexistent", "", &models.CompletionRequest{
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	}, "req-1")
	require.Error(t, err)

	var gwErr *models.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, models.ErrorKindValidation, gwErr.Kind)
}

func TestCompleteViaKeyGroup(t *testing.T) {
	f := newFixture(t)
	provider := f.seedProvider(t, "openai")

	enc0, err := f.codec.Encrypt("sk-group-0")
	require.NoError(t, err)
	enc1, err := f.codec.Encrypt("sk-group-1")
	require.NoError(t, err)

	group := &models.KeyGroup{
		ProviderID: provider.ID,
		Name:       "pool",
		Strategy:   models.RotationSequential,
		IsActive:   true,
		Entries: []models.KeyGroupEntry{
			{EncryptedSecret: enc0},
			{EncryptedSecret: enc1},
		},
	}
	require.NoError(t, f.groups.Create(context.Background(), group))

	req := &models.CompletionRequest{Messages: []models.Message{{Role: "user", Content: "hi"}}}

	_, err = f.service.Complete(context.Background(), "openai", "", req, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-group-0", f.client.apiKey)

	_, err = f.service.Complete(context.Background(), "openai", "", req, "req-2")
	require.NoError(t, err)
	assert.Equal(t, "sk-group-1", f.client.apiKey, "sequential rotation hands out the next secret")

	reloaded, err := f.groups.GetByID(context.Background(), group.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.TotalSuccesses)
	assert.Equal(t, 0, reloaded.CurrentIndex)
}

func TestCompleteEmitsUsageRecord(t *testing.T) {
	f := newFixture(t)
	provider := f.seedProvider(t, "openai")
	f.seedCredential(t, provider.ID, "primary", "sk-test")

	_, err := f.service.Complete(context.Background(), "openai", "caller-9", &models.CompletionRequest{
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	}, "req-42")
	require.NoError(t, err)

	f.worker.Stop()

	record := f.sink.last()
	require.NotNil(t, record)
	assert.Equal(t, "req-42", record.RequestID)
	assert.Equal(t, "openai", record.ProviderCode)
	assert.Equal(t, "caller-9", record.CallerID)
	assert.Equal(t, models.OutcomeSuccess, record.Outcome)
	assert.Equal(t, int64(15), record.TotalTokens)
}

func TestListAvailable(t *testing.T) {
	f := newFixture(t)
	provider := f.seedProvider(t, "openai")
	f.seedCredential(t, provider.ID, "a", "sk-1")
	f.seedCredential(t, provider.ID, "b", "sk-2")

	summaries, err := f.service.ListAvailable(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "openai", summaries[0].Code)
	assert.Equal(t, int64(2), summaries[0].ActiveCredentialCount)
}
