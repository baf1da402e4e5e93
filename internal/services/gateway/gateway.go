package gateway

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/config"
	"github.com/corelink-ai/provider-gateway/internal/models"
	"github.com/corelink-ai/provider-gateway/internal/services/circuitbreaker"
	"github.com/corelink-ai/provider-gateway/internal/services/credential"
	"github.com/corelink-ai/provider-gateway/internal/services/keygroup"
	"github.com/corelink-ai/provider-gateway/internal/services/providers"
	"github.com/corelink-ai/provider-gateway/internal/services/retry"
	"github.com/corelink-ai/provider-gateway/internal/services/secrets"
	"github.com/corelink-ai/provider-gateway/internal/services/usagelog"
	"github.com/corelink-ai/provider-gateway/internal/utils/clientcache"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Service orchestrates one completion call end to end: resolve provider,
// pick a credential or key-group entry, decrypt, call with retries, account
// the outcome. It is the only component that sees decrypted secrets, and
// they never reach a log line or the store.
type Service struct {
	cfg *config.Config

	credStore  *credential.Store
	selector   *credential.Selector
	accountant *credential.Accountant

	groupStore *keygroup.Store
	rotator    *keygroup.Rotator

	codec    *secrets.Codec
	executor *retry.Executor

	// newClient is swappable for tests.
	newClient func(providerCode string, cfg providers.ClientConfig) (providers.Client, error)

	clientCache *clientcache.Cache[providers.Client]
	cacheMu     sync.Mutex
	cacheKeys   map[uint]string // credential id -> live cache key
	leases      *leaseTable

	breakers map[string]*circuitbreaker.Breaker
	usage    *usagelog.Worker
}

// Options carries the collaborators main wires together.
type Options struct {
	Config     *config.Config
	CredStore  *credential.Store
	Selector   *credential.Selector
	Accountant *credential.Accountant
	GroupStore *keygroup.Store
	Rotator    *keygroup.Rotator
	Codec      *secrets.Codec
	Breakers   map[string]*circuitbreaker.Breaker
	Usage      *usagelog.Worker
}

func New(opts Options) *Service {
	return &Service{
		cfg:         opts.Config,
		credStore:   opts.CredStore,
		selector:    opts.Selector,
		accountant:  opts.Accountant,
		groupStore:  opts.GroupStore,
		rotator:     opts.Rotator,
		codec:       opts.Codec,
		executor:    retry.NewExecutor(opts.Config.Retry),
		newClient:   providers.NewClient,
		clientCache: clientcache.NewCache[providers.Client](),
		cacheKeys:   make(map[uint]string),
		leases:      newLeaseTable(),
		breakers:    opts.Breakers,
		usage:       opts.Usage,
	}
}

// Complete performs one logical completion call for the named provider.
func (s *Service) Complete(ctx context.Context, providerCode, callerID string, req *models.CompletionRequest, requestID string) (*models.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, models.NewValidationError("messages must not be empty", nil)
	}

	provider, err := s.credStore.GetProviderByCode(ctx, providerCode)
	if err != nil {
		return nil, err
	}

	if breaker := s.breakers[provider.Code]; breaker != nil && !breaker.CanExecute() {
		fiberlog.Warnf("[%s] circuit open for provider %s, refusing call", requestID, provider.Code)
		return nil, models.NewTransientError(provider.Code, nil)
	}

	group, err := s.groupStore.GetActiveByProvider(ctx, provider.ID)
	if err != nil {
		return nil, err
	}
	if group != nil {
		return s.completeViaGroup(ctx, provider, group, callerID, req, requestID)
	}
	return s.completeViaCredential(ctx, provider, callerID, req, requestID)
}

func (s *Service) completeViaCredential(ctx context.Context, provider *models.Provider, callerID string, req *models.CompletionRequest, requestID string) (*models.CompletionResponse, error) {
	cred, err := s.selector.Select(ctx, provider, requestID)
	if err != nil {
		return nil, err
	}

	// The lease holds the credential from use through accounting so two
	// in-process requests cannot interleave their read-modify-write.
	release := s.leases.Acquire(cred.ID)
	defer release()

	secret, err := s.codec.Decrypt(cred.EncryptedSecret)
	if err != nil {
		fiberlog.Errorf("[%s] credential %d has undecryptable secret", requestID, cred.ID)
		return nil, models.NewDecryptionError(err)
	}

	client, err := s.clientFor(provider, cred, secret)
	if err != nil {
		return nil, err
	}

	if err := s.credStore.TouchLastUsed(ctx, cred.ID, time.Now()); err != nil {
		fiberlog.Warnf("[%s] failed to stamp credential %d: %v", requestID, cred.ID, err)
	}

	start := time.Now()
	var resp *models.CompletionResponse
	callErr := s.executor.Run(ctx, func(ctx context.Context) error {
		var attemptErr error
		resp, attemptErr = client.Complete(ctx, req, requestID)
		return attemptErr
	}, requestID)
	latency := time.Since(start)

	breaker := s.breakers[provider.Code]
	if callErr != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		if err := s.accountant.RecordFailure(ctx, cred, callErr.Error()); err != nil {
			fiberlog.Errorf("[%s] failed to account failure on credential %d: %v", requestID, cred.ID, err)
		}
		s.submitUsage(provider.Code, cred.ID, callerID, req.Model, requestID, nil, latency, callErr)
		return nil, models.SanitizeError(callErr)
	}

	if breaker != nil {
		breaker.RecordSuccess()
	}
	if err := s.accountant.RecordSuccess(ctx, cred, resp.Usage.TotalTokens); err != nil {
		fiberlog.Errorf("[%s] failed to account success on credential %d: %v", requestID, cred.ID, err)
	}
	s.submitUsage(provider.Code, cred.ID, callerID, resp.Model, requestID, resp, latency, nil)
	return resp, nil
}

func (s *Service) completeViaGroup(ctx context.Context, provider *models.Provider, group *models.KeyGroup, callerID string, req *models.CompletionRequest, requestID string) (*models.CompletionResponse, error) {
	entry, err := s.rotator.Next(ctx, group.ID)
	if err != nil {
		return nil, err
	}

	secret, err := s.codec.Decrypt(entry.EncryptedSecret)
	if err != nil {
		fiberlog.Errorf("[%s] key group %d entry %d has undecryptable secret", requestID, group.ID, entry.Position)
		return nil, models.NewDecryptionError(err)
	}

	client, err := s.newClient(provider.Code, providers.ClientConfig{
		APIKey:    secret,
		BaseURL:   provider.BaseURL,
		TimeoutMs: s.cfg.Retry.TimeoutMs,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var resp *models.CompletionResponse
	callErr := s.executor.Run(ctx, func(ctx context.Context) error {
		var attemptErr error
		resp, attemptErr = client.Complete(ctx, req, requestID)
		return attemptErr
	}, requestID)
	latency := time.Since(start)

	breaker := s.breakers[provider.Code]
	if callErr != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		status := 0
		var gwErr *models.GatewayError
		if errors.As(callErr, &gwErr) {
			status = gwErr.StatusCode
		}
		if err := s.rotator.ReportError(ctx, group.ID, entry.Position, callErr.Error(), status); err != nil {
			fiberlog.Errorf("[%s] failed to report error on key group %d: %v", requestID, group.ID, err)
		}
		s.submitUsage(provider.Code, 0, callerID, req.Model, requestID, nil, latency, callErr)
		return nil, models.SanitizeError(callErr)
	}

	if breaker != nil {
		breaker.RecordSuccess()
	}
	if err := s.rotator.ReportSuccess(ctx, group.ID, entry.Position); err != nil {
		fiberlog.Errorf("[%s] failed to report success on key group %d: %v", requestID, group.ID, err)
	}
	s.submitUsage(provider.Code, 0, callerID, resp.Model, requestID, resp, latency, nil)
	return resp, nil
}

// clientFor returns the cached vendor client for a credential, keyed by the
// secret hash so a rotated secret naturally misses the old entry.
func (s *Service) clientFor(provider *models.Provider, cred *models.Credential, secret string) (providers.Client, error) {
	baseURL := provider.BaseURL
	if cred.BaseURLOverride != "" {
		baseURL = cred.BaseURLOverride
	}

	secretHash := sha256.Sum256([]byte(secret))
	key := fmt.Sprintf("%s:%d:%x", provider.Code, cred.ID, secretHash[:8])

	client, err := s.clientCache.GetOrCreate(key, func() (providers.Client, error) {
		fiberlog.Debugf("building %s client for credential %d", provider.Code, cred.ID)
		return s.newClient(provider.Code, providers.ClientConfig{
			APIKey:    secret,
			BaseURL:   baseURL,
			TimeoutMs: s.cfg.Retry.TimeoutMs,
		})
	})
	if err != nil {
		return nil, err
	}

	s.rememberCacheKey(cred.ID, key)
	return client, nil
}

func (s *Service) rememberCacheKey(credentialID uint, key string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if old, ok := s.cacheKeys[credentialID]; ok && old != key {
		s.clientCache.Delete(old)
	}
	s.cacheKeys[credentialID] = key
}

// InvalidateCredential evicts the cached client after an admin update or
// delete so the next call rebuilds against the fresh secret.
func (s *Service) InvalidateCredential(credentialID uint) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if key, ok := s.cacheKeys[credentialID]; ok {
		s.clientCache.Delete(key)
		delete(s.cacheKeys, credentialID)
	}
}

// ListAvailable reports active providers with their active credential count.
func (s *Service) ListAvailable(ctx context.Context) ([]models.ProviderSummary, error) {
	return s.credStore.ListProviderSummaries(ctx)
}

// TestCredential decrypts a credential's secret and probes the vendor with
// it, without spending a completion.
func (s *Service) TestCredential(ctx context.Context, credentialID uint) error {
	cred, err := s.credStore.GetByID(ctx, credentialID)
	if err != nil {
		return err
	}
	provider := &cred.Provider

	secret, err := s.codec.Decrypt(cred.EncryptedSecret)
	if err != nil {
		return models.NewDecryptionError(err)
	}

	client, err := s.clientFor(provider, cred, secret)
	if err != nil {
		return err
	}
	return client.Validate(ctx)
}

func (s *Service) submitUsage(providerCode string, credentialID uint, callerID, model, requestID string, resp *models.CompletionResponse, latency time.Duration, callErr error) {
	if s.usage == nil {
		return
	}

	record := &models.UsageRecord{
		RequestID:    requestID,
		ProviderCode: providerCode,
		CredentialID: credentialID,
		CallerID:     callerID,
		Model:        model,
		LatencyMs:    latency.Milliseconds(),
	}

	if callErr == nil {
		record.Outcome = models.OutcomeSuccess
		if resp != nil {
			record.PromptTokens = resp.Usage.PromptTokens
			record.CompletionTokens = resp.Usage.CompletionTokens
			record.TotalTokens = resp.Usage.TotalTokens
		}
	} else {
		record.Outcome = models.OutcomeTerminalError
		var gwErr *models.GatewayError
		if errors.As(callErr, &gwErr) {
			record.ErrorKind = string(gwErr.Kind)
			if gwErr.Retryable {
				record.Outcome = models.OutcomeRetryableError
			}
		}
	}

	s.usage.Submit(record)
}
