// Package account manages merchant identity: first-auth account creation
// from CDP sign-ins, API key lifecycle, and webhook endpoint management.
package account

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brindlepay/subscription-service/internal/auth"
	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/pkg/timeutil"
)

var (
	apiKeysCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "api_keys_created_total",
		Help: "API keys issued to merchants",
	})

	webhooksInstalled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_endpoints_created_total",
		Help: "Webhook endpoints installed",
	})

	webhookRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_secret_rotations_total",
		Help: "Webhook signing secrets rotated",
	})
)

// Service implements account, API key and webhook endpoint operations.
type Service struct {
	accounts  ports.AccountStore
	validator *auth.CDPValidator
	logger    ports.Logger

	// requireHTTPS rejects plain-http webhook URLs; off in development so
	// local receivers work.
	requireHTTPS bool
}

func NewService(accounts ports.AccountStore, validator *auth.CDPValidator, logger ports.Logger, requireHTTPS bool) *Service {
	return &Service{
		accounts:     accounts,
		validator:    validator,
		logger:       logger,
		requireHTTPS: requireHTTPS,
	}
}

// Authenticate validates a CDP token and returns the merchant account,
// creating it on first sign-in. The wallet address in the token is the
// account identity.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.Account, error) {
	identity, err := s.validator.Validate(token)
	if err != nil {
		return nil, err
	}
	if identity.Address == nil {
		return nil, domain.NewPaymentError(domain.ErrorCodeInvalidRequest,
			"Token does not identify a wallet address")
	}

	account, err := s.accounts.UpsertAccount(ctx, ports.UpsertAccountParams{
		CDPUserID: identity.CDPUserID,
		Address:   *identity.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}

	s.logger.Info("Merchant authenticated",
		ports.Int64("account_id", account.ID),
		ports.String("address", account.Address.Hex()),
	)
	return account, nil
}

// ValidateToken checks a CDP token without touching storage.
func (s *Service) ValidateToken(token string) (*auth.CDPIdentity, error) {
	return s.validator.Validate(token)
}

// AuthenticateKey resolves a presented API key to its account. Unknown,
// malformed and disabled keys all answer the same 401 so the response does
// not distinguish them.
func (s *Service) AuthenticateKey(ctx context.Context, presented string) (*domain.Account, error) {
	if !auth.ValidKeyFormat(presented) {
		return nil, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Invalid API key")
	}

	key, err := s.accounts.GetAPIKeyByHash(ctx, auth.HashKey(presented))
	if err != nil {
		if ports.IsNotFound(err) {
			return nil, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Invalid API key")
		}
		return nil, fmt.Errorf("look up API key: %w", err)
	}
	if !key.Enabled {
		return nil, domain.NewPaymentError(domain.ErrorCodeInvalidAPIKey, "Invalid API key")
	}

	if err := s.accounts.TouchAPIKey(ctx, key.ID); err != nil {
		s.logger.Warn("Failed to stamp API key use",
			ports.String("key_id", key.ID.String()),
			ports.Err(err),
		)
	}

	account, err := s.accounts.GetAccountByID(ctx, key.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}

// CreateAPIKeyResult pairs the stored key row with the full secret, which is
// returned to the merchant exactly once.
type CreateAPIKeyResult struct {
	Key    *domain.APIKey
	Secret string
}

func (s *Service) CreateAPIKey(ctx context.Context, accountID int64, name string) (*CreateAPIKeyResult, error) {
	name = strings.TrimSpace(name)
	if len(name) > auth.NameMaxLength {
		return nil, domain.NewPaymentError(domain.ErrorCodeInvalidRequest,
			fmt.Sprintf("name must be at most %d characters", auth.NameMaxLength))
	}

	generated, err := auth.NewKey()
	if err != nil {
		return nil, fmt.Errorf("generate API key: %w", err)
	}

	key := &domain.APIKey{
		CreatedAt: timeutil.Now(),
		KeyHash:   generated.Hash,
		Name:      name,
		Prefix:    auth.KeyPrefix,
		Start:     generated.Start,
		ID:        uuid.New(),
		AccountID: accountID,
		Enabled:   true,
	}
	if err := s.accounts.InsertAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("insert API key: %w", err)
	}

	s.logger.Info("API key created",
		ports.Int64("account_id", accountID),
		ports.String("key_id", key.ID.String()),
		ports.String("start", key.Start),
	)
	apiKeysCreated.Inc()

	return &CreateAPIKeyResult{Key: key, Secret: generated.Key}, nil
}

func (s *Service) ListAPIKeys(ctx context.Context, accountID int64) ([]domain.APIKey, error) {
	keys, err := s.accounts.ListAPIKeys(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list API keys: %w", err)
	}
	return keys, nil
}

// UpdateAPIKeyParams renames or toggles one of the account's keys. Nil
// fields keep their stored value.
type UpdateAPIKeyParams struct {
	Name    *string
	Enabled *bool
	KeyID   uuid.UUID
}

func (s *Service) UpdateAPIKey(ctx context.Context, accountID int64, params UpdateAPIKeyParams) (*domain.APIKey, error) {
	if params.Name != nil {
		trimmed := strings.TrimSpace(*params.Name)
		if len(trimmed) > auth.NameMaxLength {
			return nil, domain.NewPaymentError(domain.ErrorCodeInvalidRequest,
				fmt.Sprintf("name must be at most %d characters", auth.NameMaxLength))
		}
		params.Name = &trimmed
	}

	key, err := s.accounts.UpdateAPIKey(ctx, ports.UpdateAPIKeyParams{
		Name:      params.Name,
		Enabled:   params.Enabled,
		KeyID:     params.KeyID,
		AccountID: accountID,
	})
	if err != nil {
		if ports.IsNotFound(err) {
			return nil, domain.NewPaymentError(domain.ErrorCodeNotFound, "API key not found")
		}
		return nil, fmt.Errorf("update API key: %w", err)
	}
	return key, nil
}

func (s *Service) DeleteAPIKey(ctx context.Context, accountID int64, keyID uuid.UUID) error {
	if err := s.accounts.DeleteAPIKey(ctx, accountID, keyID); err != nil {
		if ports.IsNotFound(err) {
			return domain.NewPaymentError(domain.ErrorCodeNotFound, "API key not found")
		}
		return fmt.Errorf("delete API key: %w", err)
	}

	s.logger.Info("API key deleted",
		ports.Int64("account_id", accountID),
		ports.String("key_id", keyID.String()),
	)
	return nil
}

// WebhookResult pairs the stored endpoint with the signing secret, returned
// one time only at creation and rotation.
type WebhookResult struct {
	Webhook *domain.Webhook
	Secret  string
}

// CreateWebhook installs the account's delivery endpoint. One endpoint per
// account; a live one must be deleted or updated, not re-created.
func (s *Service) CreateWebhook(ctx context.Context, accountID int64, rawURL string) (*WebhookResult, error) {
	if err := s.validateWebhookURL(rawURL); err != nil {
		return nil, err
	}

	_, err := s.accounts.GetWebhook(ctx, accountID)
	switch {
	case err == nil:
		return nil, domain.NewPaymentError(domain.ErrorCodeInvalidRequest,
			"A webhook endpoint already exists; update or rotate it instead")
	case !ports.IsNotFound(err):
		return nil, fmt.Errorf("check webhook exists: %w", err)
	}

	secret, err := auth.NewWebhookSecret()
	if err != nil {
		return nil, fmt.Errorf("generate webhook secret: %w", err)
	}

	webhook := &domain.Webhook{
		CreatedAt: timeutil.Now(),
		URL:       rawURL,
		Secret:    secret,
		AccountID: accountID,
		Enabled:   true,
	}
	if err := s.accounts.PutWebhook(ctx, webhook); err != nil {
		return nil, fmt.Errorf("install webhook: %w", err)
	}

	s.logger.Info("Webhook endpoint installed",
		ports.Int64("account_id", accountID),
		ports.String("url", rawURL),
	)
	webhooksInstalled.Inc()

	return &WebhookResult{Webhook: webhook, Secret: secret}, nil
}

func (s *Service) GetWebhook(ctx context.Context, accountID int64) (*domain.Webhook, error) {
	webhook, err := s.accounts.GetWebhook(ctx, accountID)
	if err != nil {
		if ports.IsNotFound(err) {
			return nil, domain.NewPaymentError(domain.ErrorCodeNotFound,
				"No webhook endpoint configured")
		}
		return nil, fmt.Errorf("load webhook: %w", err)
	}
	return webhook, nil
}

func (s *Service) UpdateWebhookURL(ctx context.Context, accountID int64, rawURL string) error {
	if err := s.validateWebhookURL(rawURL); err != nil {
		return err
	}
	if err := s.accounts.UpdateWebhookURL(ctx, accountID, rawURL); err != nil {
		if ports.IsNotFound(err) {
			return domain.NewPaymentError(domain.ErrorCodeNotFound,
				"No webhook endpoint configured")
		}
		return fmt.Errorf("update webhook url: %w", err)
	}

	s.logger.Info("Webhook URL updated",
		ports.Int64("account_id", accountID),
		ports.String("url", rawURL),
	)
	return nil
}

// RotateWebhookSecret replaces the signing secret and returns the new one.
// Deliveries already enqueued were signed with the old secret and will fail
// verification; merchants rotate during a quiet window.
func (s *Service) RotateWebhookSecret(ctx context.Context, accountID int64) (string, error) {
	secret, err := auth.NewWebhookSecret()
	if err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	if err := s.accounts.RotateWebhookSecret(ctx, accountID, secret); err != nil {
		if ports.IsNotFound(err) {
			return "", domain.NewPaymentError(domain.ErrorCodeNotFound,
				"No webhook endpoint configured")
		}
		return "", fmt.Errorf("rotate webhook secret: %w", err)
	}

	s.logger.Info("Webhook secret rotated", ports.Int64("account_id", accountID))
	webhookRotations.Inc()
	return secret, nil
}

func (s *Service) DeleteWebhook(ctx context.Context, accountID int64) error {
	if err := s.accounts.DeleteWebhook(ctx, accountID); err != nil {
		if ports.IsNotFound(err) {
			return domain.NewPaymentError(domain.ErrorCodeNotFound,
				"No webhook endpoint configured")
		}
		return fmt.Errorf("delete webhook: %w", err)
	}

	s.logger.Info("Webhook endpoint deleted", ports.Int64("account_id", accountID))
	return nil
}

func (s *Service) validateWebhookURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return domain.NewPaymentError(domain.ErrorCodeInvalidFormat,
			"url must be a valid absolute URL")
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if s.requireHTTPS {
			return domain.NewPaymentError(domain.ErrorCodeInvalidRequest,
				"url must use https")
		}
		return nil
	default:
		return domain.NewPaymentError(domain.ErrorCodeInvalidFormat,
			"url must be http or https")
	}
}
