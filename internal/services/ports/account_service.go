package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/brindlepay/subscription-service/internal/auth"
	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/services/account"
)

// AccountService manages merchant identity, API keys and the webhook
// endpoint.
type AccountService interface {
	// Authenticate resolves a CDP token to its account, creating the
	// account on first sign-in.
	Authenticate(ctx context.Context, token string) (*domain.Account, error)

	// ValidateToken checks a CDP token without touching storage.
	ValidateToken(token string) (*auth.CDPIdentity, error)

	// AuthenticateKey resolves a presented API key to its account.
	AuthenticateKey(ctx context.Context, presented string) (*domain.Account, error)

	// CreateAPIKey issues a key; the full secret is in the result one time.
	CreateAPIKey(ctx context.Context, accountID int64, name string) (*account.CreateAPIKeyResult, error)

	ListAPIKeys(ctx context.Context, accountID int64) ([]domain.APIKey, error)
	UpdateAPIKey(ctx context.Context, accountID int64, params account.UpdateAPIKeyParams) (*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, accountID int64, keyID uuid.UUID) error

	// CreateWebhook installs the delivery endpoint; the signing secret is
	// in the result one time.
	CreateWebhook(ctx context.Context, accountID int64, rawURL string) (*account.WebhookResult, error)

	GetWebhook(ctx context.Context, accountID int64) (*domain.Webhook, error)
	UpdateWebhookURL(ctx context.Context, accountID int64, rawURL string) error
	RotateWebhookSecret(ctx context.Context, accountID int64) (string, error)
	DeleteWebhook(ctx context.Context, accountID int64) error
}

var _ AccountService = (*account.Service)(nil)
